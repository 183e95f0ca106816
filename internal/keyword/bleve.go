package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

type chunkDoc struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// The CJK analyzer lowercases Latin words and emits Han bigrams, so mixed English and
	// Chinese corpora both match without stemming.
	textFieldMapping.Analyzer = cjk.AnalyzerName
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	keywordFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("document_id", keywordFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = cjk.AnalyzerName
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is reopened so the
// lexical side survives restarts alongside the vector file.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds or replaces entries in one batch.
func (b *BleveIndex) Index(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, e := range entries {
		if err := batch.Index(e.ChunkID, chunkDoc{DocumentID: e.DocumentID, Title: e.Title, Content: e.Content}); err != nil {
			return fmt.Errorf("batch index %s: %w", e.ChunkID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search returns up to limit chunks ranked by BM25.
// With opts.TitleBoost > 1, separate title and content queries are merged additively and
// documents matching only some query terms are penalized by (matched/total)^2.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	titleBoost := 1.0
	fuzziness := 0
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		fuzziness = opts.Fuzziness
	}
	if titleBoost <= 1.0 {
		return b.searchSingle(ctx, query, limit, fuzziness)
	}
	return b.searchWithBoost(ctx, query, limit, titleBoost, fuzziness)
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int) (map[string]float64, []string, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	scores := make(map[string]float64, len(results.Hits))
	order := make([]string, 0, len(results.Hits))
	for _, hit := range results.Hits {
		scores[hit.ID] = hit.Score
		order = append(order, hit.ID)
	}
	return scores, order, nil
}

func (b *BleveIndex) searchSingle(ctx context.Context, query string, limit, fuzziness int) ([]*KeywordResult, error) {
	scores, order, err := b.run(ctx, buildQuery(query, fuzziness, ""), limit)
	if err != nil {
		return nil, err
	}
	out := make([]*KeywordResult, len(order))
	for i, id := range order {
		out[i] = &KeywordResult{ID: id, Score: scores[id]}
	}
	return out, nil
}

func (b *BleveIndex) searchWithBoost(ctx context.Context, query string, limit int, titleBoost float64, fuzziness int) ([]*KeywordResult, error) {
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	titleScores, _, err := b.run(ctx, buildQuery(query, fuzziness, "title"), reqSize)
	if err != nil {
		return nil, err
	}
	contentScores, _, err := b.run(ctx, buildQuery(query, fuzziness, "content"), reqSize)
	if err != nil {
		return nil, err
	}

	terms := tokenizeQuery(query)
	coverage := make(map[string]int)
	if len(terms) > 1 {
		for _, term := range terms {
			hits, _, err := b.run(ctx, buildQuery(term, fuzziness, ""), reqSize)
			if err != nil {
				continue
			}
			for id := range hits {
				coverage[id]++
			}
		}
	}

	merged := make([]*KeywordResult, 0, len(titleScores)+len(contentScores))
	seen := make(map[string]bool)
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		score := titleScores[id]*titleBoost + contentScores[id]
		if len(terms) > 1 {
			matched := coverage[id]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(len(terms))
			score *= c * c
		}
		merged = append(merged, &KeywordResult{ID: id, Score: score})
	}
	for id := range titleScores {
		add(id)
	}
	for id := range contentScores {
		add(id)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// tokenizeQuery splits query into lowercase whitespace-separated terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries when fuzziness > 0.
// An empty field searches all fields.
func buildQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if fuzziness <= 0 || len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes chunks from the index in one batch.
func (b *BleveIndex) Delete(ctx context.Context, chunkIDs ...string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
