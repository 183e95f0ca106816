// Package kb manages the per-domain knowledge collections: creation and verification on load,
// incremental ingestion, vector and lexical queries.
package kb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/corpus"
	"github.com/hyperjump/lumimind/internal/embedding"
	"github.com/hyperjump/lumimind/internal/fileid"
	"github.com/hyperjump/lumimind/internal/keyword"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/storage"
)

var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// IngestFailure identifies the chunk whose embedding stopped an ingest call.
type IngestFailure struct {
	DocumentID string `json:"document_id"`
	SourcePath string `json:"source_path"`
	ChunkIndex int    `json:"chunk_index"`
	Reason     string `json:"reason"`
}

// IngestReport summarizes one Ingest call. A non-nil Failed means ingestion stopped early;
// everything counted in Added was persisted.
type IngestReport struct {
	Collection string         `json:"collection"`
	Added      int            `json:"added"`
	Skipped    int            `json:"skipped"`
	Removed    int            `json:"removed"`
	Documents  int            `json:"documents"`
	Failed     *IngestFailure `json:"failed,omitempty"`
}

// CollectionStats describes a collection for status output.
type CollectionStats struct {
	Name      string                 `json:"name"`
	Embedding models.EmbeddingConfig `json:"embedding"`
	Documents int64                  `json:"documents"`
	Chunks    int64                  `json:"chunks"`
	Vectors   int                    `json:"vectors"`
	DiskBytes int64                  `json:"disk_bytes"`
	UpdatedAt time.Time              `json:"updated_at"`
	// Broken holds the integrity error of a collection that refused to load.
	Broken string `json:"broken,omitempty"`
}

// Manager owns every collection under dataDir. Its mutex guards only the name→collection map;
// each collection has its own RWMutex.
type Manager struct {
	dataDir  string
	embedder embedding.Embedder
	metric   models.SimilarityMetric
	logger   *zap.Logger

	mu          sync.Mutex
	collections map[string]*Collection
	broken      map[string]error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for ingestion and integrity events.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetric sets the metric used when Reset recreates a collection without a known config.
func WithMetric(metric models.SimilarityMetric) Option {
	return func(m *Manager) { m.metric = metric }
}

// NewManager creates a manager rooted at dataDir. embedder serves both ingestion and queries.
func NewManager(dataDir string, embedder embedding.Embedder, opts ...Option) *Manager {
	m := &Manager{
		dataDir:     dataDir,
		embedder:    embedder,
		metric:      models.MetricCosine,
		collections: make(map[string]*Collection),
		broken:      make(map[string]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOrLoad returns the named collection, loading and verifying it from disk or creating it
// empty. A collection that fails verification is remembered as broken and every later call
// returns the same *models.IndexCorruptError until Reset.
func (m *Manager) CreateOrLoad(ctx context.Context, name string, cfg models.EmbeddingConfig) (*Collection, error) {
	if !collectionNameRe.MatchString(name) {
		return nil, &models.ValidationError{Field: "collection", Reason: fmt.Sprintf("invalid name %q", name)}
	}
	if cfg.Dimensions <= 0 {
		return nil, &models.ValidationError{Field: "embedding.dimensions", Reason: "must be positive"}
	}
	if cfg.Metric == "" {
		cfg.Metric = m.metric
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.broken[name]; ok {
		return nil, err
	}
	if c, ok := m.collections[name]; ok {
		if c.config != cfg {
			return nil, &models.EmbeddingMismatchError{Collection: name, Want: c.config, Got: cfg}
		}
		return c, nil
	}

	p := pathsFor(m.dataDir, name)
	var (
		c   *Collection
		err error
	)
	if _, statErr := os.Stat(p.manifest); statErr == nil {
		c, err = openCollection(ctx, name, p, cfg)
	} else {
		c, err = createCollection(name, p, cfg)
	}
	if err != nil {
		if errors.Is(err, models.ErrIndexCorrupt) {
			m.broken[name] = err
			if m.logger != nil {
				m.logger.Error("collection failed integrity check", zap.String("collection", name), zap.Error(err))
			}
		}
		return nil, err
	}
	m.collections[name] = c
	if m.logger != nil {
		m.logger.Info("collection ready", zap.String("collection", name), zap.Int("vectors", c.vectors.Size()))
	}
	return c, nil
}

func (m *Manager) get(name string) (*Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.broken[name]; ok {
		return nil, err
	}
	c, ok := m.collections[name]
	if !ok {
		return nil, &models.ValidationError{Field: "collection", Reason: fmt.Sprintf("unknown collection %q", name)}
	}
	return c, nil
}

func (m *Manager) checkEmbedder(c *Collection) error {
	got := models.EmbeddingConfig{Model: m.embedder.Model(), Dimensions: m.embedder.Dimensions(), Metric: c.config.Metric}
	if got != c.config {
		return &models.EmbeddingMismatchError{Collection: c.name, Want: c.config, Got: got}
	}
	return nil
}

// Ingest adds documents to the named collection under its write lock. Unchanged documents are
// skipped, chunks whose text disappeared are removed, and only new chunks are embedded, one at
// a time. The first embedding failure stops the call with a partial report; the index is saved
// either way.
func (m *Manager) Ingest(ctx context.Context, name string, docs []corpus.LoadedDocument) (IngestReport, error) {
	report := IngestReport{Collection: name}
	c, err := m.get(name)
	if err != nil {
		return report, err
	}
	if err := m.checkEmbedder(c); err != nil {
		return report, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var runErr error
	for _, doc := range docs {
		stop, err := m.ingestDocument(ctx, c, doc, &report)
		if err != nil {
			runErr = err
			break
		}
		if stop {
			break
		}
	}

	if err := c.save(); err != nil {
		return report, errors.Join(runErr, err)
	}
	if m.logger != nil {
		fields := []zap.Field{
			zap.String("collection", name),
			zap.Int("added", report.Added),
			zap.Int("skipped", report.Skipped),
			zap.Int("removed", report.Removed),
		}
		if report.Failed != nil {
			m.logger.Warn("ingest stopped at embedding failure", append(fields,
				zap.String("document_id", report.Failed.DocumentID),
				zap.Int("chunk_index", report.Failed.ChunkIndex),
				zap.String("reason", report.Failed.Reason))...)
		} else {
			m.logger.Info("ingest complete", fields...)
		}
	}
	return report, runErr
}

// ingestDocument applies one document. stop reports an embedding failure recorded in report.
func (m *Manager) ingestDocument(ctx context.Context, c *Collection, ld corpus.LoadedDocument, report *IngestReport) (stop bool, err error) {
	doc := ld.Document
	if doc.Collection != "" && doc.Collection != c.name {
		return false, &models.ValidationError{Field: "document.collection",
			Reason: fmt.Sprintf("document %s belongs to %q, not %q", doc.ID, doc.Collection, c.name)}
	}
	doc.Collection = c.name

	existing, err := c.store.ChunksByDocument(ctx, doc.ID)
	if err != nil {
		return false, fmt.Errorf("read chunks of %s: %w", doc.ID, err)
	}
	have := make(map[string]string, len(existing))
	for _, ch := range existing {
		have[ch.ContentHash] = ch.ID
	}
	want := make(map[string]bool, len(ld.Chunks))
	for _, ch := range ld.Chunks {
		want[ch.ContentHash] = true
	}

	current, err := c.store.CurrentDocument(ctx, doc.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("read document %s: %w", doc.ID, err)
	}
	if current != nil && current.ContentHash == doc.ContentHash && sameKeys(have, want) {
		report.Skipped += len(ld.Chunks)
		return false, nil
	}
	report.Documents++

	var gone []string
	for hash, id := range have {
		if !want[hash] {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	if err := c.removeChunks(ctx, gone); err != nil {
		return false, err
	}
	report.Removed += len(gone)

	if current == nil || current.ContentHash != doc.ContentHash {
		if err := c.store.RecordVersion(ctx, &doc); err != nil {
			return false, fmt.Errorf("record version of %s: %w", doc.ID, err)
		}
	}

	for i := range ld.Chunks {
		ch := ld.Chunks[i]
		if _, ok := have[ch.ContentHash]; ok {
			report.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		vec, err := m.embedder.Embed(ctx, ch.Content)
		if err == nil && len(vec) != c.config.Dimensions {
			err = fmt.Errorf("embedding has %d dimensions, collection expects %d", len(vec), c.config.Dimensions)
		}
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			report.Failed = &IngestFailure{DocumentID: doc.ID, SourcePath: doc.SourcePath, ChunkIndex: ch.Index, Reason: err.Error()}
			return true, nil
		}

		ch.DocumentID = doc.ID
		ch.Collection = c.name
		if ch.ID == "" {
			ch.ID = fileid.ChunkID(doc.ID, ch.ContentHash)
		}
		if err := c.store.InsertChunk(ctx, &ch); err != nil {
			return false, err
		}
		if err := c.vectors.Add(ctx, []string{ch.ID}, [][]float32{vec}); err != nil {
			return false, fmt.Errorf("add vector %s: %w", ch.ID, err)
		}
		if err := c.lexical.Index(ctx, keyword.Entry{ChunkID: ch.ID, DocumentID: doc.ID, Title: doc.Title, Content: ch.Content}); err != nil {
			return false, err
		}
		report.Added++
		have[ch.ContentHash] = ch.ID
	}
	return false, nil
}

func sameKeys(a map[string]string, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// Query embeds text and returns up to topK hits ordered by descending score, ties broken by
// ingestion order. An empty collection answers without calling the embedder.
func (m *Manager) Query(ctx context.Context, name, text string, topK int) (models.RetrievalResult, error) {
	result := models.RetrievalResult{Collection: name, Query: text, Hits: []models.RetrievalHit{}}
	if topK <= 0 {
		return result, &models.ValidationError{Field: "top_k", Reason: "must be positive"}
	}
	c, err := m.get(name)
	if err != nil {
		return result, err
	}

	c.mu.RLock()
	empty := c.vectors.Size() == 0
	c.mu.RUnlock()
	if empty {
		return result, nil
	}
	if err := m.checkEmbedder(c); err != nil {
		return result, err
	}

	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return result, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != c.config.Dimensions {
		return result, &models.EmbeddingMismatchError{Collection: name, Want: c.config,
			Got: models.EmbeddingConfig{Model: m.embedder.Model(), Dimensions: len(vec), Metric: c.config.Metric}}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	found, err := c.vectors.Search(ctx, vec, topK)
	if err != nil {
		return result, fmt.Errorf("vector search: %w", err)
	}
	scores := make([]scoredID, len(found))
	for i, r := range found {
		scores[i] = scoredID{id: r.ID, score: r.Score}
	}
	hits, err := c.hydrate(ctx, scores)
	if err != nil {
		return result, err
	}
	result.Hits = hits
	return result, nil
}

// LexicalQuery ranks chunks by BM25 over the collection's lexical index. Scores are raw BM25
// values, not comparable with Query scores.
func (m *Manager) LexicalQuery(ctx context.Context, name, text string, topK int) (models.RetrievalResult, error) {
	result := models.RetrievalResult{Collection: name, Query: text, Hits: []models.RetrievalHit{}}
	if topK <= 0 {
		return result, &models.ValidationError{Field: "top_k", Reason: "must be positive"}
	}
	c, err := m.get(name)
	if err != nil {
		return result, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	found, err := c.lexical.Search(ctx, text, topK, &keyword.SearchOptions{TitleBoost: 2})
	if err != nil {
		return result, fmt.Errorf("lexical search: %w", err)
	}
	scores := make([]scoredID, len(found))
	for i, r := range found {
		scores[i] = scoredID{id: r.ID, score: r.Score}
	}
	hits, err := c.hydrate(ctx, scores)
	if err != nil {
		return result, err
	}
	result.Hits = hits
	return result, nil
}

type scoredID struct {
	id    string
	score float64
}

// hydrate joins scored chunk IDs with chunk rows and document provenance, then orders by score
// descending and Seq ascending. Caller holds c.mu.
func (c *Collection) hydrate(ctx context.Context, scored []scoredID) ([]models.RetrievalHit, error) {
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.id
	}
	chunks, err := c.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	docIDs := make([]string, 0, len(chunks))
	seenDoc := make(map[string]bool)
	for _, ch := range chunks {
		if !seenDoc[ch.DocumentID] {
			seenDoc[ch.DocumentID] = true
			docIDs = append(docIDs, ch.DocumentID)
		}
	}
	docs, err := c.store.CurrentDocuments(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	hits := make([]models.RetrievalHit, 0, len(scored))
	seen := make(map[string]bool, len(scored))
	for _, s := range scored {
		ch, ok := chunks[s.id]
		if !ok || seen[s.id] {
			continue
		}
		seen[s.id] = true
		hit := models.RetrievalHit{Chunk: *ch, Score: s.score, Provenance: models.Provenance{DocumentID: ch.DocumentID}}
		if doc, ok := docs[ch.DocumentID]; ok {
			hit.Provenance = models.Provenance{
				DocumentID: doc.ID,
				SourcePath: doc.SourcePath,
				Title:      doc.Title,
				Version:    doc.Version,
				IngestedAt: doc.IngestedAt,
			}
		}
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Seq < hits[j].Chunk.Seq
	})
	return hits, nil
}

// RemoveDocument drops every chunk of the document loaded from sourcePath and retires its
// current version. It returns the number of chunks removed.
func (m *Manager) RemoveDocument(ctx context.Context, name, sourcePath string) (int, error) {
	c, err := m.get(name)
	if err != nil {
		return 0, err
	}
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	docID := fileid.DocID(name, abs)

	c.mu.Lock()
	defer c.mu.Unlock()
	chunks, err := c.store.ChunksByDocument(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("read chunks of %s: %w", docID, err)
	}
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	if err := c.removeChunks(ctx, ids); err != nil {
		return 0, err
	}
	if err := c.store.SupersedeDocument(ctx, docID, time.Now()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	if err := c.save(); err != nil {
		return 0, err
	}
	if m.logger != nil {
		m.logger.Info("document removed", zap.String("collection", name), zap.String("document_id", docID), zap.Int("chunks", len(ids)))
	}
	return len(ids), nil
}

// Stats reports counts for the named collection. A broken collection reports only its error.
func (m *Manager) Stats(ctx context.Context, name string) (CollectionStats, error) {
	st := CollectionStats{Name: name}
	m.mu.Lock()
	brokenErr, isBroken := m.broken[name]
	c := m.collections[name]
	m.mu.Unlock()
	if isBroken {
		st.Broken = brokenErr.Error()
		return st, nil
	}
	if c == nil {
		return st, &models.ValidationError{Field: "collection", Reason: fmt.Sprintf("unknown collection %q", name)}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	st.Embedding = c.config
	st.Vectors = c.vectors.Size()
	st.UpdatedAt = c.updatedAt
	var err error
	if st.Documents, err = c.store.CountDocuments(ctx); err != nil {
		return st, err
	}
	if st.Chunks, err = c.store.CountChunks(ctx); err != nil {
		return st, err
	}
	if st.DiskBytes, err = storage.DiskUsageBytes(c.paths.dir); err != nil {
		return st, err
	}
	return st, nil
}

// Collections returns the names of loaded and broken collections, sorted.
func (m *Manager) Collections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.collections)+len(m.broken))
	for n := range m.collections {
		names = append(names, n)
	}
	for n := range m.broken {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reset wipes the named collection from disk and recreates it empty, clearing any broken state.
// The new collection takes the embedder's model and dimensions and keeps the previous metric.
func (m *Manager) Reset(ctx context.Context, name string) (*Collection, error) {
	if !collectionNameRe.MatchString(name) {
		return nil, &models.ValidationError{Field: "collection", Reason: fmt.Sprintf("invalid name %q", name)}
	}
	p := pathsFor(m.dataDir, name)
	cfg := embedding.CollectionConfig(m.embedder, m.metric)

	m.mu.Lock()
	if c, ok := m.collections[name]; ok {
		c.mu.Lock()
		cfg.Metric = c.config.Metric
		_ = c.close()
		c.mu.Unlock()
		delete(m.collections, name)
	} else if man, err := readManifest(p.manifest); err == nil && man.Embedding.Metric != "" {
		cfg.Metric = man.Embedding.Metric
	}
	delete(m.broken, name)
	m.mu.Unlock()

	if err := os.RemoveAll(p.dir); err != nil {
		return nil, fmt.Errorf("remove collection %s: %w", name, err)
	}
	if m.logger != nil {
		m.logger.Warn("collection reset", zap.String("collection", name))
	}
	return m.CreateOrLoad(ctx, name, cfg)
}

// Close closes every collection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, c := range m.collections {
		c.mu.Lock()
		errs = append(errs, c.close())
		c.mu.Unlock()
		delete(m.collections, name)
	}
	return errors.Join(errs...)
}
