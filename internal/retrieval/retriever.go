// Package retrieval answers domain queries from the matching knowledge collection.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/telemetry"
	"github.com/hyperjump/lumimind/pkg/utils"
)

// DefaultFloor drops hits scoring below it.
const DefaultFloor = 0.25

// Searcher is the subset of the index manager the retriever needs.
type Searcher interface {
	Query(ctx context.Context, collection, text string, topK int) (models.RetrievalResult, error)
	LexicalQuery(ctx context.Context, collection, text string, topK int) (models.RetrievalResult, error)
}

// Retriever maps a domain to its collection and filters results by the similarity floor.
type Retriever struct {
	searcher    Searcher
	collections map[models.Domain]string
	topK        int
	floor       float64
	lexical     bool
	reporter    telemetry.Reporter
	logger      *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a logger for fallback events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithReporter sets the telemetry sink for retrieval quality and degradation.
func WithReporter(rep telemetry.Reporter) Option {
	return func(r *Retriever) { r.reporter = rep }
}

// WithTopK sets the number of hits requested per query.
func WithTopK(k int) Option {
	return func(r *Retriever) { r.topK = k }
}

// WithFloor sets the similarity floor.
func WithFloor(f float64) Option {
	return func(r *Retriever) { r.floor = f }
}

// WithLexicalFallback turns the BM25 fallback on or off.
func WithLexicalFallback(on bool) Option {
	return func(r *Retriever) { r.lexical = on }
}

// New creates a retriever. collections is copied; the mapping is fixed afterwards.
func New(searcher Searcher, collections map[models.Domain]string, opts ...Option) *Retriever {
	r := &Retriever{
		searcher:    searcher,
		collections: make(map[models.Domain]string, len(collections)),
		topK:        4,
		floor:       DefaultFloor,
		lexical:     true,
		reporter:    telemetry.NopReporter{},
	}
	for d, c := range collections {
		r.collections[d] = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Collection returns the collection serving domain.
func (r *Retriever) Collection(domain models.Domain) (string, bool) {
	c, ok := r.collections[domain]
	return c, ok
}

// Retrieve returns passages for query from domain's collection. Hits under the floor are
// dropped; an empty result is not an error. When embedding is unavailable and the lexical
// fallback is on, BM25 results are normalized to [0,1] and marked Degraded.
func (r *Retriever) Retrieve(ctx context.Context, domain models.Domain, query string) (models.RetrievalResult, error) {
	collection, ok := r.collections[domain]
	if !ok {
		return models.RetrievalResult{}, &models.ValidationError{Field: "domain", Reason: fmt.Sprintf("unknown domain %q", domain)}
	}
	start := time.Now()
	res, err := r.searcher.Query(ctx, collection, query, r.topK)
	if err != nil {
		if !r.lexical || !errors.Is(err, models.ErrCapabilityUnavailable) || ctx.Err() != nil {
			return res, err
		}
		if r.logger != nil {
			r.logger.Warn("embedding unavailable, using lexical retrieval", zap.String("collection", collection), zap.Error(err))
		}
		r.reporter.Degradation(ctx, telemetry.DegradationEvent{Capability: "embedding", Reason: err.Error()})
		res, err = r.searcher.LexicalQuery(ctx, collection, query, r.topK)
		if err != nil {
			return res, err
		}
		normalize(res.Hits)
		res.Degraded = true
	}
	res.Hits = applyFloor(res.Hits, r.floor)

	q := Evaluate(res, r.topK)
	r.reporter.Retrieval(ctx, telemetry.RetrievalEvent{
		Collection: collection,
		Hits:       len(res.Hits),
		Degraded:   res.Degraded,
		Latency:    time.Since(start),
		Relevance:  q.Relevance,
		Coverage:   q.Coverage,
		Diversity:  q.Diversity,
	})
	return res, nil
}

func normalize(hits []models.RetrievalHit) {
	scores := make([]float64, len(hits))
	for i, h := range hits {
		scores[i] = h.Score
	}
	norm := utils.MaxNormalize(scores)
	for i := range hits {
		hits[i].Score = norm[i]
	}
}

func applyFloor(hits []models.RetrievalHit, floor float64) []models.RetrievalHit {
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= floor {
			out = append(out, h)
		}
	}
	return out
}
