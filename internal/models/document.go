// Package models defines core data structures for documents, retrieval, crisis decisions, and sessions.
package models

import "time"

// Domain tags a knowledge document or a session module.
type Domain string

const (
	DomainMentalHealth  Domain = "mental_health"
	DomainCommunication Domain = "communication"
)

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	return d == DomainMentalHealth || d == DomainCommunication
}

// Document is one ingested source file. A document version is never mutated; re-ingesting
// changed content records a new version and stamps SupersededAt on the previous one.
type Document struct {
	ID           string     `json:"id" db:"id"`
	Collection   string     `json:"collection" db:"collection"`
	Domain       Domain     `json:"domain" db:"domain"`
	SourcePath   string     `json:"source_path" db:"source_path"`
	Title        string     `json:"title" db:"title"`
	Content      string     `json:"-" db:"content"`
	ContentHash  string     `json:"content_hash" db:"content_hash"`
	Version      int        `json:"version" db:"version"`
	IngestedAt   time.Time  `json:"ingested_at" db:"ingested_at"`
	SupersededAt *time.Time `json:"superseded_at,omitempty" db:"superseded_at"`
}

// Chunk is a contiguous span of a document's text. ID is derived from the document ID and the
// content hash, so identical text from the same source always maps to the same chunk.
type Chunk struct {
	ID          string    `json:"id" db:"id"`
	DocumentID  string    `json:"document_id" db:"document_id"`
	Collection  string    `json:"collection" db:"collection"`
	Content     string    `json:"content" db:"content"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	Index       int       `json:"index" db:"chunk_index"`
	Seq         int64     `json:"seq" db:"seq"` // ingestion order within the collection
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SimilarityMetric selects how query and chunk vectors are compared.
type SimilarityMetric string

const (
	MetricCosine       SimilarityMetric = "cosine"
	MetricInnerProduct SimilarityMetric = "inner_product"
)

// EmbeddingConfig is fixed per collection and persisted with its index.
type EmbeddingConfig struct {
	Model      string           `json:"model" yaml:"model"`
	Dimensions int              `json:"dimensions" yaml:"dimensions"`
	Metric     SimilarityMetric `json:"metric" yaml:"metric"`
}

// Provenance identifies the document a retrieved chunk came from.
type Provenance struct {
	DocumentID string    `json:"document_id"`
	SourcePath string    `json:"source_path"`
	Title      string    `json:"title"`
	Version    int       `json:"version"`
	IngestedAt time.Time `json:"ingested_at"`
}

// RetrievalHit is one ranked passage.
type RetrievalHit struct {
	Chunk      Chunk      `json:"chunk"`
	Score      float64    `json:"score"`
	Provenance Provenance `json:"provenance"`
}

// RetrievalResult is ordered by descending score with unique chunk IDs, bounded by top-k.
// An empty Hits slice means no grounding is available; it is not an error.
type RetrievalResult struct {
	Collection string         `json:"collection"`
	Query      string         `json:"query"`
	Hits       []RetrievalHit `json:"hits"`
	// Degraded is set when the lexical fallback answered instead of the vector index.
	Degraded bool `json:"degraded,omitempty"`
}

// Empty reports whether the result carries no hits.
func (r RetrievalResult) Empty() bool {
	return len(r.Hits) == 0
}
