// Package vector provides the per-collection vector index and its on-disk format.
package vector

import (
	"context"
	"errors"
)

// ErrCorrupt is wrapped by every Load failure caused by the file contents rather than I/O.
var ErrCorrupt = errors.New("vector index corrupt")

// Metric selects how vectors are compared.
type Metric string

const (
	Cosine       Metric = "cosine"
	InnerProduct Metric = "inner_product"
)

// VectorIndex defines vector storage and similarity search.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	// Save writes the index to path and returns the CRC32 (IEEE) of the written file.
	Save(path string) (uint32, error)
	// Load replaces the contents from path after verifying the checksum.
	Load(path string, checksum uint32) error
	Size() int
	Dimensions() int
	Close() error
}

// VectorResult is a single vector search hit; ID is the chunk ID.
type VectorResult struct {
	ID    string
	Score float64
}
