// Package keyword provides the BM25 side-index over a collection's chunks.
package keyword

import "context"

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the document title.
	// Values > 1 make title matches rank higher. Use 1.0 for no boost.
	TitleBoost float64
	// Fuzziness enables fuzzy term matching with this Levenshtein distance (1 or 2) when > 0.
	Fuzziness int
}

// Entry is what the index stores for one chunk.
type Entry struct {
	ChunkID    string
	DocumentID string
	Title      string
	Content    string
}

// KeywordIndex defines keyword search operations over chunks.
type KeywordIndex interface {
	Index(ctx context.Context, entries ...Entry) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, chunkIDs ...string) error
	// DocCount returns the number of indexed chunks.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit; ID is the chunk ID.
type KeywordResult struct {
	ID    string
	Score float64
}
