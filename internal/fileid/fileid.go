// Package fileid derives deterministic identifiers for corpus documents and chunks.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const (
	docPrefix = "doc:"
	// chunkHashLen is how many hex characters of the content hash go into a chunk ID.
	chunkHashLen = 16
)

// DocID returns a stable document ID for a source file within a collection.
// The same file in two collections gets two IDs.
func DocID(collection, absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(collection + "\x00" + normalized))
	return docPrefix + hex.EncodeToString(hash[:])
}

// ContentHash returns the hex SHA-256 of text.
func ContentHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

// ChunkID derives a chunk ID from its document and content hash, so identical text from
// the same source always maps to the same chunk.
func ChunkID(docID, contentHash string) string {
	h := contentHash
	if len(h) > chunkHashLen {
		h = h[:chunkHashLen]
	}
	return docID + ":" + h
}
