// Package storage persists collection metadata (document versions and chunks) and the
// anonymized escalation statistics in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/lumimind/internal/models"
)

// ErrNotFound is returned when a document or chunk does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines document-version and chunk persistence for one collection.
type Storage interface {
	// RecordVersion inserts doc as the next version of doc.ID and stamps SupersededAt on the
	// previous current version. doc.Version and doc.IngestedAt are set.
	RecordVersion(ctx context.Context, doc *models.Document) error
	// SupersedeDocument retires the current version without a replacement.
	SupersedeDocument(ctx context.Context, id string, at time.Time) error
	CurrentDocument(ctx context.Context, id string) (*models.Document, error)
	CurrentDocuments(ctx context.Context, ids []string) (map[string]*models.Document, error)
	DocumentVersions(ctx context.Context, id string) ([]*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	// InsertChunk stores chunk and assigns chunk.Seq.
	InsertChunk(ctx context.Context, chunk *models.Chunk) error
	GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	ChunksByDocument(ctx context.Context, docID string) ([]*models.Chunk, error)
	DeleteChunks(ctx context.Context, ids []string) error
	// ChunkIDs returns every chunk ID in Seq order.
	ChunkIDs(ctx context.Context) ([]string, error)

	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}

// openSQLite opens or creates a SQLite database at dbPath in WAL mode. Parent directories are
// created if they do not exist.
func openSQLite(dbPath, schema string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}
