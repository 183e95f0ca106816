package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/lumimind/internal/models"
)

const collectionSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT NOT NULL,
	version INTEGER NOT NULL,
	collection TEXT NOT NULL,
	domain TEXT NOT NULL,
	source_path TEXT NOT NULL,
	title TEXT,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	ingested_at TIMESTAMP NOT NULL,
	superseded_at TIMESTAMP,
	PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_documents_current ON documents(id) WHERE superseded_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_path);

CREATE TABLE IF NOT EXISTS chunks (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	document_id TEXT NOT NULL,
	collection TEXT NOT NULL,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id, chunk_index);
`

const documentColumns = `id, version, collection, domain, source_path, title, content, content_hash, ingested_at, superseded_at`

const chunkColumns = `seq, id, document_id, collection, content, content_hash, chunk_index, created_at`

// SQLiteStorage implements Storage using SQLite; one database per collection.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates the collection metadata database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openSQLite(dbPath, collectionSchema)
	if err != nil {
		return nil, err
	}
	return &SQLiteStorage{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var domain string
	var title sql.NullString
	var superseded sql.NullTime
	if err := row.Scan(&doc.ID, &doc.Version, &doc.Collection, &domain, &doc.SourcePath, &title,
		&doc.Content, &doc.ContentHash, &doc.IngestedAt, &superseded); err != nil {
		return nil, err
	}
	doc.Domain = models.Domain(domain)
	doc.Title = title.String
	if superseded.Valid {
		t := superseded.Time
		doc.SupersededAt = &t
	}
	return &doc, nil
}

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var c models.Chunk
	if err := row.Scan(&c.Seq, &c.ID, &c.DocumentID, &c.Collection, &c.Content, &c.ContentHash, &c.Index, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// RecordVersion inserts the next version of doc.ID in one transaction.
func (s *SQLiteStorage) RecordVersion(ctx context.Context, doc *models.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM documents WHERE id = ?`, doc.ID).Scan(&latest); err != nil {
		return fmt.Errorf("read latest version: %w", err)
	}
	now := time.Now().UTC()
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = now
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET superseded_at = ? WHERE id = ? AND superseded_at IS NULL`,
		doc.IngestedAt, doc.ID,
	); err != nil {
		return fmt.Errorf("supersede previous version: %w", err)
	}
	doc.Version = int(latest.Int64) + 1
	doc.SupersededAt = nil
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		doc.ID, doc.Version, doc.Collection, string(doc.Domain), doc.SourcePath, doc.Title,
		doc.Content, doc.ContentHash, doc.IngestedAt,
	); err != nil {
		return fmt.Errorf("insert document version: %w", err)
	}
	return tx.Commit()
}

// SupersedeDocument stamps the current version of id as superseded.
func (s *SQLiteStorage) SupersedeDocument(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET superseded_at = ? WHERE id = ? AND superseded_at IS NULL`, at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// CurrentDocument returns the live version of id.
func (s *SQLiteStorage) CurrentDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND superseded_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

// CurrentDocuments returns the live versions of ids; missing IDs are absent from the map.
func (s *SQLiteStorage) CurrentDocuments(ctx context.Context, ids []string) (map[string]*models.Document, error) {
	out := make(map[string]*models.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE superseded_at IS NULL AND id IN (`+placeholders(len(ids))+`)`,
		toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = doc
	}
	return out, rows.Err()
}

// DocumentVersions returns every version of id, oldest first.
func (s *SQLiteStorage) DocumentVersions(ctx context.Context, id string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? ORDER BY version`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListDocuments returns live documents, most recently ingested first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE superseded_at IS NULL
		 ORDER BY ingested_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// InsertChunk inserts a chunk; Seq comes from the autoincrement key and is never reused.
func (s *SQLiteStorage) InsertChunk(ctx context.Context, chunk *models.Chunk) error {
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (id, document_id, collection, content, content_hash, chunk_index, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.DocumentID, chunk.Collection, chunk.Content, chunk.ContentHash, chunk.Index, chunk.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("chunk seq: %w", err)
	}
	chunk.Seq = seq
	return nil
}

// GetChunks returns the chunks with the given IDs keyed by ID.
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// ChunksByDocument returns all chunks for a document ordered by chunk index.
func (s *SQLiteStorage) ChunksByDocument(ctx context.Context, docID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY chunk_index, seq`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteChunks removes chunks by ID in one transaction.
func (s *SQLiteStorage) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete chunk %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ChunkIDs returns every chunk ID in Seq order.
func (s *SQLiteStorage) ChunkIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountDocuments returns the number of live documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE superseded_at IS NULL`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
