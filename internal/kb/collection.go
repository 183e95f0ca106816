package kb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hyperjump/lumimind/internal/keyword"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/storage"
	"github.com/hyperjump/lumimind/internal/vector"
)

// Collection is one named knowledge base: vectors, chunk metadata and the lexical side-index.
// mu is held exclusively by ingestion and removal, and shared by searches.
type Collection struct {
	name   string
	paths  collectionPaths
	config models.EmbeddingConfig

	mu        sync.RWMutex
	vectors   *vector.MemoryIndex
	store     storage.Storage
	lexical   keyword.KeywordIndex
	createdAt time.Time
	updatedAt time.Time
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// EmbeddingConfig returns the fixed embedding configuration.
func (c *Collection) EmbeddingConfig() models.EmbeddingConfig { return c.config }

func corrupt(name, reason string, err error) error {
	return &models.IndexCorruptError{Collection: name, Reason: reason, Err: err}
}

// openCollection loads a persisted collection and verifies it against its manifest.
func openCollection(ctx context.Context, name string, p collectionPaths, want models.EmbeddingConfig) (*Collection, error) {
	man, err := readManifest(p.manifest)
	if err != nil {
		return nil, corrupt(name, "unreadable manifest", err)
	}
	if man.Format != manifestFormat {
		return nil, corrupt(name, fmt.Sprintf("unsupported manifest format %d", man.Format), nil)
	}
	if man.Embedding.Dimensions != want.Dimensions {
		return nil, corrupt(name, fmt.Sprintf("manifest has %d dimensions, requested %d", man.Embedding.Dimensions, want.Dimensions), nil)
	}
	if man.Embedding.Model != want.Model || man.Embedding.Metric != want.Metric {
		return nil, &models.EmbeddingMismatchError{Collection: name, Want: man.Embedding, Got: want}
	}

	idx, err := vector.NewMemoryIndex(man.Embedding.Dimensions, vector.Metric(man.Embedding.Metric))
	if err != nil {
		return nil, corrupt(name, "invalid manifest", err)
	}
	if err := idx.Load(p.vectors, man.Checksum); err != nil {
		if errors.Is(err, vector.ErrCorrupt) {
			return nil, corrupt(name, "vector file failed verification", err)
		}
		return nil, fmt.Errorf("load vectors for %s: %w", name, err)
	}
	if idx.Size() != man.VectorCount {
		return nil, corrupt(name, fmt.Sprintf("manifest lists %d vectors, file has %d", man.VectorCount, idx.Size()), nil)
	}

	if _, err := os.Stat(p.meta); err != nil {
		return nil, corrupt(name, "metadata database missing", err)
	}
	store, err := storage.NewSQLiteStorage(p.meta)
	if err != nil {
		return nil, corrupt(name, "metadata database unreadable", err)
	}
	ids, err := store.ChunkIDs(ctx)
	if err != nil {
		store.Close()
		return nil, corrupt(name, "metadata database unreadable", err)
	}
	if len(ids) != idx.Size() {
		store.Close()
		return nil, corrupt(name, fmt.Sprintf("%d vectors but %d chunk rows", idx.Size(), len(ids)), nil)
	}
	for i, id := range idx.IDs() {
		if ids[i] != id {
			store.Close()
			return nil, corrupt(name, "vector ids diverge from chunk rows", nil)
		}
	}

	lexical, err := keyword.NewBleveIndex(p.lexical)
	if err != nil {
		store.Close()
		return nil, corrupt(name, "lexical index unreadable", err)
	}
	return &Collection{
		name:      name,
		paths:     p,
		config:    man.Embedding,
		vectors:   idx,
		store:     store,
		lexical:   lexical,
		createdAt: man.CreatedAt,
		updatedAt: man.UpdatedAt,
	}, nil
}

// createCollection initializes an empty collection on disk.
func createCollection(name string, p collectionPaths, cfg models.EmbeddingConfig) (*Collection, error) {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}
	idx, err := vector.NewMemoryIndex(cfg.Dimensions, vector.Metric(cfg.Metric))
	if err != nil {
		return nil, &models.ValidationError{Field: "embedding", Reason: err.Error()}
	}
	store, err := storage.NewSQLiteStorage(p.meta)
	if err != nil {
		return nil, err
	}
	lexical, err := keyword.NewBleveIndex(p.lexical)
	if err != nil {
		store.Close()
		return nil, err
	}
	now := time.Now().UTC()
	c := &Collection{
		name:      name,
		paths:     p,
		config:    cfg,
		vectors:   idx,
		store:     store,
		lexical:   lexical,
		createdAt: now,
	}
	if err := c.save(); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

// save writes vectors then the manifest carrying their checksum. Caller holds mu.
func (c *Collection) save() error {
	sum, err := c.vectors.Save(c.paths.vectors)
	if err != nil {
		return fmt.Errorf("save vectors for %s: %w", c.name, err)
	}
	c.updatedAt = time.Now().UTC()
	return writeManifest(c.paths.manifest, &Manifest{
		Format:      manifestFormat,
		Name:        c.name,
		Embedding:   c.config,
		VectorCount: c.vectors.Size(),
		Checksum:    sum,
		CreatedAt:   c.createdAt,
		UpdatedAt:   c.updatedAt,
	})
}

// removeChunks drops chunks from all three stores. Caller holds mu.
func (c *Collection) removeChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.vectors.Remove(ctx, ids); err != nil {
		return fmt.Errorf("remove vectors: %w", err)
	}
	if err := c.lexical.Delete(ctx, ids...); err != nil {
		return fmt.Errorf("remove from lexical index: %w", err)
	}
	if err := c.store.DeleteChunks(ctx, ids); err != nil {
		return fmt.Errorf("remove chunk rows: %w", err)
	}
	return nil
}

func (c *Collection) close() error {
	var errs []error
	if c.lexical != nil {
		errs = append(errs, c.lexical.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	return errors.Join(errs...)
}
