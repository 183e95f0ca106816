package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/lumimind/internal/models"
)

const manifestFormat = 1

// Manifest describes a persisted collection. It is rewritten after every save.
type Manifest struct {
	Format      int                    `json:"format"`
	Name        string                 `json:"name"`
	Embedding   models.EmbeddingConfig `json:"embedding"`
	VectorCount int                    `json:"vector_count"`
	Checksum    uint32                 `json:"checksum"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

type collectionPaths struct {
	dir, manifest, vectors, meta, lexical string
}

func pathsFor(dataDir, name string) collectionPaths {
	dir := filepath.Join(dataDir, "collections", name)
	return collectionPaths{
		dir:      dir,
		manifest: filepath.Join(dir, "manifest.json"),
		vectors:  filepath.Join(dir, "vectors.bin"),
		meta:     filepath.Join(dir, "meta.db"),
		lexical:  filepath.Join(dir, "lexical"),
	}
}
