// Package corpus loads knowledge-base source files into documents and chunks.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/extract"
	"github.com/hyperjump/lumimind/internal/fileid"
	"github.com/hyperjump/lumimind/internal/models"
)

// LoadedDocument is one source file ready for ingestion. Chunk Seq is assigned by the index manager.
type LoadedDocument struct {
	Document models.Document
	Chunks   []models.Chunk
}

// FileFailure records a file that could not be loaded.
type FileFailure struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
	// Reason is Err's message, kept for JSON reports.
	Reason string `json:"reason"`
}

// LoadReport is the outcome of a directory load. Failed files never abort the batch.
type LoadReport struct {
	Documents []LoadedDocument
	Failures  []FileFailure
}

// Loader turns files into LoadedDocuments for a fixed domain→collection mapping.
type Loader struct {
	collections map[models.Domain]string
	extractor   *extract.Extractor
	defaultSize ChunkSize
	extensions  map[string]bool
	logger      *zap.Logger
	now         func() time.Time
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets a logger for debug output (file loaded, file skipped).
func WithLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l }
}

// WithDefaultChunkSize sets the window used for extensions without a tuned size.
func WithDefaultChunkSize(size, overlap int) LoaderOption {
	return func(ld *Loader) { ld.defaultSize = ChunkSize{Size: size, Overlap: overlap} }
}

// WithExtensions restricts LoadDir to the given extensions. Files with other extensions are
// ignored by LoadDir; LoadFile still reports them as unsupported.
func WithExtensions(exts []string) LoaderOption {
	return func(ld *Loader) {
		ld.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			e = strings.ToLower(e)
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			ld.extensions[e] = true
		}
	}
}

// NewLoader creates a loader. collections maps each domain to its collection name.
func NewLoader(collections map[models.Domain]string, opts ...LoaderOption) *Loader {
	ld := &Loader{
		collections: collections,
		extractor:   extract.NewExtractor(),
		defaultSize: ChunkSize{Size: 1000, Overlap: 200},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// ChunkSizeFor returns the chunk window used for a file extension.
func (ld *Loader) ChunkSizeFor(ext string) ChunkSize {
	if s, ok := extensionSizes[strings.ToLower(ext)]; ok {
		return s
	}
	return ld.defaultSize
}

// LoadFile extracts, preprocesses and chunks one file. Unsupported extensions fail with
// extract.ErrUnsupportedFormat.
func (ld *Loader) LoadFile(ctx context.Context, path string, domain models.Domain) (LoadedDocument, error) {
	if err := ctx.Err(); err != nil {
		return LoadedDocument{}, err
	}
	collection, ok := ld.collections[domain]
	if !ok {
		return LoadedDocument{}, &models.ValidationError{Field: "domain", Reason: fmt.Sprintf("unknown domain %q", domain)}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return LoadedDocument{}, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return LoadedDocument{}, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return LoadedDocument{}, fmt.Errorf("not a regular file: %s", absPath)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	raw, err := ld.extractor.Extract(absPath)
	if err != nil {
		return LoadedDocument{}, fmt.Errorf("extract %s: %w", filepath.Base(absPath), err)
	}

	text := Preprocess(raw)
	docID := fileid.DocID(collection, absPath)
	now := ld.now().UTC()
	doc := models.Document{
		ID:          docID,
		Collection:  collection,
		Domain:      domain,
		SourcePath:  absPath,
		Title:       titleFor(absPath, raw),
		Content:     text,
		ContentHash: fileid.ContentHash(text),
		IngestedAt:  now,
	}

	size := ld.ChunkSizeFor(ext)
	pieces := NewChunker(size.Size, size.Overlap).Split(text)
	chunks := make([]models.Chunk, 0, len(pieces))
	seen := make(map[string]bool, len(pieces))
	for _, p := range pieces {
		h := fileid.ContentHash(p)
		if seen[h] {
			continue
		}
		seen[h] = true
		chunks = append(chunks, models.Chunk{
			ID:          fileid.ChunkID(docID, h),
			DocumentID:  docID,
			Collection:  collection,
			Content:     p,
			ContentHash: h,
			Index:       len(chunks),
			CreatedAt:   now,
		})
	}
	if ld.logger != nil {
		ld.logger.Debug("corpus file loaded",
			zap.String("path", absPath), zap.String("collection", collection), zap.Int("chunks", len(chunks)))
	}
	return LoadedDocument{Document: doc, Chunks: chunks}, nil
}

// LoadDir walks dir recursively and loads every regular file with an accepted extension.
// Hidden files and directories are skipped. Per-file failures are collected in the report;
// the returned error is reserved for an unreadable root or a cancelled context.
func (ld *Loader) LoadDir(ctx context.Context, dir string, domain models.Domain) (LoadReport, error) {
	var report LoadReport
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return report, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return report, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return report, fmt.Errorf("not a directory: %s", absDir)
	}

	var paths []string
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			report.Failures = append(report.Failures, failure(path, walkErr))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path != absDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !ld.accepts(filepath.Ext(path)) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return report, err
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		doc, err := ld.LoadFile(ctx, path, domain)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			if ld.logger != nil {
				ld.logger.Warn("corpus file skipped", zap.String("path", path), zap.Error(err))
			}
			report.Failures = append(report.Failures, failure(path, err))
			continue
		}
		report.Documents = append(report.Documents, doc)
	}
	return report, nil
}

// Accepts reports whether LoadDir would pick up a file with extension ext.
func (ld *Loader) Accepts(ext string) bool {
	return ld.accepts(ext)
}

// accepts honours an explicit extension list as given; listed formats the extractor rejects
// are loaded and reported as failures.
func (ld *Loader) accepts(ext string) bool {
	ext = strings.ToLower(ext)
	if len(ld.extensions) > 0 {
		return ld.extensions[ext]
	}
	return ld.extractor.Supported(ext)
}

func failure(path string, err error) FileFailure {
	return FileFailure{Path: path, Err: err, Reason: err.Error()}
}

// titleFor uses the first Markdown heading when there is one, else the file name without extension.
func titleFor(path, raw string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".md" || ext == ".markdown" {
		for _, line := range strings.Split(raw, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "# ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "# "))
			}
		}
	}
	base := filepath.Base(path)
	return strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), "_", " ")
}
