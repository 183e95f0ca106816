package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/lumimind/internal/extract"
	"github.com/hyperjump/lumimind/internal/fileid"
	"github.com/hyperjump/lumimind/internal/models"
)

func testCollections() map[models.Domain]string {
	return map[models.Domain]string{
		models.DomainMentalHealth:  "mental_health_kb",
		models.DomainCommunication: "communication_kb",
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "box_breathing.md")
	writeFile(t, path, "# Box Breathing\n\nInhale for four.   Hold for four.\nExhale for four.")

	ld := NewLoader(testCollections())
	doc, err := ld.LoadFile(context.Background(), path, models.DomainMentalHealth)
	require.NoError(t, err)

	assert.Equal(t, fileid.DocID("mental_health_kb", path), doc.Document.ID)
	assert.Equal(t, "mental_health_kb", doc.Document.Collection)
	assert.Equal(t, models.DomainMentalHealth, doc.Document.Domain)
	assert.Equal(t, "Box Breathing", doc.Document.Title)
	assert.Equal(t, "# Box Breathing Inhale for four. Hold for four. Exhale for four.", doc.Document.Content)
	assert.Equal(t, fileid.ContentHash(doc.Document.Content), doc.Document.ContentHash)
	require.Len(t, doc.Chunks, 1)
	ch := doc.Chunks[0]
	assert.Equal(t, doc.Document.ID, ch.DocumentID)
	assert.Equal(t, fileid.ChunkID(doc.Document.ID, ch.ContentHash), ch.ID)
	assert.Equal(t, 0, ch.Index)
}

func TestLoader_LoadFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	writeFile(t, path, strings.Repeat("listen before you answer. ", 200))
	ld := NewLoader(testCollections())

	a, err := ld.LoadFile(context.Background(), path, models.DomainCommunication)
	require.NoError(t, err)
	b, err := ld.LoadFile(context.Background(), path, models.DomainCommunication)
	require.NoError(t, err)
	require.Equal(t, len(a.Chunks), len(b.Chunks))
	for i := range a.Chunks {
		assert.Equal(t, a.Chunks[i].ID, b.Chunks[i].ID)
	}
}

func TestLoader_LoadFileUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deck.pptx")
	writeFile(t, path, "x")
	_, err := NewLoader(testCollections()).LoadFile(context.Background(), path, models.DomainMentalHealth)
	assert.True(t, errors.Is(err, extract.ErrUnsupportedFormat), "got %v", err)
}

func TestLoader_LoadFileUnknownDomain(t *testing.T) {
	_, err := NewLoader(testCollections()).LoadFile(context.Background(), "x.txt", models.Domain("finance"))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestLoader_LoadDirPartialSuccess(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "Set a boundary kindly.")
	writeFile(t, filepath.Join(dir, "sub", "b.md"), "# Feedback\nUse I statements.")
	writeFile(t, filepath.Join(dir, "broken.docx"), "not a zip")
	writeFile(t, filepath.Join(dir, "ignored.png"), "binary")
	writeFile(t, filepath.Join(dir, ".hidden", "c.txt"), "hidden")

	report, err := NewLoader(testCollections()).LoadDir(context.Background(), dir, models.DomainCommunication)
	require.NoError(t, err)
	require.Len(t, report.Documents, 2)
	assert.Equal(t, "a", report.Documents[0].Document.Title)
	assert.Equal(t, "Feedback", report.Documents[1].Document.Title)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, filepath.Join(dir, "broken.docx"), report.Failures[0].Path)
	assert.NotEmpty(t, report.Failures[0].Reason)
}

func TestLoader_LoadDirExplicitExtensionsReportUnsupported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "text")
	writeFile(t, filepath.Join(dir, "b.rtf"), "rtf")

	ld := NewLoader(testCollections(), WithExtensions([]string{"txt", ".rtf"}))
	report, err := ld.LoadDir(context.Background(), dir, models.DomainMentalHealth)
	require.NoError(t, err)
	assert.Len(t, report.Documents, 1)
	require.Len(t, report.Failures, 1)
	assert.True(t, errors.Is(report.Failures[0].Err, extract.ErrUnsupportedFormat))
}

func TestLoader_LoadDirCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "text")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader(testCollections()).LoadDir(ctx, dir, models.DomainMentalHealth)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoader_LoadDirNotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	writeFile(t, path, "x")
	_, err := NewLoader(testCollections()).LoadDir(context.Background(), path, models.DomainMentalHealth)
	assert.Error(t, err)
}

func TestLoader_ChunkSizeFor(t *testing.T) {
	ld := NewLoader(testCollections(), WithDefaultChunkSize(500, 50))
	assert.Equal(t, ChunkSize{800, 150}, ld.ChunkSizeFor(".PDF"))
	assert.Equal(t, ChunkSize{1500, 300}, ld.ChunkSizeFor(".md"))
	assert.Equal(t, ChunkSize{500, 50}, ld.ChunkSizeFor(".xlsx"))
}
