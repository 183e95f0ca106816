package corpus

import (
	"strings"
	"unicode"
)

// ChunkSize is a character window and the overlap carried into the next window.
type ChunkSize struct {
	Size    int
	Overlap int
}

// extensionSizes are tuned per format: PDFs are split tighter, Markdown looser.
var extensionSizes = map[string]ChunkSize{
	".txt":      {Size: 1000, Overlap: 200},
	".pdf":      {Size: 800, Overlap: 150},
	".docx":     {Size: 1200, Overlap: 250},
	".md":       {Size: 1500, Overlap: 300},
	".markdown": {Size: 1500, Overlap: 300},
}

// Chunker splits text into overlapping character-bounded windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given size and overlap (in characters).
// overlap is clamped below size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split returns the chunk texts of text in order. Windows never split a rune and, when a
// boundary exists in the second half of a window, end on whitespace or sentence punctuation.
func (c *Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	n := len(runes)
	if n == 0 {
		return nil
	}
	var out []string
	start := 0
	for {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = cutPoint(runes, start, end)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end >= n {
			return out
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = alignStart(runes, next, end)
	}
}

// cutPoint searches backwards from end for a boundary, no further than half the window.
func cutPoint(runes []rune, start, end int) int {
	floor := start + (end-start)/2
	for i := end; i > floor; i-- {
		r := runes[i-1]
		if unicode.IsSpace(r) {
			return i - 1
		}
		if isSentenceEnd(r) {
			return i
		}
	}
	return end
}

// alignStart moves an overlap start forward past a partial word, staying before limit.
func alignStart(runes []rune, pos, limit int) int {
	if pos == 0 || unicode.IsSpace(runes[pos-1]) || isSentenceEnd(runes[pos-1]) {
		return pos
	}
	for i := pos; i < limit; i++ {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return pos
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', ';', '。', '！', '？', '；', '，', '、':
		return true
	}
	return false
}
