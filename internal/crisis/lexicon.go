package crisis

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode"
)

//go:embed default_keywords.txt
var defaultKeywords string

// Term is one lexicon entry.
type Term struct {
	// Text is the entry as written in the file, without the severity marker.
	Text string
	// Norm is the normalized form used for matching.
	Norm string
	// Top marks a phrase that escalates on its own.
	Top bool
	han bool
}

// Lexicon is an immutable set of crisis terms.
type Lexicon struct {
	terms []Term
}

// ParseLexicon reads one term per line. Blank lines and "#" comments are ignored, and a
// leading "!" marks a top-severity phrase. Terms that normalize to the same text are merged,
// keeping the higher severity. A lexicon with no terms is an error.
func ParseLexicon(r io.Reader) (*Lexicon, error) {
	byNorm := make(map[string]int)
	var terms []Term
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		top := false
		if strings.HasPrefix(line, "!") {
			top = true
			line = strings.TrimSpace(line[1:])
		}
		norm := Normalize(line)
		if norm == "" {
			continue
		}
		if i, ok := byNorm[norm]; ok {
			terms[i].Top = terms[i].Top || top
			continue
		}
		byNorm[norm] = len(terms)
		terms = append(terms, Term{Text: line, Norm: norm, Top: top, han: containsHan(norm)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	if len(terms) == 0 {
		return nil, errors.New("lexicon has no terms")
	}
	return &Lexicon{terms: terms}, nil
}

// DefaultLexicon returns the built-in English and Chinese lexicon.
func DefaultLexicon() *Lexicon {
	l, err := ParseLexicon(strings.NewReader(defaultKeywords))
	if err != nil {
		panic("crisis: invalid built-in lexicon: " + err.Error())
	}
	return l
}

// LoadLexicon reads the lexicon at path. An empty path or a missing file yields the built-in
// lexicon; fromFile reports which one was used.
func LoadLexicon(path string) (lex *Lexicon, fromFile bool, err error) {
	if path == "" {
		return DefaultLexicon(), false, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultLexicon(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open lexicon: %w", err)
	}
	defer f.Close()
	lex, err = ParseLexicon(f)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return lex, true, nil
}

// Len returns the number of distinct terms.
func (l *Lexicon) Len() int { return len(l.terms) }

// Terms returns a copy of the terms in file order.
func (l *Lexicon) Terms() []Term {
	out := make([]Term, len(l.terms))
	copy(out, l.terms)
	return out
}

// Match returns the distinct terms found in text, in lexicon order. Latin terms match whole
// words of the normalized text; terms containing Han characters match as substrings.
func (l *Lexicon) Match(text string) []Term {
	norm := Normalize(text)
	if norm == "" {
		return nil
	}
	padded := " " + norm + " "
	var out []Term
	for _, t := range l.terms {
		var hit bool
		if t.han {
			hit = strings.Contains(norm, t.Norm)
		} else {
			hit = strings.Contains(padded, " "+t.Norm+" ")
		}
		if hit {
			out = append(out, t)
		}
	}
	return out
}

// Normalize lowercases s, turns everything but letters, digits and marks into spaces and
// collapses runs of whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
