// Package chunker splits document text into overlapping, boundary-aware chunks.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/yvan/internal/models"
)

// pageSeparator joins consecutive non-blank pages.
const pageSeparator = "\n\n"

// Chunker splits text into windows of at most target runes, consecutive windows
// sharing exactly overlap runes.
type Chunker struct {
	target       int
	overlap      int
	tolerance    int
	minTextChars int
}

// New creates a chunker. It fails with models.ErrInvalidConfig unless 0 <= overlap < target
// and minTextChars >= 0.
func New(target, overlap, minTextChars int) (*Chunker, error) {
	if target <= 0 {
		return nil, fmt.Errorf("%w: chunk target must be positive, got %d", models.ErrInvalidConfig, target)
	}
	if overlap < 0 || overlap >= target {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", models.ErrInvalidConfig, target, overlap)
	}
	if minTextChars < 0 {
		return nil, fmt.Errorf("%w: min text chars must not be negative, got %d", models.ErrInvalidConfig, minTextChars)
	}
	tol := target / 5
	if tol < 1 {
		tol = 1
	}
	return &Chunker{target: target, overlap: overlap, tolerance: tol, minTextChars: minTextChars}, nil
}

// Target returns the maximum chunk length in runes.
func (c *Chunker) Target() int { return c.target }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// MinTextChars returns the minimum trimmed text length a document needs to be chunked.
func (c *Chunker) MinTextChars() int { return c.minTextChars }

// PageStart records where a page's text begins in the joined text, in runes.
type PageStart struct {
	Page   int
	Offset int
}

// JoinPages concatenates the non-blank pages, separated by a blank line, and
// returns the starting rune offset of each included page.
func JoinPages(pages []models.Page) (string, []PageStart) {
	var b strings.Builder
	var starts []PageStart
	offset := 0
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		if len(starts) > 0 {
			b.WriteString(pageSeparator)
			offset += utf8.RuneCountInString(pageSeparator)
		}
		starts = append(starts, PageStart{Page: p.Index, Offset: offset})
		b.WriteString(p.Text)
		offset += utf8.RuneCountInString(p.Text)
	}
	return b.String(), starts
}

// Split chunks the pages of one document. Chunks are exact substrings of the joined
// text: removing the last Overlap() runes of every chunk but the final one and
// concatenating yields the joined text. A document whose trimmed text is shorter
// than the minimum yields no chunks.
func (c *Chunker) Split(source string, pages []models.Page) []models.Chunk {
	text, starts := JoinPages(pages)
	if utf8.RuneCountInString(strings.TrimSpace(text)) < c.minTextChars || text == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)

	var chunks []models.Chunk
	for s := 0; ; {
		e := n
		if n-s > c.target {
			e = c.boundary(runes, s)
		}
		chunks = append(chunks, models.Chunk{
			Text:   string(runes[s:e]),
			Source: source,
			Page:   pageAt(starts, s),
			Order:  len(chunks),
		})
		if e == n {
			break
		}
		s = e - c.overlap
	}
	return chunks
}

// boundary picks the end of the window starting at s. Within the near band, the
// upper half of the tolerance window, a paragraph break beats a sentence break and
// a sentence break beats a word break, each taken nearest to s+target. Below the
// band the nearest break of any kind wins, so a distant paragraph never shortens
// a window that could end close to its target. The lower bound keeps every window
// longer than the overlap so the next start advances.
func (c *Chunker) boundary(runes []rune, s int) int {
	hi := s + c.target
	lo := s + max(c.target-c.tolerance, c.overlap+1)
	near := max(hi-c.tolerance/2, lo)
	for _, isBreak := range []func([]rune, int) bool{paragraphBreak, sentenceBreak, wordBreak} {
		if b := lastBreak(runes, hi, near, isBreak); b >= 0 {
			return b
		}
	}
	// every paragraph or sentence break is also a word break
	if b := lastBreak(runes, near-1, lo, wordBreak); b >= 0 {
		return b
	}
	return hi
}

// lastBreak returns the highest b in [lo, hi] satisfying isBreak, or -1.
func lastBreak(runes []rune, hi, lo int, isBreak func([]rune, int) bool) int {
	for b := hi; b >= lo; b-- {
		if isBreak(runes, b) {
			return b
		}
	}
	return -1
}

// paragraphBreak reports whether position b directly follows a blank line.
func paragraphBreak(r []rune, b int) bool {
	return b >= 2 && r[b-1] == '\n' && r[b-2] == '\n'
}

// sentenceBreak reports whether b follows sentence punctuation and whitespace, or a line break.
func sentenceBreak(r []rune, b int) bool {
	if b < 1 {
		return false
	}
	if r[b-1] == '\n' {
		return true
	}
	return b >= 2 && unicode.IsSpace(r[b-1]) && strings.ContainsRune(".!?…;。", r[b-2])
}

func wordBreak(r []rune, b int) bool {
	return b >= 1 && unicode.IsSpace(r[b-1])
}

// pageAt returns the page whose text contains offset; offsets inside a separator
// belong to the preceding page.
func pageAt(starts []PageStart, offset int) int {
	page := 0
	if len(starts) > 0 {
		page = starts[0].Page
	}
	for _, st := range starts {
		if st.Offset > offset {
			break
		}
		page = st.Page
	}
	return page
}
