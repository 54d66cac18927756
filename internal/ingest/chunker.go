package ingest

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Chunking defaults. Size and overlap are measured in runes so multi-byte
// content never splits inside a character.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 120
)

// softBreakRatio is how far into the window a space must fall before it is
// preferred over a hard cutoff. Breaking earlier than this would produce
// runt chunks.
const softBreakRatio = 0.3

// Section is one chunk of normalized document content together with its
// token estimate.
type Section struct {
	Content    string
	TokenCount int
}

// Chunker deterministically splits text into overlapping sections: the same
// input and settings always produce the same ordered sections, which is what
// makes checksums and reindexing meaningful.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. Non-positive size falls back to
// DefaultChunkSize; overlap is clamped to size-1 so the window always
// advances.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks content with a sliding window. Whitespace runs are collapsed
// to single spaces first; empty content yields no sections.
//
// Each window that does not reach the end of the text tries to break at the
// last space past softBreakRatio of the window, otherwise accepts the hard
// cutoff. The next window starts at end-overlap unless that would not move
// forward, in which case it starts exactly at end.
func (c *Chunker) Split(content string) []Section {
	normalized := strings.Join(strings.Fields(content), " ")
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	var sections []Section

	pointer := 0
	for pointer < len(runes) {
		end := min(len(runes), pointer+c.size)
		window := runes[pointer:end]

		if end < len(runes) {
			lastSpace := lastIndexRune(window, ' ')
			if float64(lastSpace) > softBreakRatio*float64(c.size) {
				window = window[:lastSpace]
				end = pointer + lastSpace
			}
		}

		if text := strings.TrimSpace(string(window)); text != "" {
			sections = append(sections, Section{
				Content:    text,
				TokenCount: EstimateTokens(text),
			})
		}

		if end >= len(runes) {
			break
		}

		if next := end - c.overlap; next > pointer {
			pointer = next
		} else {
			pointer = end
		}
	}

	return sections
}

// EstimateTokens approximates the token count of text as one token per four
// runes, with a floor of one for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	return max(1, int(math.Round(float64(n)/4)))
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
