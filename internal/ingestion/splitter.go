package ingestion

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators is the separator preference used by the split policy:
// paragraph, line, sentence, Arabic comma, then whitespace. Text that still
// exceeds the chunk size after all of them is cut per character.
var DefaultSeparators = []string{"\n\n", "\n", ".", "، ", " "}

// Splitter cuts text into pieces of at most Size characters, preferring the
// earliest separator in Separators that occurs in the text and recursing into
// oversized pieces with the remaining separators. Consecutive pieces share
// up to Overlap characters. Sizes are counted in runes, not bytes.
type Splitter struct {
	// Size is the maximum chunk length in runes.
	Size int
	// Overlap is the target number of runes shared by neighbouring chunks.
	Overlap int
	// Separators is the ordered separator preference.
	Separators []string
}

// NewSplitter returns a Splitter with the default separators.
func NewSplitter(size, overlap int) *Splitter {
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

// Split returns the chunks of text. Chunks are whitespace-trimmed and never
// empty.
func (s *Splitter) Split(text string) []string {
	seps := append(append([]string(nil), s.Separators...), "")
	return s.split(text, seps)
}

// split is one level of the recursion.
func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var (
		out  []string
		good []string
	)
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) <= s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, strings.TrimSpace(piece))
			continue
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge packs small pieces into chunks of at most Size runes. When a chunk
// is emitted, pieces are dropped from its front until at most Overlap runes
// remain, and those carry over into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.Size && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				out = append(out, chunk)
			}
			for len(current) > 0 && (total > s.Overlap || total+n > s.Size) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

// splitKeep splits text on sep, keeping the separator at the end of each
// piece so joining the pieces restores the input. An empty sep splits into
// single runes.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// runeLen is the length of s in characters.
func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
