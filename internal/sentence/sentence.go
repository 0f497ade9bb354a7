// Package sentence implements an online sentence-boundary detector over a
// stream of text fragments.
//
// Fragments arrive in arbitrary pieces (tokens from a model stream may split
// words anywhere), so the tokenizer buffers input and emits a sentence as
// soon as a boundary can be confirmed. Downstream speech synthesis can then
// start speaking the first sentence while later ones are still generating.
package sentence

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinSentenceLen is the minimum rune count for an emitted sentence.
const DefaultMinSentenceLen = 10

// flushMinLen is the minimum rune count for the final fragment Flush emits.
const flushMinLen = 3

// abbreviations are words whose trailing '.' does not end a sentence.
// Matching is case-insensitive on the word before the dot.
var abbreviations = map[string]bool{
	// Titles.
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "gen": true, "sen": true,
	"rep": true, "rev": true, "hon": true,
	// Units and common shorthand.
	"vs": true, "etc": true, "approx": true, "dept": true, "est": true,
	"fig": true, "inc": true, "ltd": true, "co": true,
	"oz": true, "lb": true, "ft": true, "kg": true, "km": true,
	"mi": true, "hr": true, "min": true, "sec": true,
}

// Tokenizer detects sentence boundaries in streamed text. It is not safe
// for concurrent use; each stream owns one Tokenizer.
type Tokenizer struct {
	buf    []rune
	minLen int
}

// Option is a functional option for Tokenizer.
type Option func(*Tokenizer)

// WithMinSentenceLen overrides the minimum emitted sentence length.
func WithMinSentenceLen(n int) Option {
	return func(t *Tokenizer) {
		if n > 0 {
			t.minLen = n
		}
	}
}

// NewTokenizer returns a Tokenizer with the default boundary rules.
func NewTokenizer(opts ...Option) *Tokenizer {
	t := &Tokenizer{minLen: DefaultMinSentenceLen}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Feed appends a text fragment and returns every sentence completed by it,
// in order. Fragments may split words or punctuation arbitrarily.
func (t *Tokenizer) Feed(fragment string) []string {
	if fragment == "" {
		return nil
	}
	t.buf = append(t.buf, []rune(fragment)...)

	var out []string
	for {
		s, ok := t.scan()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}

// Flush emits any buffered remainder as a final sentence when it is at
// least three characters long, and resets the buffer either way.
func (t *Tokenizer) Flush() string {
	s := strings.TrimSpace(string(t.buf))
	t.buf = t.buf[:0]
	if utf8.RuneCountInString(s) < flushMinLen {
		return ""
	}
	return s
}

// Pending returns the buffered text that has not yet formed a sentence.
func (t *Tokenizer) Pending() string {
	return string(t.buf)
}

// scan finds the first confirmable boundary in the buffer, emits the
// sentence before it, and consumes it plus any following whitespace.
func (t *Tokenizer) scan() (string, bool) {
	for i := 0; i < len(t.buf); i++ {
		switch r := t.buf[i]; {
		case r == '\n':
			line := strings.TrimSpace(string(t.buf[:i]))
			if utf8.RuneCountInString(line) >= t.minLen {
				t.consume(i + 1)
				return line, true
			}
			// Short line: the newline is treated as ordinary whitespace
			// inside an ongoing sentence.

		case r == '!' || r == '?':
			end := terminatorRun(t.buf, i)
			if s, ok := t.emitUpTo(end); ok {
				return s, true
			}
			i = end - 1

		case r == '.':
			end := terminatorRun(t.buf, i)
			verdict := t.periodVerdict(i, end)
			if verdict == periodWait {
				// Cannot decide until more input arrives.
				return "", false
			}
			if verdict == periodBoundary {
				if s, ok := t.emitUpTo(end); ok {
					return s, true
				}
			}
			i = end - 1
		}
	}
	return "", false
}

type periodClass int

const (
	periodBoundary periodClass = iota
	periodFalse
	periodWait
)

// periodVerdict classifies the '.' run at [i, end) as a sentence boundary,
// a false positive, or undecidable pending more input.
func (t *Tokenizer) periodVerdict(i, end int) periodClass {
	// A dot between digits is a decimal point.
	if i > 0 && unicode.IsDigit(t.buf[i-1]) && end < len(t.buf) && unicode.IsDigit(t.buf[end]) {
		return periodFalse
	}

	// A dot ending a known abbreviation.
	if abbreviations[wordBefore(t.buf, i)] {
		return periodFalse
	}

	// Nothing after the run yet: the next fragment decides.
	j := end
	for j < len(t.buf) && t.buf[j] != '\n' && unicode.IsSpace(t.buf[j]) {
		j++
	}
	if j == len(t.buf) {
		return periodWait
	}

	// The buffer continues: a sentence boundary is whitespace followed by
	// an upper-case opener (letter, digit, or quote). Anything else, e.g. a
	// lower-case continuation or a missing space, is a false positive.
	if j == end {
		if t.buf[j] == '\n' {
			return periodBoundary
		}
		return periodFalse
	}
	switch r := t.buf[j]; {
	case r == '\n', unicode.IsUpper(r), unicode.IsDigit(r), r == '"', r == '\'':
		return periodBoundary
	default:
		return periodFalse
	}
}

// emitUpTo emits buf[:end] as a sentence when it meets the minimum length,
// consuming it and the following whitespace.
func (t *Tokenizer) emitUpTo(end int) (string, bool) {
	s := strings.TrimSpace(string(t.buf[:end]))
	if utf8.RuneCountInString(s) < t.minLen {
		return "", false
	}
	t.consume(end)
	return s, true
}

// consume drops buf[:n] plus any whitespace that follows it.
func (t *Tokenizer) consume(n int) {
	for n < len(t.buf) && unicode.IsSpace(t.buf[n]) {
		n++
	}
	t.buf = append(t.buf[:0], t.buf[n:]...)
}

// terminatorRun returns the index just past the run of terminator
// punctuation starting at i, so "?!" and "..." consume as one boundary.
func terminatorRun(buf []rune, i int) int {
	end := i
	for end < len(buf) && (buf[end] == '.' || buf[end] == '!' || buf[end] == '?') {
		end++
	}
	return end
}

// wordBefore returns the lowercased letter run immediately before index i.
func wordBefore(buf []rune, i int) string {
	start := i
	for start > 0 && unicode.IsLetter(buf[start-1]) {
		start--
	}
	if start == i {
		return ""
	}
	return strings.ToLower(string(buf[start:i]))
}
