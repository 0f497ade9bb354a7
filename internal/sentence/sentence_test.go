package sentence

import (
	"reflect"
	"strings"
	"testing"
)

// feedAll streams fragments through a fresh tokenizer and returns all
// sentences, including the flushed tail.
func feedAll(t *testing.T, fragments []string, opts ...Option) []string {
	t.Helper()
	tok := NewTokenizer(opts...)
	var out []string
	for _, f := range fragments {
		out = append(out, tok.Feed(f)...)
	}
	if tail := tok.Flush(); tail != "" {
		out = append(out, tail)
	}
	return out
}

func TestFeed_SplitFragments(t *testing.T) {
	got := feedAll(t, []string{"He", "llo", " world", ". How ", "are you", "?"})
	want := []string{"Hello world.", "How are you?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sentences = %q, want %q", got, want)
	}
}

func TestFeed_EmitsBeforeStreamEnds(t *testing.T) {
	tok := NewTokenizer()
	if got := tok.Feed("The weather is sunny. The temp"); len(got) != 1 || got[0] != "The weather is sunny." {
		t.Errorf("Feed = %q, want the first sentence immediately", got)
	}
	if got := tok.Feed("erature is 25 degrees."); len(got) != 0 {
		t.Errorf("Feed = %q, trailing period is undecidable until more input", got)
	}
	if got := tok.Flush(); got != "The temperature is 25 degrees." {
		t.Errorf("Flush = %q", got)
	}
}

func TestFeed_FalsePositives(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			"abbreviation",
			"Dr. Smith arrived at noon. She was early.",
			[]string{"Dr. Smith arrived at noon.", "She was early."},
		},
		{
			"decimal point",
			"The value of pi is 3.14159 approximately. Remember that.",
			[]string{"The value of pi is 3.14159 approximately.", "Remember that."},
		},
		{
			"ellipsis",
			"Well... I suppose that works. Let us continue.",
			[]string{"Well... I suppose that works.", "Let us continue."},
		},
		{
			"lowercase continuation",
			"Visit example.com for more details. Thanks for asking.",
			[]string{"Visit example.com for more details.", "Thanks for asking."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feedAll(t, []string{tt.input})
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("sentences = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFeed_NewlineBoundary(t *testing.T) {
	got := feedAll(t, []string{"First line of the answer\nSecond line follows here\n"})
	want := []string{"First line of the answer", "Second line follows here"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sentences = %q, want %q", got, want)
	}

	// A short line's newline is ordinary whitespace, not a boundary.
	got = feedAll(t, []string{"Hi\nthere, this is a longer line. Done with it now."})
	if len(got) == 0 || got[0] != "Hi\nthere, this is a longer line." {
		t.Errorf("sentences = %q, short line must not split", got)
	}
}

func TestFeed_MinLengthHoldsShortSentences(t *testing.T) {
	got := feedAll(t, []string{"No. It is not possible. Sorry."})
	// "No." is below the minimum, so it merges into the next sentence.
	want := []string{"No. It is not possible.", "Sorry."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sentences = %q, want %q", got, want)
	}
}

func TestFlush(t *testing.T) {
	tok := NewTokenizer()
	tok.Feed("ok")
	if got := tok.Flush(); got != "" {
		t.Errorf("Flush = %q, fragments under 3 chars are dropped", got)
	}

	tok.Feed("and then some")
	if got := tok.Flush(); got != "and then some" {
		t.Errorf("Flush = %q", got)
	}
	if got := tok.Flush(); got != "" {
		t.Errorf("second Flush = %q, buffer must be reset", got)
	}
}

func TestFeed_EmptyInput(t *testing.T) {
	tok := NewTokenizer()
	if got := tok.Feed(""); got != nil {
		t.Errorf("Feed(\"\") = %q, want none", got)
	}
	if got := tok.Flush(); got != "" {
		t.Errorf("Flush on empty = %q", got)
	}
}

func TestFeed_LosslessReconstruction(t *testing.T) {
	input := "The weather is sunny today. Winds are light from the west! Expect 25 degrees... maybe more. Enjoy it."
	fragments := splitEvery(input, 3)

	tok := NewTokenizer()
	var sentences []string
	for _, f := range fragments {
		sentences = append(sentences, tok.Feed(f)...)
	}
	if tail := tok.Flush(); tail != "" {
		sentences = append(sentences, tail)
	}

	if got := strings.Join(sentences, " "); got != input {
		t.Errorf("reconstruction mismatch:\n got %q\nwant %q", got, input)
	}
}

func TestFeed_CustomMinLength(t *testing.T) {
	got := feedAll(t, []string{"No. Yes. Maybe so."}, WithMinSentenceLen(2))
	want := []string{"No.", "Yes.", "Maybe so."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sentences = %q, want %q", got, want)
	}
}

func splitEvery(s string, n int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		k := n
		if k > len(runes) {
			k = len(runes)
		}
		out = append(out, string(runes[:k]))
		runes = runes[k:]
	}
	return out
}
