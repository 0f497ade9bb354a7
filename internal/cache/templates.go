package cache

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/aide/pkg/types"
)

// Templates is the read-only instant-answer tier. It maps a small closed set
// of prompts to generator functions so greetings, clock and date queries,
// and capability questions never reach a provider. Matching happens on the
// lowercased, punctuation-trimmed prompt without any embedding.
type Templates struct {
	exact map[string]func(now time.Time) string
	rules []templateRule

	// now is injectable for tests.
	now func() time.Time
}

type templateRule struct {
	pattern *regexp.Regexp
	render  func(now time.Time) string
}

// NewTemplates builds the template table. assistantName appears in the
// capability answer; empty defaults to "your assistant".
func NewTemplates(assistantName string) *Templates {
	if assistantName == "" {
		assistantName = "your assistant"
	}

	greeting := func(now time.Time) string {
		switch h := now.Hour(); {
		case h < 5:
			return "Hello! You're up late."
		case h < 12:
			return "Good morning!"
		case h < 18:
			return "Good afternoon!"
		default:
			return "Good evening!"
		}
	}
	clock := func(now time.Time) string {
		return fmt.Sprintf("It's %s.", now.Format("3:04 PM"))
	}
	date := func(now time.Time) string {
		return fmt.Sprintf("Today is %s.", now.Format("Monday, January 2, 2006"))
	}
	capabilities := func(time.Time) string {
		return fmt.Sprintf("I'm %s. I can answer questions, help with writing and coding, "+
			"check the weather and news, manage your calendar, and control your smart home devices.",
			assistantName)
	}

	t := &Templates{
		exact: map[string]func(time.Time) string{
			"hello":            greeting,
			"hi":               greeting,
			"hey":              greeting,
			"good morning":     greeting,
			"good afternoon":   greeting,
			"good evening":     greeting,
			"what time is it":  clock,
			"what's the time":  clock,
			"what is the time": clock,
			"what's the date":  date,
			"what is the date": date,
			"what day is it":   date,
			"what's today":     date,
			"what can you do":  capabilities,
			"who are you":      capabilities,
			"help":             capabilities,
		},
		rules: []templateRule{
			{regexp.MustCompile(`^(?:hi|hello|hey)(?:\s+there)?$`), greeting},
			{regexp.MustCompile(`^(?:what|which)\s+time\b`), clock},
			{regexp.MustCompile(`^what(?:'s| is)\s+today'?s?\s+date\b`), date},
			{regexp.MustCompile(`^what\s+(?:can|do)\s+you\s+do\b`), capabilities},
		},
		now: time.Now,
	}
	return t
}

// Lookup returns a rendered template response for prompt, or ok=false when
// no template applies.
func (t *Templates) Lookup(prompt string) (*types.Response, bool) {
	key := normalizePrompt(prompt)
	if key == "" {
		return nil, false
	}

	render, ok := t.exact[key]
	if !ok {
		for _, rule := range t.rules {
			if rule.pattern.MatchString(key) {
				render = rule.render
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil, false
	}

	return &types.Response{
		Content:   render(t.now()),
		Provider:  "template",
		Reason:    types.ReasonComplete,
		Cached:    true,
		CacheTier: TierTemplate,
	}, true
}

// normalizePrompt lowercases and strips surrounding whitespace and trailing
// punctuation so "Hello!" and "hello" hit the same table row.
func normalizePrompt(prompt string) string {
	s := strings.ToLower(strings.TrimSpace(prompt))
	s = strings.TrimRight(s, ".!? ")
	return strings.Join(strings.Fields(s), " ")
}
