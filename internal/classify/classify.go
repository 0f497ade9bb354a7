// Package classify maps free-form request text to a task type and a
// suggested route.
//
// Classification is a prioritised sweep over regex keyword families: the
// first family whose match count crosses its threshold wins. Short factual
// questions and very long prompts are resolved by length heuristics before
// falling back to conversation. The classifier is synchronous, allocation
// light, and never calls a provider.
package classify

import (
	"regexp"
	"strings"

	"github.com/MrWong99/aide/pkg/types"
)

// RouteDirect is the synthetic route meaning "answer without a provider
// call". Reserved for template-backed replies (greetings, clock, date).
const RouteDirect = "direct"

// family is one prioritised group of keyword patterns. A family claims the
// request when at least threshold of its patterns match.
type family struct {
	task      types.TaskType
	threshold int
	patterns  []*regexp.Regexp
}

// Classifier assigns a [types.TaskType] to request text. The zero value is
// not usable; construct with [New].
//
// Classifier is safe for concurrent use: all state is read-only after
// construction.
type Classifier struct {
	families []family
	opener   *regexp.Regexp
	direct   *regexp.Regexp
}

// compile turns bare keyword fragments into case-insensitive word patterns.
func compile(keywords ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(keywords))
	for _, k := range keywords {
		out = append(out, regexp.MustCompile(`(?i)\b(?:`+k+`)\b`))
	}
	return out
}

// New constructs a Classifier with the built-in family table.
//
// Priority order is fixed: coding → complex-reasoning → creative →
// fast-query → conversation. Families earlier in the table shadow later
// ones even when both cross their thresholds.
func New() *Classifier {
	return &Classifier{
		families: []family{
			{
				task:      types.TaskCoding,
				threshold: 1,
				patterns: compile(
					`code|function|debug|compile|refactor`,
					`python|golang|javascript|typescript|rust|java\b|sql`,
					`bug|stack ?trace|exception|segfault`,
					`implement|algorithm|regex|unit test`,
				),
			},
			{
				task:      types.TaskComplexReasoning,
				threshold: 1,
				patterns: compile(
					`explain (?:why|how)|analy[sz]e|compare and contrast`,
					`step[- ]by[- ]step|reason|derive|prove`,
					`trade[- ]?offs?|implications?|pros and cons`,
					`architect|design a|strategy for`,
				),
			},
			{
				task:      types.TaskCreative,
				threshold: 1,
				patterns: compile(
					`write (?:a|me a|an) (?:story|poem|song|haiku|essay|letter)`,
					`creative|imagine|fictional|brainstorm`,
					`compose|lyrics|screenplay|limerick`,
				),
			},
			{
				task:      types.TaskFastQuery,
				threshold: 1,
				patterns: compile(
					`weather|temperature|forecast`,
					`what time|what date|what day`,
					`news|headlines?`,
					`how (?:far|tall|old|many|much)`,
					`capital of|population of|define\b`,
				),
			},
			{
				task:      types.TaskConversation,
				threshold: 1,
				patterns: compile(
					`\bhi\b|\bhello\b|\bhey\b|good (?:morning|afternoon|evening)`,
					`how are you|what'?s up|thank(?:s| you)`,
					`\bbye\b|good ?night|see you`,
				),
			},
		},
		opener: regexp.MustCompile(`(?i)^\s*(?:what|who|when|where)\b`),
		direct: regexp.MustCompile(`(?i)^\s*(?:hi|hello|hey|good (?:morning|afternoon|evening)|what time is it|what(?:'s| is) the (?:time|date)|what can you do|thank(?:s| you))\W*$`),
	}
}

// Classify returns the task type for the last user-role message in msgs and
// a suggested route: a provider preference is left to the router, so route
// is either RouteDirect for template-backed prompts or empty.
//
// An empty message list (or one with no user message) classifies as unknown.
func (c *Classifier) Classify(msgs []types.Message) (types.TaskType, string) {
	text := lastUserMessage(msgs)
	if strings.TrimSpace(text) == "" {
		return types.TaskUnknown, ""
	}

	if c.direct.MatchString(text) {
		return types.TaskConversation, RouteDirect
	}

	for _, f := range c.families {
		matches := 0
		for _, p := range f.patterns {
			if p.MatchString(text) {
				matches++
			}
		}
		if matches >= f.threshold {
			return f.task, ""
		}
	}

	// Length heuristics break the tie when no family claimed the text.
	if len(text) > 500 {
		return types.TaskComplexReasoning, ""
	}
	if len(text) < 50 && c.opener.MatchString(text) {
		return types.TaskFastQuery, ""
	}

	return types.TaskConversation, ""
}

// Category maps request text to the cache category that controls its TTL.
// Time-sensitive domains (weather, news, calendar, device state) get short
// lifetimes; requests that look like device commands are never cached.
func (c *Classifier) Category(msgs []types.Message) types.CacheCategory {
	text := strings.ToLower(lastUserMessage(msgs))
	switch {
	case containsAny(text, "turn on", "turn off", "switch on", "switch off",
		"open the", "close the", "lock", "unlock", "set the thermostat"):
		return types.CategorySystemAction
	case containsAny(text, "weather", "temperature outside", "forecast"):
		return types.CategoryWeather
	case containsAny(text, "news", "headline"):
		return types.CategoryNews
	case containsAny(text, "calendar", "schedule", "meeting", "appointment"):
		return types.CategoryCalendar
	case containsAny(text, "light", "sensor", "device status", "is the door"):
		return types.CategoryIoTStatus
	default:
		task, _ := c.Classify(msgs)
		if task == types.TaskConversation || task == types.TaskUnknown {
			return types.CategoryConversation
		}
		return types.CategoryGeneral
	}
}

// lastUserMessage returns the body of the last user-role message, or "".
func lastUserMessage(msgs []types.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
