package classify

import (
	"strings"
	"testing"

	"github.com/MrWong99/aide/pkg/types"
)

func user(s string) []types.Message {
	return []types.Message{{Role: "user", Content: s}}
}

func TestClassify_Table(t *testing.T) {
	c := New()
	tests := []struct {
		text string
		want types.TaskType
	}{
		{"What is the weather in Chicago?", types.TaskFastQuery},
		{"show me today's news headlines", types.TaskFastQuery},
		{"Write a Python function to reverse a linked list", types.TaskCoding},
		{"I'm getting a segfault in this code, help me debug it", types.TaskCoding},
		{"Explain why the sky is blue, step by step", types.TaskComplexReasoning},
		{"Compare and contrast REST and gRPC", types.TaskComplexReasoning},
		{"Write me a poem about autumn", types.TaskCreative},
		{"brainstorm some fictional planet names", types.TaskCreative},
		{"how are you doing today friend", types.TaskConversation},
	}
	for _, tt := range tests {
		got, _ := c.Classify(user(tt.text))
		if got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestClassify_PriorityCodingBeatsFastQuery(t *testing.T) {
	c := New()
	// Mentions both "weather" and "function": coding family is checked first.
	got, _ := c.Classify(user("write a function that fetches the weather"))
	if got != types.TaskCoding {
		t.Errorf("got %v, want coding (higher family priority)", got)
	}
}

func TestClassify_LengthHeuristics(t *testing.T) {
	c := New()

	long := strings.Repeat("consider this unusual scenario in detail ", 15)
	if got, _ := c.Classify(user(long)); got != types.TaskComplexReasoning {
		t.Errorf("len %d prompt = %v, want complex-reasoning", len(long), got)
	}

	if got, _ := c.Classify(user("Who invented velcro")); got != types.TaskFastQuery {
		t.Errorf("short what/who opener = %v, want fast-query", got)
	}
}

func TestClassify_EmptyIsUnknown(t *testing.T) {
	c := New()
	if got, _ := c.Classify(nil); got != types.TaskUnknown {
		t.Errorf("empty messages = %v, want unknown", got)
	}
	if got, _ := c.Classify([]types.Message{{Role: "system", Content: "be nice"}}); got != types.TaskUnknown {
		t.Errorf("no user message = %v, want unknown", got)
	}
}

func TestClassify_DirectRoute(t *testing.T) {
	c := New()
	for _, text := range []string{"hello", "Hi!", "what time is it", "what can you do"} {
		task, route := c.Classify(user(text))
		if route != RouteDirect {
			t.Errorf("Classify(%q) route = %q, want direct", text, route)
		}
		if task != types.TaskConversation {
			t.Errorf("Classify(%q) task = %v, want conversation", text, task)
		}
	}

	// A substantive request must not be routed direct.
	if _, route := c.Classify(user("what is the weather in Berlin")); route == RouteDirect {
		t.Error("substantive query must not take the direct route")
	}
}

func TestCategory(t *testing.T) {
	c := New()
	tests := []struct {
		text string
		want types.CacheCategory
	}{
		{"what's the weather like", types.CategoryWeather},
		{"any news today", types.CategoryNews},
		{"what's on my calendar tomorrow", types.CategoryCalendar},
		{"is the living room light on", types.CategoryIoTStatus},
		{"turn off the kitchen light", types.CategorySystemAction},
		{"explain how transformers work", types.CategoryGeneral},
		{"hello there", types.CategoryConversation},
	}
	for _, tt := range tests {
		if got := c.Category(user(tt.text)); got != tt.want {
			t.Errorf("Category(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
