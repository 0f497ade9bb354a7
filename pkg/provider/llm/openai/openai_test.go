package openai

import (
	"testing"
	"time"

	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/types"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New("fast-remote", "sk-test", "gpt-4o-mini", types.GenerationParams{
		Temperature: 0.7,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "sk", "gpt-4o", types.GenerationParams{}); err == nil {
		t.Error("empty name should be rejected")
	}
	if _, err := New("fast-remote", "sk", "", types.GenerationParams{}); err == nil {
		t.Error("empty model should be rejected")
	}
}

func TestIsAvailable_RequiresCredential(t *testing.T) {
	withKey := newTestProvider(t)
	if !withKey.IsAvailable() {
		t.Error("provider with API key should report available")
	}

	noKey, err := New("fast-remote", "", "gpt-4o-mini", types.GenerationParams{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if noKey.IsAvailable() {
		t.Error("provider without API key should report unavailable")
	}
}

func TestBuildParams_RolesAndDefaults(t *testing.T) {
	p := newTestProvider(t)
	params := p.buildParams(llm.Request{
		Messages: []types.Message{
			{Role: "system", Content: "Be terse."},
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello"},
		},
	})

	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be system")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("second message should be user")
	}
	if params.Messages[2].OfAssistant == nil {
		t.Error("third message should be assistant")
	}

	// Zero request params fall back to descriptor defaults.
	if got := params.Temperature.Or(0); got != 0.7 {
		t.Errorf("temperature = %v, want descriptor default 0.7", got)
	}
	if got := params.MaxCompletionTokens.Or(0); got != 256 {
		t.Errorf("max tokens = %d, want descriptor default 256", got)
	}
}

func TestBuildParams_RequestOverridesDefaults(t *testing.T) {
	p := newTestProvider(t)
	params := p.buildParams(llm.Request{
		Messages: []types.Message{{Role: "user", Content: "Hi"}},
		Params:   types.GenerationParams{Temperature: 1.2, MaxTokens: 64, Timeout: time.Second},
	})
	if got := params.Temperature.Or(0); got != 1.2 {
		t.Errorf("temperature = %v, want request value 1.2", got)
	}
	if got := params.MaxCompletionTokens.Or(0); got != 64 {
		t.Errorf("max tokens = %d, want request value 64", got)
	}
}

func TestDescriptor(t *testing.T) {
	p := newTestProvider(t)
	d := p.Descriptor()
	if d.Name != "fast-remote" {
		t.Errorf("name = %q, want fast-remote", d.Name)
	}
	if d.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", d.Model)
	}
	if p.Name() != d.Name {
		t.Error("Name() must match descriptor")
	}
}
