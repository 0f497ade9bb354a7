package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/types"
)

// mockChatServer starts a test HTTP server that answers GET / (liveness) and
// POST /api/chat with the supplied handler.
func mockChatServer(t *testing.T, chat http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/" && r.Method == http.MethodGet:
			fmt.Fprint(w, "Ollama is running")
		case r.URL.Path == "/api/chat" && r.Method == http.MethodPost:
			chat(w, r)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "", "llama3.2", types.GenerationParams{}); err == nil {
		t.Error("empty name should be rejected")
	}
	if _, err := New("local", "", "", types.GenerationParams{}); err == nil {
		t.Error("empty model should be rejected")
	}

	p, err := New("local", "http://example.com/", "llama3.2", types.GenerationParams{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Descriptor().Endpoint != "http://example.com" {
		t.Errorf("endpoint = %q, trailing slash should be stripped", p.Descriptor().Endpoint)
	}
}

func TestGenerate(t *testing.T) {
	srv := mockChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama3.2" {
			t.Errorf("model = %q, want llama3.2", req.Model)
		}
		if req.Stream {
			t.Error("Generate must not request streaming")
		}
		if req.Options == nil || req.Options.Temperature == nil || *req.Options.Temperature != 0.5 {
			t.Error("temperature option should be forwarded")
		}
		json.NewEncoder(w).Encode(chatResponse{
			Message:    chatMessage{Role: "assistant", Content: "Hello there."},
			Done:       true,
			DoneReason: "stop",
			EvalCount:  7,
		})
	})
	defer srv.Close()

	p, err := New("local", srv.URL, "llama3.2", types.GenerationParams{Temperature: 0.5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Generate(context.Background(), llm.Request{
		Messages: []types.Message{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "Hello there." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Provider != "local" || resp.Model != "llama3.2" {
		t.Errorf("attribution = %q/%q", resp.Provider, resp.Model)
	}
	if resp.TokenCount != 7 {
		t.Errorf("token count = %d, want 7", resp.TokenCount)
	}
	if resp.Reason != types.ReasonComplete {
		t.Errorf("reason = %q, want complete", resp.Reason)
	}
}

func TestGenerate_ErrorStatusClassified(t *testing.T) {
	srv := mockChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model busy", http.StatusTooManyRequests)
	})
	defer srv.Close()

	p, err := New("local", srv.URL, "llama3.2", types.GenerationParams{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Generate(context.Background(), llm.Request{
		Messages: []types.Message{{Role: "user", Content: "Hi"}},
	})
	var pe *llm.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error %v is not a ProviderError", err)
	}
	if pe.Class != llm.ClassRateLimited || pe.Status != 429 {
		t.Errorf("class/status = %v/%d, want rate_limited/429", pe.Class, pe.Status)
	}
}

func TestStream(t *testing.T) {
	srv := mockChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("Stream must request streaming")
		}
		enc := json.NewEncoder(w)
		enc.Encode(chatResponse{Message: chatMessage{Content: "Hel"}})
		enc.Encode(chatResponse{Message: chatMessage{Content: "lo."}})
		enc.Encode(chatResponse{Done: true, DoneReason: "stop", EvalCount: 2})
	})
	defer srv.Close()

	p, err := New("local", srv.URL, "llama3.2", types.GenerationParams{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.Stream(context.Background(), llm.Request{
		Messages: []types.Message{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text string
	var finish types.TerminalReason
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		text += chunk.Text
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if text != "Hello." {
		t.Errorf("streamed text = %q, want Hello.", text)
	}
	if finish != types.ReasonComplete {
		t.Errorf("finish = %q, want complete", finish)
	}
}

func TestIsAvailable_Probe(t *testing.T) {
	srv := mockChatServer(t, func(w http.ResponseWriter, r *http.Request) {})
	p, err := New("local", srv.URL, "llama3.2", types.GenerationParams{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !p.IsAvailable() {
		t.Error("running server should report available")
	}

	// Cached probe survives server shutdown within the TTL.
	srv.Close()
	if !p.IsAvailable() {
		t.Error("probe result should be cached")
	}

	// A fresh provider pointed at the dead server fails the probe.
	dead, err := New("local", srv.URL, "llama3.2", types.GenerationParams{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if dead.IsAvailable() {
		t.Error("dead server should report unavailable")
	}
}
