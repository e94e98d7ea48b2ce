package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func anthropicSuccess(text string) map[string]interface{} {
	return map[string]interface{}{
		"content": []map[string]string{{"type": "text", "text": text}},
		"usage":   map[string]int{"input_tokens": 15, "output_tokens": 8},
	}
}

func TestAnthropicProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s, want /messages", r.URL.Path)
		}
		if key := r.Header.Get("x-api-key"); key != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", key)
		}
		if v := r.Header.Get("anthropic-version"); v != "2023-06-01" {
			t.Errorf("anthropic-version = %q", v)
		}
		json.NewEncoder(w).Encode(anthropicSuccess("The feline perched on the rug."))
	}))
	defer server.Close()

	p := NewAnthropicProvider("test-key", "")
	res, err := p.Generate(context.Background(), Config{BaseURL: server.URL}, GenerateRequest{
		Prompt:    "paraphrase this",
		MaxTokens: 2000,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "The feline perched on the rug." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Metadata["model"] != DefaultAnthropicModel {
		t.Errorf("model = %q, want %s", res.Metadata["model"], DefaultAnthropicModel)
	}
}

func TestAnthropicProvider_ModelFallbackOn404(t *testing.T) {
	var calls atomic.Int32
	var modelsSeen []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		modelsSeen = append(modelsSeen, body.Model)

		// The configured model has been retired; the first fallback works.
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(anthropicSuccess("fallback response"))
	}))
	defer server.Close()

	p := NewAnthropicProvider("test-key", "claude-sonnet-retired")
	res, err := p.Generate(context.Background(), Config{BaseURL: server.URL}, GenerateRequest{Prompt: "x", MaxTokens: 100})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "fallback response" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(modelsSeen) != 2 {
		t.Fatalf("calls = %d, want 2", len(modelsSeen))
	}
	if modelsSeen[0] != "claude-sonnet-retired" {
		t.Errorf("first model = %q", modelsSeen[0])
	}
	if modelsSeen[1] != anthropicFallbackModels[0] {
		t.Errorf("second model = %q, want %s", modelsSeen[1], anthropicFallbackModels[0])
	}
	if res.Metadata["model"] != anthropicFallbackModels[0] {
		t.Errorf("metadata model = %q, want the fallback", res.Metadata["model"])
	}
}

func TestAnthropicProvider_NoFallbackOnServerError(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewAnthropicProvider("test-key", "")
	_, err := p.Generate(context.Background(), Config{BaseURL: server.URL}, GenerateRequest{Prompt: "x", MaxTokens: 100})

	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != KindUnavailable {
		t.Errorf("kind = %s, want %s", got, KindUnavailable)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (5xx must not trigger model fallback)", got)
	}
}
