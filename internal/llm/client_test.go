package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic-version header")
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["model"] != "claude-sonnet-4-20250514" {
			t.Errorf("model = %v", body["model"])
		}
		if body["system"] != "be terse" {
			t.Errorf("system = %v", body["system"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content": [{"type": "text", "text": "\"good\""}]}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})
	got, err := client.Complete(context.Background(), Request{
		Model:  "claude-sonnet-4-20250514",
		System: "be terse",
		User:   "classify this",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `"good"` {
		t.Errorf("Complete = %q", got)
	}
}

func TestAnthropicRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"content": [{"type": "text", "text": "ok"}]}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: 3})
	got, err := client.Complete(context.Background(), Request{Model: "m", User: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" {
		t.Errorf("Complete = %q", got)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestAnthropicDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: 3})
	_, err := client.Complete(context.Background(), Request{Model: "m", User: "u"})
	if err == nil {
		t.Fatal("Complete succeeded on 401")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth failure)", calls.Load())
	}
}

func TestOpenAICompleteWithSchemaHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}

		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			ResponseFormat struct {
				Type       string `json:"type"`
				JSONSchema struct {
					Strict bool            `json:"strict"`
					Schema json.RawMessage `json:"schema"`
				} `json:"json_schema"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", body.Messages)
		}
		if body.ResponseFormat.Type != "json_schema" || !body.ResponseFormat.JSONSchema.Strict {
			t.Errorf("response_format = %+v", body.ResponseFormat)
		}

		w.Write([]byte(`{"choices": [{"message": {"content": "{\"label\": \"good\"}"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	got, err := client.Complete(context.Background(), Request{
		Model:      "gpt-4o",
		System:     "be terse",
		User:       "classify this",
		SchemaHint: `{"type": "object"}`,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"label": "good"}` {
		t.Errorf("Complete = %q", got)
	}
}

func TestCompleteRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Complete(ctx, Request{Model: "m", User: "u"})
	if err == nil {
		t.Fatal("Complete succeeded against a failing server")
	}
	// Backoff must yield to the context instead of sleeping out the full
	// retry schedule.
	if time.Since(start) > 2*time.Second {
		t.Errorf("Complete blocked %v past its context deadline", time.Since(start))
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate_limit", &ProviderError{Status: 429, Transient: true}, true},
		{"server_error", &ProviderError{Status: 500, Transient: true}, true},
		{"auth", &ProviderError{Status: 401}, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMissingAPIKey(t *testing.T) {
	client := NewAnthropicClient(AnthropicConfig{})
	if _, err := client.Complete(context.Background(), Request{Model: "m", User: "u"}); err == nil {
		t.Error("Complete succeeded without an API key")
	}
}

func TestDefaultTeacherModel(t *testing.T) {
	if DefaultTeacherModel("openai") != "gpt-4o" {
		t.Error("openai default mismatch")
	}
	if DefaultTeacherModel("gemini") != "gemini-2.0-flash" {
		t.Error("gemini default mismatch")
	}
	if DefaultTeacherModel("anthropic") == "" || DefaultTeacherModel("") == "" {
		t.Error("anthropic default empty")
	}
}
