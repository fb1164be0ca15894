package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/recapd/recapd-server/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		BaseURL:     baseURL,
		Model:       "deepseek-r1:32b",
		Temperature: 0.3,
		Timeout:     5 * time.Second,
	}
}

func completionResponse(content string) string {
	resp := map[string]any{
		"model": "deepseek-r1:32b",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestTransform_SendsChatCompletion(t *testing.T) {
	var gotReq ChatCompletionRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, completionResponse("<p>A tidy summary.</p>"))
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL+"/v1"), testLogger())

	got, err := c.Transform(context.Background(), "raw transcript text")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got != "<p>A tidy summary.</p>" {
		t.Errorf("content = %q", got)
	}

	if gotAuth != "" {
		t.Errorf("Authorization sent without an API key: %q", gotAuth)
	}
	if gotReq.Model != "deepseek-r1:32b" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if gotReq.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", gotReq.Temperature)
	}
	if len(gotReq.Messages) != 2 {
		t.Fatalf("got %d messages, want system + user", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" || !strings.Contains(gotReq.Messages[0].Content, "HTML") {
		t.Errorf("system message = %+v", gotReq.Messages[0])
	}
	if gotReq.Messages[1].Role != "user" || gotReq.Messages[1].Content != "raw transcript text" {
		t.Errorf("user message = %+v", gotReq.Messages[1])
	}
}

func TestTransform_BearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, completionResponse("ok"))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.APIKey = "sk-test"
	c := NewClient(cfg, testLogger())

	if _, err := c.Transform(context.Background(), "text"); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want Bearer sk-test", gotAuth)
	}
}

func TestTransform_StripsReasoning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionResponse("<think>\nlet me reason about this\n</think>\n<p>Clean output.</p>"))
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL), testLogger())

	got, err := c.Transform(context.Background(), "text")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got != "<p>Clean output.</p>" {
		t.Errorf("content = %q, want reasoning removed", got)
	}
}

func TestTransform_OnlyReasoning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionResponse("<think>nothing else</think>"))
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL), testLogger())

	if _, err := c.Transform(context.Background(), "text"); err == nil {
		t.Fatal("expected error when model returns only reasoning")
	}
}

func TestTransform_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL), testLogger())

	_, err := c.Transform(context.Background(), "text")
	if err == nil {
		t.Fatal("expected API error")
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("error = %v, want status code mentioned", err)
	}
}

func TestTransform_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"m","choices":[]}`)
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL), testLogger())

	if _, err := c.Transform(context.Background(), "text"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"no blocks here", "no blocks here"},
		{"<think>a</think>kept", "kept"},
		{"<think>a</think>one<think>b\nb</think> two", "one two"},
		{"  \n<think>only</think>\n  ", ""},
	}
	for _, tt := range tests {
		if got := StripReasoning(tt.in); got != tt.want {
			t.Errorf("StripReasoning(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
