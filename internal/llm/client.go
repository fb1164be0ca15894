// Package llm turns a combined transcript into presentable summary
// content by calling an OpenAI-compatible chat completions endpoint,
// a local Ollama instance by default.
package llm

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/time/rate"

	"github.com/recapd/recapd-server/internal/config"
)

//go:embed prompt.txt
var summaryPrompt string

// thinkRE matches the reasoning blocks emitted by chain-of-thought
// models such as deepseek-r1. They never belong in the output.
var thinkRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Client is the chat completions client used by the transform stage.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// ChatMessage is one message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the request body for chat completions.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

// ChatCompletionResponse is the subset of the response we consume.
type ChatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient builds a Client from the LLM configuration. A zero
// RequestsPerMinute disables client-side rate limiting.
func NewClient(cfg config.LLMConfig, logger *slog.Logger) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return c
}

// Transform sends the transcript text through the model and returns the
// cleaned summary content.
func (c *Client) Transform(ctx context.Context, text string) (string, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return "", err
	}

	content, err := c.chatCompletion(ctx, summaryPrompt, text)
	if err != nil {
		return "", err
	}

	cleaned := StripReasoning(content)
	if cleaned == "" {
		return "", fmt.Errorf("model returned empty content")
	}

	c.logger.Debug("transform complete",
		"model", c.model,
		"input_chars", len(text),
		"output_chars", len(cleaned),
	)
	return cleaned, nil
}

func (c *Client) chatCompletion(ctx context.Context, system, user string) (string, error) {
	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
		Stream:      false,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}

func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// StripReasoning removes <think> blocks and trims the remainder.
func StripReasoning(s string) string {
	return strings.TrimSpace(thinkRE.ReplaceAllString(s, ""))
}
