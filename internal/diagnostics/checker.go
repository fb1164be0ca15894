// Package diagnostics probes the external tools and services the
// pipeline depends on, so a missing binary surfaces at startup instead
// of on the first job.
package diagnostics

import (
	"context"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/recapd/recapd-server/internal/config"
)

// Capabilities is one probe's outcome.
type Capabilities struct {
	Tools    map[string]ToolInfo `json:"tools"`
	LLM      LLMInfo             `json:"llm"`
	ProbedAt time.Time           `json:"probed_at"`
}

type ToolInfo struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

type LLMInfo struct {
	Reachable bool   `json:"reachable"`
	BaseURL   string `json:"base_url"`
	Error     string `json:"error,omitempty"`
}

// Checker resolves the configured tool binaries and pings the model
// endpoint.
type Checker struct {
	tools      map[string]string
	llmBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewChecker(tools config.ToolsConfig, llm config.LLMConfig, logger *slog.Logger) *Checker {
	return &Checker{
		tools: map[string]string{
			"yt-dlp":  tools.YTDLP,
			"ffmpeg":  tools.FFmpeg,
			"ffprobe": tools.FFprobe,
			"whisper": tools.Whisper,
		},
		llmBase:    strings.TrimRight(llm.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// Check probes every dependency. Missing pieces are logged, never fatal:
// a job that needs one fails later with a precise stage error.
func (c *Checker) Check(ctx context.Context) *Capabilities {
	caps := &Capabilities{
		Tools:    make(map[string]ToolInfo, len(c.tools)),
		ProbedAt: time.Now().UTC(),
	}

	for name, bin := range c.tools {
		path, err := exec.LookPath(bin)
		info := ToolInfo{Available: err == nil, Path: path}
		if err != nil {
			info.Error = err.Error()
			c.logger.Warn("tool not found", "tool", name, "binary", bin)
		} else {
			c.logger.Info("tool available", "tool", name, "path", path)
		}
		caps.Tools[name] = info
	}

	caps.LLM = c.probeLLM(ctx)
	return caps
}

func (c *Checker) probeLLM(ctx context.Context) LLMInfo {
	info := LLMInfo{BaseURL: c.llmBase}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.llmBase+"/models", nil)
	if err != nil {
		info.Error = err.Error()
		return info
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		info.Error = err.Error()
		c.logger.Warn("llm endpoint unreachable", "base_url", c.llmBase, "error", err)
		return info
	}
	resp.Body.Close()

	// any HTTP response proves something is listening
	info.Reachable = true
	c.logger.Info("llm endpoint reachable", "base_url", c.llmBase, "status", resp.StatusCode)
	return info
}
