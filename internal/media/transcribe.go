package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/recapd/recapd-server/internal/transcript"
)

// Transcriber runs a whisper.cpp style CLI over a WAV segment and parses
// the JSON it writes alongside.
type Transcriber struct {
	bin     string
	model   string
	timeout time.Duration
	runner  runner
	logger  *slog.Logger
}

func NewTranscriber(bin, model string, timeout time.Duration, logger *slog.Logger) *Transcriber {
	return &Transcriber{
		bin:     bin,
		model:   model,
		timeout: timeout,
		runner:  &execRunner{logger: logger},
		logger:  logger,
	}
}

// whisperOutput mirrors the JSON produced by the -oj flag. Offsets are
// milliseconds from the start of the input file.
type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func (t *Transcriber) Transcribe(ctx context.Context, wavPath string) (*transcript.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	outBase := strings.TrimSuffix(wavPath, ".wav")
	outPath := outBase + ".json"

	args := []string{"-f", wavPath, "-oj", "-of", outBase, "-np"}
	if t.model != "" {
		args = append([]string{"-m", t.model}, args...)
	}

	result := t.runner.run(ctx, outPath, t.bin, args...)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("whisper exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read whisper output: %w", err)
	}
	defer os.Remove(outPath) // raw tool output, superseded by our own artifact

	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse whisper JSON: %w", err)
	}

	res := &transcript.Result{}
	var parts []string
	for _, seg := range out.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		res.Spans = append(res.Spans, transcript.Span{
			Start: float64(seg.Offsets.From) / 1000.0,
			End:   float64(seg.Offsets.To) / 1000.0,
			Text:  text,
		})
	}
	res.Text = strings.Join(parts, " ")
	return res, nil
}
