package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/recapd/recapd-server/internal/pipeline"
)

// Segmenter cuts source audio into overlapping mono 16 kHz WAV windows
// sized for the transcription model.
type Segmenter struct {
	cfg    SegmenterConfig
	runner runner
	logger *slog.Logger
}

// SegmenterConfig holds the tool paths and windowing parameters.
type SegmenterConfig struct {
	FFmpeg         string
	FFprobe        string
	WindowMS       int
	OverlapMS      int
	MinMS          int
	ProbeTimeout   time.Duration
	ExtractTimeout time.Duration
}

func NewSegmenter(cfg SegmenterConfig, logger *slog.Logger) *Segmenter {
	return &Segmenter{
		cfg:    cfg,
		runner: &execRunner{logger: logger},
		logger: logger,
	}
}

// Plan probes the audio duration and lays out extraction windows. The
// plan depends only on the audio file and the configured window sizes,
// so re-planning after a restart yields the same cuts.
func (s *Segmenter) Plan(ctx context.Context, audioPath string) ([]pipeline.Window, error) {
	duration, err := s.probeDuration(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	windows := PlanWindows(duration, s.cfg.WindowMS, s.cfg.OverlapMS, s.cfg.MinMS)
	s.logger.Debug("segmentation planned",
		"duration_s", duration,
		"windows", len(windows),
	)
	return windows, nil
}

// PlanWindows computes overlapping windows over a clip of the given
// duration. The final fragment is dropped when shorter than minMS.
func PlanWindows(durationSec float64, windowMS, overlapMS, minMS int) []pipeline.Window {
	window := float64(windowMS) / 1000.0
	step := float64(windowMS-overlapMS) / 1000.0
	minLen := float64(minMS) / 1000.0

	var windows []pipeline.Window
	for start := 0.0; start < durationSec; start += step {
		length := window
		if start+length > durationSec {
			length = durationSec - start
		}
		if length < minLen {
			break
		}
		windows = append(windows, pipeline.Window{
			Index:  len(windows),
			Start:  start,
			Length: length,
		})
	}
	return windows
}

func (s *Segmenter) probeDuration(ctx context.Context, audioPath string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	result := s.runner.run(ctx, "", s.cfg.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		audioPath,
	)
	if !result.IsSuccess() {
		return 0, fmt.Errorf("ffprobe exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	raw := strings.TrimSpace(result.Stdout)
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse ffprobe duration %q: %w", raw, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("ffprobe reported non-positive duration %v", duration)
	}
	return duration, nil
}

// Extract cuts one window of audioPath to dest as mono 16 kHz 16-bit PCM.
func (s *Segmenter) Extract(ctx context.Context, audioPath string, w pipeline.Window, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExtractTimeout)
	defer cancel()

	result := s.runner.run(ctx, dest, s.cfg.FFmpeg,
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(w.Start),
		"-t", formatSeconds(w.Length),
		"-i", audioPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	)
	if !result.IsSuccess() {
		os.Remove(dest) // never leave a partial cut behind
		return fmt.Errorf("ffmpeg exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
