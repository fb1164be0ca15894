// Package media implements the subprocess-backed pipeline stages: audio
// fetch via yt-dlp, windowed extraction via ffmpeg/ffprobe, and speech
// transcription via a whisper.cpp style CLI.
package media

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	maxStderrBytes = 8 * 1024  // tail of stderr kept for diagnostics
	maxStdoutBytes = 64 * 1024 // metadata printed by tools, bounded
)

// RunResult is the outcome of one tool invocation.
type RunResult struct {
	ExitCode   int
	Stdout     string
	StderrTail string
	Duration   time.Duration
}

func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// runner executes external tools. execRunner is the production
// implementation; tests substitute a stub so the binaries are not needed.
type runner interface {
	run(ctx context.Context, outPath, name string, args ...string) RunResult
}

type execRunner struct {
	logger *slog.Logger
}

func (r *execRunner) run(ctx context.Context, outPath, name string, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			r.logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: maxStdoutBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			if stderrBuf.Len() == 0 {
				stderrBuf.WriteString(err.Error())
			}
		}
	}

	if exitCode != 0 {
		r.logger.Warn("tool command failed",
			"tool", filepath.Base(name),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrBuf.String(), 512),
		)
	} else {
		r.logger.Debug("tool command succeeded",
			"tool", filepath.Base(name),
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.String(),
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last `limit` bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
