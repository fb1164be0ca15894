package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher downloads source audio with yt-dlp, extracting a 320k mp3.
type Fetcher struct {
	bin     string
	timeout time.Duration
	runner  runner
	logger  *slog.Logger
}

func NewFetcher(bin string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		bin:     bin,
		timeout: timeout,
		runner:  &execRunner{logger: logger},
		logger:  logger,
	}
}

// Fetch downloads the audio for locator into dest (an .mp3 path) and
// returns the source title reported by the downloader. The output
// template hands yt-dlp the extension so its postprocessor lands exactly
// on dest.
func (f *Fetcher) Fetch(ctx context.Context, locator, dest string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	template := strings.TrimSuffix(dest, ".mp3") + ".%(ext)s"

	result := f.runner.run(ctx, dest, f.bin,
		"--no-playlist",
		"--no-warnings",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "320K",
		"-o", template,
		"--print", "title",
		"--no-simulate",
		locator,
	)
	if !result.IsSuccess() {
		return "", fmt.Errorf("yt-dlp exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("download finished but produced no audio at %s", filepath.Base(dest))
	}

	return firstLine(result.Stdout), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
