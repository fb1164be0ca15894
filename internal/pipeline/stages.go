package pipeline

import (
	"context"

	"github.com/recapd/recapd-server/internal/transcript"
)

// Window is one planned audio segment: a fixed-length cut with overlap
// into the neighbouring windows. Times are seconds from the start of the
// source audio.
type Window struct {
	Index  int
	Start  float64
	Length float64
}

// Document is what the render stage turns into the final artifact.
type Document struct {
	Title   string
	Content string
}

// The stage collaborators. Implementations live outside the orchestrator
// (subprocess tools, HTTP clients) and must tolerate reruns: producing
// an output that already exists is always safe.

type Fetcher interface {
	// Fetch produces the audio artifact at dest and returns the source
	// title when the backend can report one.
	Fetch(ctx context.Context, locator, dest string) (title string, err error)
}

type Segmenter interface {
	// Plan derives the window list from the audio file alone, so a
	// resumed run recomputes the identical plan.
	Plan(ctx context.Context, audioPath string) ([]Window, error)
	// Extract cuts one window of audioPath to dest.
	Extract(ctx context.Context, audioPath string, w Window, dest string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (*transcript.Result, error)
}

type Transformer interface {
	Transform(ctx context.Context, text string) (string, error)
}

type Renderer interface {
	Render(doc Document) ([]byte, error)
}
