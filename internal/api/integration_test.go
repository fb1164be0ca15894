package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/recapd/recapd-server/internal/artifact"
	"github.com/recapd/recapd-server/internal/db"
	"github.com/recapd/recapd-server/internal/pipeline"
	"github.com/recapd/recapd-server/internal/scheduler"
	"github.com/recapd/recapd-server/internal/task"
	"github.com/recapd/recapd-server/internal/transcript"
)

// Stage stubs standing in for the subprocess and HTTP collaborators so a
// full submit-to-download round trip runs in-process.

type stubFetcher struct{ title string }

func (f *stubFetcher) Fetch(_ context.Context, _, dest string) (string, error) {
	if err := os.WriteFile(dest, []byte("mp3"), 0644); err != nil {
		return "", err
	}
	return f.title, nil
}

type stubSegmenter struct{ windows []pipeline.Window }

func (s *stubSegmenter) Plan(_ context.Context, _ string) ([]pipeline.Window, error) {
	return s.windows, nil
}

func (s *stubSegmenter) Extract(_ context.Context, _ string, _ pipeline.Window, dest string) error {
	return os.WriteFile(dest, []byte("wav"), 0644)
}

type stubTranscriber struct{}

func (t *stubTranscriber) Transcribe(_ context.Context, wavPath string) (*transcript.Result, error) {
	text := "words from " + filepath.Base(wavPath)
	return &transcript.Result{
		Text:  text,
		Spans: []transcript.Span{{Start: 0, End: 1, Text: text}},
	}, nil
}

type stubTransformer struct{}

func (s *stubTransformer) Transform(_ context.Context, _ string) (string, error) {
	return "<h2>Overview</h2><p>A short talk about schedulers.</p>", nil
}

type stubRenderer struct{}

func (s *stubRenderer) Render(doc pipeline.Document) ([]byte, error) {
	return []byte("<html><body><h1>" + doc.Title + "</h1>" + doc.Content + "</body></html>"), nil
}

// newIntegrationConfig wires the router against a live worker pool running
// the real orchestrator, with only the external tools stubbed out.
func newIntegrationConfig(t *testing.T, title string) ServerConfig {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := task.NewStore(database.Conn())
	artifacts := artifact.NewStore(t.TempDir())

	orch := pipeline.New(pipeline.Config{
		Store:     store,
		Artifacts: artifacts,
		Fetcher:   &stubFetcher{title: title},
		Segmenter: &stubSegmenter{windows: []pipeline.Window{
			{Index: 0, Start: 0, Length: 20},
			{Index: 1, Start: 18, Length: 20},
		}},
		Transcriber: &stubTranscriber{},
		Transformer: &stubTransformer{},
		Renderer:    &stubRenderer{},
		Logger:      logger,
	})

	pool := scheduler.NewPool(1, 4, scheduler.ProcessorFunc(func(ctx context.Context, job scheduler.Job) {
		orch.Run(ctx, job.TaskID, job.JobKey, job.Locator)
	}), logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		pool.Wait()
	})
	pool.Start(ctx)

	return ServerConfig{
		Host:          "127.0.0.1",
		Port:          8452,
		Version:       "test",
		RetentionDays: 30,
		Store:         store,
		Pool:          pool,
		Artifacts:     artifacts,
		Logger:        logger,
		StartTime:     time.Now(),
	}
}

func waitForTerminal(t *testing.T, cfg ServerConfig, taskID string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rr := doRequest(t, cfg, http.MethodGet, "/jobs/"+taskID, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("GET /jobs/%s status = %d", taskID, rr.Code)
		}
		body := decodeJSONBody(t, rr)
		if status, _ := body["status"].(string); status == task.StatusCompleted || status == task.StatusFailed {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal status in time", taskID)
	return nil
}

func TestSubmitToResult_Integration(t *testing.T) {
	cfg := newIntegrationConfig(t, "Scheduler Deep Dive")

	rr := doRequest(t, cfg, http.MethodPost, "/jobs",
		`{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /jobs status = %d, body = %s", rr.Code, rr.Body.String())
	}
	taskID := decodeJSONBody(t, rr)["task_id"].(string)

	final := waitForTerminal(t, cfg, taskID)
	if final["status"] != task.StatusCompleted {
		t.Fatalf("final status = %v, error = %v", final["status"], final["error_message"])
	}
	if final["segment_count"] != float64(2) {
		t.Errorf("segment_count = %v, want 2", final["segment_count"])
	}
	if final["source_title"] != "Scheduler Deep Dive" {
		t.Errorf("source_title = %v, want fetched title", final["source_title"])
	}

	rr = doRequest(t, cfg, http.MethodGet, "/jobs/"+taskID+"/result", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET result status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "<h1>Scheduler Deep Dive</h1>") {
		t.Errorf("result body missing rendered title: %s", rr.Body.String())
	}
	disposition := rr.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, `filename="Scheduler Deep Dive_summary.html"`) {
		t.Errorf("Content-Disposition = %q", disposition)
	}

	rr = doRequest(t, cfg, http.MethodGet, "/jobs/"+taskID+"/events", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET events status = %d", rr.Code)
	}
	events := decodeJSONBody(t, rr)["events"].([]interface{})
	if len(events) < 3 {
		t.Fatalf("len(events) = %d, want at least created, processing and completed", len(events))
	}
	newest := events[0].(map[string]interface{})
	oldest := events[len(events)-1].(map[string]interface{})
	if newest["event_type"] != task.EventStatusChange || !strings.Contains(newest["message"].(string), task.StatusCompleted) {
		t.Errorf("newest event = %v, want completed status change", newest)
	}
	if oldest["event_type"] != task.EventCreated {
		t.Errorf("oldest event = %v, want created", oldest)
	}
}

func TestSubmitToResult_Integration_ResubmitAfterCompletion(t *testing.T) {
	cfg := newIntegrationConfig(t, "Scheduler Deep Dive")

	rr := doRequest(t, cfg, http.MethodPost, "/jobs",
		`{"url":"https://youtu.be/dQw4w9WgXcQ"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("first POST /jobs status = %d", rr.Code)
	}
	firstID := decodeJSONBody(t, rr)["task_id"].(string)
	if got := waitForTerminal(t, cfg, firstID)["status"]; got != task.StatusCompleted {
		t.Fatalf("first run status = %v", got)
	}

	// The key is released once the run finishes, so the same source can be
	// submitted again and short-circuits off the existing artifacts. The
	// release trails the final status write, so tolerate a brief 409.
	deadline := time.Now().Add(2 * time.Second)
	rr = doRequest(t, cfg, http.MethodPost, "/jobs",
		`{"url":"https://youtu.be/dQw4w9WgXcQ"}`)
	for rr.Code == http.StatusConflict && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		rr = doRequest(t, cfg, http.MethodPost, "/jobs",
			`{"url":"https://youtu.be/dQw4w9WgXcQ"}`)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("second POST /jobs status = %d, body = %s", rr.Code, rr.Body.String())
	}
	secondID := decodeJSONBody(t, rr)["task_id"].(string)
	if secondID == firstID {
		t.Fatalf("resubmission reused task id %s", firstID)
	}
	if got := waitForTerminal(t, cfg, secondID)["status"]; got != task.StatusCompleted {
		t.Fatalf("second run status = %v", got)
	}
}
