// Package pipeline drives one job through fetch, segment, transcribe,
// combine, transform and render. Stage completion lives on disk: a stage
// whose artifact already exists is skipped, so a rerun resumes at the
// first missing artifact instead of starting over.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/recapd/recapd-server/internal/artifact"
	"github.com/recapd/recapd-server/internal/task"
	"github.com/recapd/recapd-server/internal/transcript"
)

// StageError tags a failure with the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store       task.Store
	Artifacts   *artifact.Store
	Fetcher     Fetcher
	Segmenter   Segmenter
	Transcriber Transcriber
	Transformer Transformer
	Renderer    Renderer
	Logger      *slog.Logger
}

type Orchestrator struct {
	store       task.Store
	artifacts   *artifact.Store
	fetcher     Fetcher
	segmenter   Segmenter
	transcriber Transcriber
	transformer Transformer
	renderer    Renderer
	logger      *slog.Logger
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		store:       cfg.Store,
		artifacts:   cfg.Artifacts,
		fetcher:     cfg.Fetcher,
		segmenter:   cfg.Segmenter,
		transcriber: cfg.Transcriber,
		transformer: cfg.Transformer,
		renderer:    cfg.Renderer,
		logger:      cfg.Logger,
	}
}

// Run executes the pipeline for one accepted job. It does not return an
// error: the outcome lands in the task record, and the artifacts on disk
// keep whatever progress was made for the next attempt.
func (o *Orchestrator) Run(ctx context.Context, taskID, jobKey, locator string) {
	logger := o.logger.With("task_id", taskID, "job_key", jobKey)
	start := time.Now()

	if err := o.artifacts.EnsureWorkspace(jobKey); err != nil {
		o.fail(ctx, taskID, logger, stageErr("workspace", err))
		return
	}

	if !o.transition(ctx, taskID, logger, task.StatusProcessing,
		&task.Progress{Stage: "initializing", Message: "starting pipeline"}) {
		return
	}

	if o.artifacts.Completed(jobKey) {
		logger.Info("terminal artifacts already present, skipping all stages")
		o.complete(ctx, taskID, jobKey, logger, start, "reused existing artifacts")
		return
	}

	title, err := o.runFetch(ctx, taskID, jobKey, locator, logger)
	if err != nil {
		o.fail(ctx, taskID, logger, err)
		return
	}
	if title != "" {
		o.recordMetadata(ctx, taskID, logger, map[string]any{"source_title": title})
	} else if rec, gerr := o.store.Get(ctx, taskID); gerr == nil && rec != nil {
		title = rec.SourceTitle
	}

	var combined *transcript.Combined
	combinedPath := o.artifacts.TranscriptPath(jobKey)
	if o.artifacts.Exists(combinedPath) && o.artifacts.Exists(o.artifacts.TranscriptTextPath(jobKey)) {
		logger.Info("combined transcript present, skipping segmentation and transcription")
		combined, err = readCombined(combinedPath)
		if err != nil {
			o.fail(ctx, taskID, logger, err)
			return
		}
	} else {
		windows, serr := o.runSegment(ctx, taskID, jobKey, logger)
		if serr != nil {
			o.fail(ctx, taskID, logger, serr)
			return
		}
		combined, err = o.runTranscribe(ctx, taskID, jobKey, title, windows, logger)
		if err != nil {
			o.fail(ctx, taskID, logger, err)
			return
		}
	}
	if title == "" {
		title = combined.Title
	}

	o.recordMetadata(ctx, taskID, logger, map[string]any{
		"segment_count":     combined.SegmentCount,
		"transcript_length": len(combined.Text),
	})

	content, err := o.runTransform(ctx, taskID, jobKey, combined, logger)
	if err != nil {
		o.fail(ctx, taskID, logger, err)
		return
	}

	if err := o.runRender(ctx, taskID, jobKey, title, content, logger); err != nil {
		o.fail(ctx, taskID, logger, err)
		return
	}

	o.complete(ctx, taskID, jobKey, logger, start, "pipeline complete")
}

func (o *Orchestrator) runFetch(ctx context.Context, taskID, jobKey, locator string, logger *slog.Logger) (string, error) {
	audioPath := o.artifacts.AudioPath(jobKey)
	if o.artifacts.Exists(audioPath) {
		logger.Info("audio artifact present, skipping fetch")
		return "", nil
	}

	o.progress(ctx, taskID, logger, &task.Progress{Stage: "fetch", Message: "downloading audio"})

	title, err := o.fetcher.Fetch(ctx, locator, audioPath)
	if err != nil {
		return "", stageErr("fetch", err)
	}
	logger.Info("audio downloaded", "title", title)
	return title, nil
}

func (o *Orchestrator) runSegment(ctx context.Context, taskID, jobKey string, logger *slog.Logger) ([]Window, error) {
	o.progress(ctx, taskID, logger, &task.Progress{Stage: "segment", Message: "planning audio windows"})

	audioPath := o.artifacts.AudioPath(jobKey)
	windows, err := o.segmenter.Plan(ctx, audioPath)
	if err != nil {
		return nil, stageErr("segment", err)
	}
	if len(windows) == 0 {
		return nil, stageErr("segment", errors.New("no extractable audio windows"))
	}

	extracted := 0
	for _, w := range windows {
		dest := o.artifacts.SegmentPath(jobKey, w.Index)
		if o.artifacts.Exists(dest) {
			continue
		}
		if err := o.segmenter.Extract(ctx, audioPath, w, dest); err != nil {
			return nil, stageErr("segment", err)
		}
		extracted++
	}
	logger.Info("segmentation done", "windows", len(windows), "extracted", extracted)
	return windows, nil
}

func (o *Orchestrator) runTranscribe(ctx context.Context, taskID, jobKey, title string, windows []Window, logger *slog.Logger) (*transcript.Combined, error) {
	segments := make([]transcript.Segment, 0, len(windows))
	transcribed := 0

	for i, w := range windows {
		segPath := o.artifacts.SegmentTranscriptPath(jobKey, w.Index)
		if o.artifacts.Exists(segPath) {
			seg, err := readSegment(segPath)
			if err == nil {
				segments = append(segments, *seg)
				continue
			}
			logger.Warn("unreadable segment transcript, redoing shard",
				"index", w.Index, "error", err)
		}

		pct := float64(i) * 100 / float64(len(windows))
		o.progress(ctx, taskID, logger, &task.Progress{
			Stage:   "transcribe",
			Message: fmt.Sprintf("transcribing segment %d of %d", i+1, len(windows)),
			Percent: &pct,
		})

		res, err := o.transcriber.Transcribe(ctx, o.artifacts.SegmentPath(jobKey, w.Index))
		if err != nil {
			return nil, stageErr("transcribe", err)
		}

		seg := transcript.Segment{
			Index:  w.Index,
			Offset: w.Start,
			Text:   res.Text,
			Spans:  res.Spans,
		}
		data, err := json.MarshalIndent(seg, "", "  ")
		if err != nil {
			return nil, stageErr("transcribe", err)
		}
		if err := o.artifacts.WriteFile(segPath, data); err != nil {
			return nil, stageErr("transcribe", err)
		}
		segments = append(segments, seg)
		transcribed++
	}
	logger.Info("transcription done", "segments", len(segments), "transcribed", transcribed)

	combined := transcript.Combine(jobKey, title, segments)
	if combined.Text == "" {
		return nil, stageErr("transcribe", errors.New("transcription produced no text"))
	}

	data, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return nil, stageErr("combine", err)
	}
	if err := o.artifacts.WriteFile(o.artifacts.TranscriptPath(jobKey), data); err != nil {
		return nil, stageErr("combine", err)
	}
	if err := o.artifacts.WriteFile(o.artifacts.TranscriptTextPath(jobKey), []byte(combined.Text)); err != nil {
		return nil, stageErr("combine", err)
	}

	return combined, nil
}

func (o *Orchestrator) runTransform(ctx context.Context, taskID, jobKey string, combined *transcript.Combined, logger *slog.Logger) (string, error) {
	contentPath := o.artifacts.ContentPath(jobKey)
	if o.artifacts.Exists(contentPath) {
		logger.Info("transformed content present, skipping model call")
		data, err := os.ReadFile(contentPath)
		if err != nil {
			return "", stageErr("transform", err)
		}
		return string(data), nil
	}

	o.progress(ctx, taskID, logger, &task.Progress{Stage: "transform", Message: "generating summary content"})

	content, err := o.transformer.Transform(ctx, combined.Text)
	if err != nil {
		return "", stageErr("transform", err)
	}
	if err := o.artifacts.WriteFile(contentPath, []byte(content)); err != nil {
		return "", stageErr("transform", err)
	}
	logger.Info("summary content generated", "chars", len(content))
	return content, nil
}

func (o *Orchestrator) runRender(ctx context.Context, taskID, jobKey, title, content string, logger *slog.Logger) error {
	outPath := o.artifacts.OutputPath(jobKey)
	if o.artifacts.Exists(outPath) {
		logger.Info("summary page present, skipping render")
		return nil
	}

	o.progress(ctx, taskID, logger, &task.Progress{Stage: "render", Message: "rendering summary page"})

	if title == "" {
		title = jobKey
	}
	page, err := o.renderer.Render(Document{Title: title, Content: content})
	if err != nil {
		return stageErr("render", err)
	}
	if err := o.artifacts.WriteFile(outPath, page); err != nil {
		return stageErr("render", err)
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, taskID, jobKey string, logger *slog.Logger, start time.Time, msg string) {
	elapsed := time.Since(start).Seconds()
	meta := map[string]any{"processing_time": elapsed}
	if info, err := os.Stat(o.artifacts.OutputPath(jobKey)); err == nil {
		meta["output_size"] = info.Size()
	}
	o.recordMetadata(ctx, taskID, logger, meta)

	pct := 100.0
	ok, err := o.store.UpdateStatus(ctx, taskID, task.StatusCompleted,
		&task.Progress{Stage: "done", Message: msg, Percent: &pct}, "")
	if err != nil {
		logger.Error("failed to mark task completed", "error", err)
		return
	}
	if !ok {
		logger.Warn("task record missing at completion")
		return
	}
	logger.Info("job completed", "elapsed_s", elapsed)
}

func (o *Orchestrator) fail(ctx context.Context, taskID string, logger *slog.Logger, err error) {
	logger.Error("pipeline run failed", "error", err)

	stage := "pipeline"
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}

	ok, uerr := o.store.UpdateStatus(ctx, taskID, task.StatusFailed,
		&task.Progress{Stage: stage, Message: "failed"}, err.Error())
	if uerr != nil {
		logger.Error("failed to mark task failed", "error", uerr)
		return
	}
	if !ok {
		logger.Warn("task record missing at failure")
	}
}

// transition moves the task to a new status. A false return means the
// record is gone and the run should stop.
func (o *Orchestrator) transition(ctx context.Context, taskID string, logger *slog.Logger, status string, progress *task.Progress) bool {
	ok, err := o.store.UpdateStatus(ctx, taskID, status, progress, "")
	if err != nil {
		logger.Error("failed to update task status", "status", status, "error", err)
		return true
	}
	if !ok {
		logger.Warn("task record deleted, abandoning run")
		return false
	}
	return true
}

// progress updates are best-effort.
func (o *Orchestrator) progress(ctx context.Context, taskID string, logger *slog.Logger, p *task.Progress) {
	if _, err := o.store.UpdateProgress(ctx, taskID, p); err != nil {
		logger.Error("failed to update progress", "error", err)
	}
}

func (o *Orchestrator) recordMetadata(ctx context.Context, taskID string, logger *slog.Logger, meta map[string]any) {
	if _, err := o.store.UpdateMetadata(ctx, taskID, meta); err != nil {
		logger.Error("failed to update task metadata", "error", err)
	}
}

func readCombined(path string) (*transcript.Combined, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stageErr("combine", err)
	}
	var c transcript.Combined
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, stageErr("combine", fmt.Errorf("unreadable combined transcript: %w", err))
	}
	return &c, nil
}

func readSegment(path string) (*transcript.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seg transcript.Segment
	if err := json.Unmarshal(data, &seg); err != nil {
		return nil, err
	}
	return &seg, nil
}
