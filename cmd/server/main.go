package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/recapd/recapd-server/internal/api"
	"github.com/recapd/recapd-server/internal/artifact"
	"github.com/recapd/recapd-server/internal/config"
	"github.com/recapd/recapd-server/internal/db"
	"github.com/recapd/recapd-server/internal/diagnostics"
	"github.com/recapd/recapd-server/internal/llm"
	"github.com/recapd/recapd-server/internal/logging"
	"github.com/recapd/recapd-server/internal/media"
	"github.com/recapd/recapd-server/internal/pipeline"
	"github.com/recapd/recapd-server/internal/render"
	"github.com/recapd/recapd-server/internal/scheduler"
	"github.com/recapd/recapd-server/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkspaceDir(), 0755); err != nil {
		return fmt.Errorf("failed to create workspace dir: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.LogLevel)
	logger.Info("starting recapd", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	store := task.NewStore(database.Conn())
	artifacts := artifact.NewStore(cfg.WorkspaceDir())

	fetcher := media.NewFetcher(cfg.Tools.YTDLP, cfg.Tools.FetchTimeout, logger)
	segmenter := media.NewSegmenter(media.SegmenterConfig{
		FFmpeg:         cfg.Tools.FFmpeg,
		FFprobe:        cfg.Tools.FFprobe,
		WindowMS:       cfg.Segment.WindowMS,
		OverlapMS:      cfg.Segment.OverlapMS,
		MinMS:          cfg.Segment.MinMS,
		ProbeTimeout:   cfg.Tools.ProbeTimeout,
		ExtractTimeout: cfg.Tools.ExtractTimeout,
	}, logger)
	transcriber := media.NewTranscriber(cfg.Tools.Whisper, cfg.Tools.WhisperModel,
		cfg.Tools.TranscribeTimeout, logger)
	transformer := llm.NewClient(cfg.LLM, logger)
	renderer := render.NewRenderer()

	orch := pipeline.New(pipeline.Config{
		Store:       store,
		Artifacts:   artifacts,
		Fetcher:     fetcher,
		Segmenter:   segmenter,
		Transcriber: transcriber,
		Transformer: transformer,
		Renderer:    renderer,
		Logger:      logger,
	})

	pool := scheduler.NewPool(cfg.Pool.Workers, cfg.Pool.QueueSize,
		scheduler.ProcessorFunc(func(ctx context.Context, job scheduler.Job) {
			orch.Run(ctx, job.TaskID, job.JobKey, job.Locator)
		}), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recovered, err := store.RecoverInterrupted(ctx)
	if err != nil {
		logger.Warn("failed to recover interrupted tasks", "error", err)
	} else if recovered > 0 {
		logger.Info("marked interrupted tasks as failed", "count", recovered)
	}

	queued, err := store.ListQueued(ctx)
	if err != nil {
		logger.Warn("failed to list queued tasks", "error", err)
	} else if len(queued) > 0 {
		jobs := make([]scheduler.Job, len(queued))
		for i, t := range queued {
			jobs[i] = scheduler.Job{TaskID: t.TaskID, JobKey: t.JobKey, Locator: t.SourceLocator}
		}
		logger.Info("requeued jobs from previous run", "count", pool.Requeue(jobs))
	}

	checker := diagnostics.NewChecker(cfg.Tools, cfg.LLM, logger)
	probeCtx, probeCancel := context.WithTimeout(ctx, 15*time.Second)
	caps := checker.Check(probeCtx)
	probeCancel()

	available := 0
	for _, tool := range caps.Tools {
		if tool.Available {
			available++
		}
	}
	logger.Info("startup diagnostics",
		"tools", fmt.Sprintf("%d/%d", available, len(caps.Tools)),
		"llm_reachable", caps.LLM.Reachable,
	)

	pool.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Version:       config.Version,
		RetentionDays: cfg.Retention.Days,
		Store:         store,
		Pool:          pool,
		Artifacts:     artifacts,
		Logger:        logger,
		StartTime:     startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	fmt.Println()
	fmt.Printf("  recapd %s\n", config.Version)
	fmt.Printf("  API:        http://%s\n", apiServer.Addr())
	fmt.Printf("  Data dir:   %s\n", cfg.DataDir())
	fmt.Printf("  Workers:    %d\n", cfg.Pool.Workers)
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	pool.Wait()

	logger.Info("shutdown complete")
	return nil
}
