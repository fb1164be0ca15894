package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/recapd/recapd-server/internal/scheduler"
	"github.com/recapd/recapd-server/internal/source"
	"github.com/recapd/recapd-server/internal/task"
)

var validate = validator.New()

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Post("/jobs", submitHandler(cfg))
	r.Get("/jobs", listTasksHandler(cfg))
	r.Get("/jobs/stats", statsHandler(cfg))
	r.Get("/jobs/{id}", getTaskHandler(cfg))
	r.Delete("/jobs/{id}", deleteTaskHandler(cfg))
	r.Get("/jobs/{id}/result", resultHandler(cfg))
	r.Get("/jobs/{id}/events", eventsHandler(cfg))
	r.Post("/cleanup", cleanupHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
			Workers: cfg.Pool.Workers(),
		})
	}
}

// submitHandler accepts a source URL, derives its job key and hands the
// job to the pool. The key reservation is taken before the task record is
// written and rolled back on any later failure, so a rejected submission
// leaves neither a record nor a claim behind.
func submitHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := validate.Struct(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "url is required and must be a valid URL", "BAD_REQUEST")
			return
		}

		jobKey, err := source.JobKey(req.URL)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		if err := cfg.Pool.Reserve(jobKey); err != nil {
			WriteError(w, http.StatusConflict,
				"a job for this source is already queued or processing", "DUPLICATE_JOB")
			return
		}

		t := &task.Task{
			TaskID:        task.NewTaskID(),
			JobKey:        jobKey,
			SourceLocator: req.URL,
			Status:        task.StatusQueued,
		}
		if err := cfg.Store.Create(r.Context(), t); err != nil {
			cfg.Pool.Release(jobKey)
			cfg.Logger.Error("failed to create task", "error", err, "job_key", jobKey)
			WriteError(w, http.StatusInternalServerError, "failed to create task", "INTERNAL_ERROR")
			return
		}

		job := scheduler.Job{TaskID: t.TaskID, JobKey: jobKey, Locator: req.URL}
		if err := cfg.Pool.Enqueue(job); err != nil {
			cfg.Pool.Release(jobKey)
			if _, delErr := cfg.Store.Delete(r.Context(), t.TaskID); delErr != nil {
				cfg.Logger.Error("failed to delete task after queue overflow",
					"error", delErr, "task_id", t.TaskID)
			}
			WriteError(w, http.StatusServiceUnavailable, "job queue is full", "QUEUE_FULL")
			return
		}

		cfg.Logger.Info("job accepted", "task_id", t.TaskID, "job_key", jobKey)
		WriteJSON(w, http.StatusOK, SubmitResponse{
			TaskID: t.TaskID,
			JobKey: jobKey,
			Status: t.Status,
		})
	}
}

func getTaskHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		t, err := cfg.Store.Get(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if t == nil {
			WriteError(w, http.StatusNotFound, "task not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, TaskToResponse(t))
	}
}

func listTasksHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status != "" && !task.ValidStatus(status) {
			WriteError(w, http.StatusBadRequest,
				fmt.Sprintf("unknown status %q", status), "BAD_REQUEST")
			return
		}

		limit := intQuery(r, "limit", 50)
		offset := intQuery(r, "offset", 0)

		tasks, err := cfg.Store.List(r.Context(), status, limit, offset)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list tasks", "INTERNAL_ERROR")
			return
		}

		resp := TasksResponse{Tasks: make([]TaskResponse, len(tasks)), Count: len(tasks)}
		for i, t := range tasks {
			resp.Tasks[i] = TaskToResponse(t)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func statsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cfg.Store.Stats(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to compute stats", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, StatsResponse{
			TotalTasks:        stats.TotalTasks,
			StatusCounts:      stats.StatusCounts,
			AvgProcessingTime: stats.AvgProcessingTime,
			RecentTasks:       stats.RecentTasks,
			QueueDepth:        cfg.Pool.QueueDepth(),
		})
	}
}

// resultHandler serves the rendered document for a completed task as a
// download. The task record gates access, but the artifact on disk is the
// source of truth for whether there is anything to serve.
func resultHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		t, err := cfg.Store.Get(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if t == nil {
			WriteError(w, http.StatusNotFound, "task not found", "NOT_FOUND")
			return
		}

		if t.Status != task.StatusCompleted {
			WriteError(w, http.StatusBadRequest,
				fmt.Sprintf("task is %s, result is available once completed", t.Status),
				"NOT_COMPLETED")
			return
		}

		outputPath := cfg.Artifacts.OutputPath(t.JobKey)
		if !cfg.Artifacts.Exists(outputPath) {
			WriteError(w, http.StatusNotFound,
				"result file is missing from the workspace", "ARTIFACT_MISSING")
			return
		}

		name := source.SanitizeName(t.SourceTitle, 120)
		if name == "" {
			name = t.JobKey
		}

		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", name+"_summary.html"))
		http.ServeFile(w, r, outputPath)
	}
}

func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		t, err := cfg.Store.Get(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if t == nil {
			WriteError(w, http.StatusNotFound, "task not found", "NOT_FOUND")
			return
		}

		limit := intQuery(r, "limit", 50)
		events, err := cfg.Store.Events(r.Context(), id, limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list events", "INTERNAL_ERROR")
			return
		}

		resp := EventsResponse{Events: make([]EventResponse, len(events))}
		for i, e := range events {
			resp.Events[i] = EventToResponse(e)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func deleteTaskHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		deleted, err := cfg.Store.Delete(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if !deleted {
			WriteError(w, http.StatusNotFound, "task not found", "NOT_FOUND")
			return
		}

		cfg.Logger.Info("task deleted", "task_id", id)
		WriteJSON(w, http.StatusOK, DeleteResponse{Deleted: true, TaskID: id})
	}
}

func cleanupHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := cfg.RetentionDays
		if raw := r.URL.Query().Get("days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest,
					"days must be a positive integer", "BAD_REQUEST")
				return
			}
			days = n
		}

		count, err := cfg.Store.Cleanup(r.Context(), days)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "cleanup failed", "INTERNAL_ERROR")
			return
		}

		cfg.Logger.Info("cleanup removed old tasks", "days", days, "deleted", count)
		WriteJSON(w, http.StatusOK, CleanupResponse{DeletedCount: count})
	}
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
