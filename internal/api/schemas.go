package api

import (
	"time"

	"github.com/recapd/recapd-server/internal/task"
)

type SubmitRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type SubmitResponse struct {
	TaskID string `json:"task_id"`
	JobKey string `json:"job_key"`
	Status string `json:"status"`
}

type TaskResponse struct {
	TaskID           string            `json:"task_id"`
	JobKey           string            `json:"job_key"`
	SourceLocator    string            `json:"source_locator"`
	SourceTitle      string            `json:"source_title,omitempty"`
	Status           string            `json:"status"`
	Progress         *ProgressResponse `json:"progress,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`
	CompletedAt      string            `json:"completed_at,omitempty"`
	ProcessingTime   *float64          `json:"processing_time,omitempty"`
	OutputSize       *int64            `json:"output_size,omitempty"`
	SegmentCount     int               `json:"segment_count"`
	TranscriptLength int               `json:"transcript_length"`
}

type ProgressResponse struct {
	Stage   string   `json:"stage,omitempty"`
	Message string   `json:"message,omitempty"`
	Percent *float64 `json:"percent,omitempty"`
}

type TasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

type EventResponse struct {
	ID        int64  `json:"id"`
	EventType string `json:"event_type"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

type EventsResponse struct {
	Events []EventResponse `json:"events"`
}

type StatsResponse struct {
	TotalTasks        int            `json:"total_tasks"`
	StatusCounts      map[string]int `json:"status_counts"`
	AvgProcessingTime float64        `json:"avg_processing_time"`
	RecentTasks       int            `json:"recent_tasks"`
	QueueDepth        int            `json:"queue_depth"`
}

type DeleteResponse struct {
	Deleted bool   `json:"deleted"`
	TaskID  string `json:"task_id"`
}

type CleanupResponse struct {
	DeletedCount int `json:"deleted_count"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	Workers int    `json:"workers"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func TaskToResponse(t *task.Task) TaskResponse {
	resp := TaskResponse{
		TaskID:           t.TaskID,
		JobKey:           t.JobKey,
		SourceLocator:    t.SourceLocator,
		SourceTitle:      t.SourceTitle,
		Status:           t.Status,
		ErrorMessage:     t.ErrorMessage,
		CreatedAt:        t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        t.UpdatedAt.Format(time.RFC3339),
		ProcessingTime:   t.ProcessingTime,
		OutputSize:       t.OutputSize,
		SegmentCount:     t.SegmentCount,
		TranscriptLength: t.TranscriptLength,
	}
	if t.Progress != nil {
		resp.Progress = &ProgressResponse{
			Stage:   t.Progress.Stage,
			Message: t.Progress.Message,
			Percent: t.Progress.Percent,
		}
	}
	if t.CompletedAt != nil {
		resp.CompletedAt = t.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func EventToResponse(e *task.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		EventType: e.EventType,
		Message:   e.Message,
		Timestamp: e.Timestamp.Format(time.RFC3339),
	}
}
