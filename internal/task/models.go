package task

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	EventCreated      = "created"
	EventStatusChange = "status_change"
)

// Progress is the fixed shape persisted in the tasks.progress column.
type Progress struct {
	Stage   string   `json:"stage,omitempty"`
	Message string   `json:"message,omitempty"`
	Percent *float64 `json:"percent,omitempty"`
}

type Task struct {
	TaskID           string     `json:"task_id"`
	JobKey           string     `json:"job_key"`
	SourceLocator    string     `json:"source_locator"`
	SourceTitle      string     `json:"source_title,omitempty"`
	Status           string     `json:"status"`
	Progress         *Progress  `json:"progress,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ProcessingTime   *float64   `json:"processing_time,omitempty"`
	OutputSize       *int64     `json:"output_size,omitempty"`
	SegmentCount     int        `json:"segment_count"`
	TranscriptLength int        `json:"transcript_length"`
}

type Event struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Stats struct {
	TotalTasks        int            `json:"total_tasks"`
	StatusCounts      map[string]int `json:"status_counts"`
	AvgProcessingTime float64        `json:"avg_processing_time"`
	RecentTasks       int            `json:"recent_tasks"`
}

// metadataColumns is the allow-list for UpdateMetadata. Keys outside it
// are silently ignored.
var metadataColumns = map[string]string{
	"processing_time":   "processing_time",
	"output_size":       "output_size",
	"segment_count":     "segment_count",
	"transcript_length": "transcript_length",
	"source_title":      "source_title",
}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

func ValidStatus(status string) bool {
	switch status {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func NewTaskID() string {
	return uuid.NewString()
}
