package model

import "time"

// JobStatus represents the lifecycle state of a transcription job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the job still occupies queue capacity
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// Job represents one request to transcribe one video end-to-end
type Job struct {
	ID          string     `json:"id"`
	VideoID     string     `json:"video_id"`
	VideoPath   string     `json:"video_path"`
	Status      JobStatus  `json:"status"`
	Priority    int        `json:"priority"` // higher runs sooner
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Progress    int        `json:"progress"` // overall percentage, 0-100
	Stage       string     `json:"stage"`
	Error       string     `json:"error,omitempty"`
}
