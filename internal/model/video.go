package model

// VideoStatus tracks whether a video has a usable transcription
type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// Video represents a local media file registered for transcription
type Video struct {
	ID           string      `json:"id" db:"id"`
	Path         string      `json:"path" db:"path"`
	Title        string      `json:"title" db:"title"`
	Status       VideoStatus `json:"status" db:"status"`
	Duration     float64     `json:"duration" db:"duration"` // duration in seconds
	ErrorMessage *string     `json:"error_message,omitempty" db:"error_message"`
}
