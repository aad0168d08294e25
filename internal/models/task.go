package models

import (
	"time"
)

// ProcessingTask tracks the post-upload processing job a session enqueues.
// The service only ever observes these records; running the job is the
// processing pipeline's business.
type ProcessingTask struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Status    ProcessingStatus  `json:"status"`
	Type      string            `json:"type"`
	Priority  Priority          `json:"priority"`
	Progress  float64           `json:"progress"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
}

type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusRunning   ProcessingStatus = "running"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
	StatusCancelled ProcessingStatus = "cancelled"
)
