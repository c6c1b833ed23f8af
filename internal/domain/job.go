package domain

import (
	"fmt"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job encapsulates one pet-video generation request from upload to result.
type Job struct {
	ID              string
	UserID          string
	DanceStyle      string
	Status          JobStatus
	InputImagePath  string
	OutputVideoPath string
	ExternalJobID   string
	ErrorMessage    string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// InputImageKey returns the deterministic storage key for a job's source image.
func InputImageKey(userID, jobID string) string {
	return fmt.Sprintf("uploads/%s/%s/pet.jpg", userID, jobID)
}

// OutputVideoKey returns the deterministic storage key for a job's result video.
func OutputVideoKey(userID, jobID string) string {
	return fmt.Sprintf("outputs/%s/%s/dance.mp4", userID, jobID)
}
