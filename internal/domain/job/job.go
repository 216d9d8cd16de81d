// Package job tracks asynchronous indexing work.
package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/triage/internal/domain/classification"
	"github.com/kailas-cloud/triage/internal/domain/entity"
)

// Status of an index job.
type Status string

// Job statuses. Succeeded, Failed, Superseded and Skipped are terminal.
const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusSuperseded Status = "superseded"
	StatusSkipped    Status = "skipped"
)

// ParseStatus validates a status filter.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusSuperseded, StatusSkipped:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// Terminal reports whether no further transitions happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSuperseded, StatusSkipped:
		return true
	default:
		return false
	}
}

// Job is one indexing submission.
type Job struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	EntityID       string                 `json:"entity_id"`
	Status         Status                 `json:"status"`
	Attempts       int                    `json:"attempts"`
	Error          string                 `json:"error,omitempty"`
	Chunks         int                    `json:"chunks"`
	SkippedChunks  int                    `json:"skipped_chunks"`
	Classification *classification.Result `json:"classification,omitempty"`
	// Entity is kept so failed jobs can be retried.
	Entity    entity.Entity `json:"entity"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// New creates a queued job for e.
func New(id string, e entity.Entity, now time.Time) Job {
	return Job{
		ID:             id,
		OrganizationID: e.OrganizationID,
		EntityID:       e.ID,
		Status:         StatusQueued,
		Entity:         e,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

// Retryable reports whether an operator may resubmit the job.
func (j *Job) Retryable() bool {
	return j.Status == StatusFailed
}
