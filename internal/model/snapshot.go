package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobSnapshot is the cached projection of a Job. It is validated on every
// decode so a corrupt or foreign cache entry is never served.
type JobSnapshot struct {
	ID           string     `json:"id"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Songs        []string   `json:"songs"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	OutputFileID *string    `json:"outputFileId,omitempty"`
	Error        *string    `json:"error,omitempty"`
}

// NewJobSnapshot projects a job into its cache form.
func NewJobSnapshot(job *Job) JobSnapshot {
	return JobSnapshot{
		ID:           job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		Songs:        append([]string(nil), job.Songs...),
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		CompletedAt:  job.CompletedAt,
		OutputFileID: job.OutputFileID,
		Error:        job.Error,
	}
}

// Job converts the snapshot back into a Job.
func (s JobSnapshot) Job() *Job {
	return &Job{
		ID:           s.ID,
		Status:       s.Status,
		Progress:     s.Progress,
		Songs:        SongTitles(append([]string(nil), s.Songs...)),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		CompletedAt:  s.CompletedAt,
		OutputFileID: s.OutputFileID,
		Error:        s.Error,
	}
}

// Validate rejects snapshots that could not have been produced by a valid job.
func (s JobSnapshot) Validate() error {
	if _, err := uuid.Parse(s.ID); err != nil {
		return fmt.Errorf("%w: id %q", ErrInvalidSnapshot, s.ID)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidSnapshot, s.Status)
	}
	if s.Progress < 0 || s.Progress > 100 {
		return fmt.Errorf("%w: progress %d", ErrInvalidSnapshot, s.Progress)
	}
	if len(s.Songs) != RequiredSongCount {
		return fmt.Errorf("%w: %d songs", ErrInvalidSnapshot, len(s.Songs))
	}
	for _, title := range s.Songs {
		if title == "" {
			return fmt.Errorf("%w: empty song title", ErrInvalidSnapshot)
		}
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing createdAt", ErrInvalidSnapshot)
	}

	hasOutput := s.OutputFileID != nil && *s.OutputFileID != ""
	hasError := s.Error != nil
	switch s.Status {
	case JobStatusCompleted:
		if !hasOutput || hasError || s.CompletedAt == nil {
			return fmt.Errorf("%w: completed job must have output and completion time only", ErrInvalidSnapshot)
		}
	case JobStatusFailed:
		if !hasError || hasOutput {
			return fmt.Errorf("%w: failed job must have error only", ErrInvalidSnapshot)
		}
	default:
		if hasError || hasOutput {
			return fmt.Errorf("%w: %s job cannot have error or output", ErrInvalidSnapshot, s.Status)
		}
	}
	return nil
}
