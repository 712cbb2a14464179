package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a blend job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// RequiredSongCount is the number of titles a blend request must carry.
const RequiredSongCount = 3

// MaxSongTitleLength bounds each requested title, in characters.
const MaxSongTitleLength = 200

// CancelledMessage is stored as the job error when a caller cancels.
const CancelledMessage = "cancelled by caller"

// Valid reports whether s is one of the four known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is completed or failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether the orchestrator may move a job from s to next.
//
//	pending    -> processing | failed
//	processing -> processing | completed | failed
//
// Terminal states have no outgoing transitions.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusProcessing || next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// SongTitles is the ordered list of requested titles, stored as a JSON array.
type SongTitles []string

// Value implements driver.Valuer.
func (t SongTitles) Value() (driver.Value, error) {
	if t == nil {
		t = SongTitles{}
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *SongTitles) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan song titles: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan song titles: %w", err)
	}
	*t = out
	return nil
}

// Job is the durable record of one blend request.
type Job struct {
	ID           string     `json:"id" db:"id"`
	Status       JobStatus  `json:"status" db:"status"`
	Progress     int        `json:"progress" db:"progress"`
	Songs        SongTitles `json:"songs" db:"songs"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
	CompletedAt  *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	OutputFileID *string    `json:"outputFileId,omitempty" db:"output_file_id"`
	Error        *string    `json:"error,omitempty" db:"error"`
}

// IsDone reports whether the job reached a terminal state.
func (j *Job) IsDone() bool {
	return j.Status.IsTerminal()
}

// JobUpdate is one status write issued by the orchestrator or a cancellation.
// Error and OutputFileID are written as given, so a terminal write always
// leaves exactly one of them set.
type JobUpdate struct {
	JobID        string
	Status       JobStatus
	Progress     int
	Error        *string
	OutputFileID *string
}

// ProgressUpdate builds a non-terminal checkpoint write.
func ProgressUpdate(jobID string, status JobStatus, progress int) JobUpdate {
	return JobUpdate{JobID: jobID, Status: status, Progress: progress}
}

// CompletedUpdate builds the terminal success write.
func CompletedUpdate(jobID, outputFileID string) JobUpdate {
	return JobUpdate{JobID: jobID, Status: JobStatusCompleted, Progress: 100, OutputFileID: &outputFileID}
}

// FailedUpdate builds the terminal failure write, keeping progress at the
// last checkpoint.
func FailedUpdate(jobID string, progress int, message string) JobUpdate {
	return JobUpdate{JobID: jobID, Status: JobStatusFailed, Progress: progress, Error: &message}
}

// Validate checks the update against the job invariants.
func (u JobUpdate) Validate() error {
	if !u.Status.Valid() {
		return fmt.Errorf("unknown status %q", u.Status)
	}
	if u.Progress < 0 || u.Progress > 100 {
		return fmt.Errorf("progress %d out of range", u.Progress)
	}
	switch u.Status {
	case JobStatusCompleted:
		if u.OutputFileID == nil || *u.OutputFileID == "" || u.Error != nil {
			return fmt.Errorf("completed update must carry only an output file id")
		}
	case JobStatusFailed:
		if u.Error == nil || u.OutputFileID != nil {
			return fmt.Errorf("failed update must carry only an error")
		}
	default:
		if u.Error != nil || u.OutputFileID != nil {
			return fmt.Errorf("%s update cannot carry an error or output file id", u.Status)
		}
	}
	return nil
}

// BlendTask is the payload handed to a dispatcher for one pipeline run.
type BlendTask struct {
	JobID string   `json:"jobId"`
	Songs []string `json:"songs"`
}
