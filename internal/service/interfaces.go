package service

import (
	"context"

	"github.com/songblend/api/internal/model"
)

// JobStore is the durable system of record for jobs.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Update(ctx context.Context, u model.JobUpdate) (*model.Job, error)
	// Cancel fails a job only if it is still pending or processing.
	Cancel(ctx context.Context, id, message string) (*model.Job, error)
	List(ctx context.Context, limit, offset int) ([]model.Job, int, error)
}

// JobCache holds snapshots of recently touched jobs.
type JobCache interface {
	Get(ctx context.Context, jobID string) (*model.JobSnapshot, error)
	Set(ctx context.Context, snap model.JobSnapshot) error
	Delete(ctx context.Context, jobID string) error
}

// SongCatalog answers the lookups the resolver needs.
type SongCatalog interface {
	FindByTitle(ctx context.Context, title string) ([]model.Song, error)
	FindVersions(ctx context.Context, baseTitle string) ([]model.Song, error)
	SearchCandidates(ctx context.Context, query string, limit int) ([]model.Song, error)
	SearchDistinct(ctx context.Context, query string, limit int) ([]model.Song, error)
	ListAll(ctx context.Context) ([]model.Song, error)
}

// SearchCache memoizes autocomplete results.
type SearchCache interface {
	Get(ctx context.Context, query string, limit int) ([]model.Song, error)
	Set(ctx context.Context, query string, limit int, songs []model.Song) error
}

// Dispatcher hands a pipeline run to a supervised executor. It returns
// once the run is accepted, not when it finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, task model.BlendTask) error
}

// ProgressPublisher pushes job events to live subscribers.
type ProgressPublisher interface {
	PublishProgress(jobID string, status model.JobStatus, progress int, stage string)
	PublishComplete(jobID, outputFileID string)
	PublishFailed(jobID, code, message string)
}

type nopPublisher struct{}

func (nopPublisher) PublishProgress(string, model.JobStatus, int, string) {}
func (nopPublisher) PublishComplete(string, string)                       {}
func (nopPublisher) PublishFailed(string, string, string)                 {}

// PublisherOrNop substitutes a publisher that drops every event for nil.
func PublisherOrNop(p ProgressPublisher) ProgressPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
