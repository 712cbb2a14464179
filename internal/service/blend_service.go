package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/songblend/api/internal/client"
	"github.com/songblend/api/internal/logging"
	"github.com/songblend/api/internal/model"
)

const (
	DefaultJobListLimit = 10
	MaxJobListLimit     = 100
)

// BlendService handles blend job submission and the synchronous reads
// around it. The pipeline itself runs in the worker.
type BlendService struct {
	status     *StatusManager
	dispatcher Dispatcher
	outputs    client.OutputStore
	publisher  ProgressPublisher
	logger     *zap.Logger
}

func NewBlendService(status *StatusManager, dispatcher Dispatcher, outputs client.OutputStore, publisher ProgressPublisher, logger *zap.Logger) *BlendService {
	return &BlendService{
		status:     status,
		dispatcher: dispatcher,
		outputs:    outputs,
		publisher:  PublisherOrNop(publisher),
		logger:     logging.OrNop(logger).Named("blend"),
	}
}

// Submit records a pending job and dispatches its pipeline run. It returns
// as soon as the run is accepted.
func (s *BlendService) Submit(ctx context.Context, songs []string) (*model.GenerateResponse, error) {
	titles, err := normalizeSongs(songs)
	if err != nil {
		return nil, err
	}

	job, err := s.status.Create(ctx, &model.Job{
		ID:       uuid.New().String(),
		Status:   model.JobStatusPending,
		Progress: 0,
		Songs:    titles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task := model.BlendTask{JobID: job.ID, Songs: []string(titles)}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		s.logger.Error("dispatch failed", zap.String(logging.FieldJobID, job.ID), zap.Error(err))
		msg := fmt.Sprintf("%s: %v", model.ErrDispatchFailed, err)
		if _, werr := s.status.Write(ctx, model.FailedUpdate(job.ID, 0, msg)); werr != nil {
			s.logger.Error("failed to mark undispatched job", zap.String(logging.FieldJobID, job.ID), zap.Error(werr))
		}
		return nil, fmt.Errorf("%w: %w", model.ErrDispatchFailed, err)
	}

	s.logger.Info("job submitted", zap.String(logging.FieldJobID, job.ID), zap.Strings("songs", titles))
	return &model.GenerateResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Blend job queued",
	}, nil
}

// GetStatus returns the current state of a job.
func (s *BlendService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	if err := validateID(jobID, model.ErrInvalidJobID); err != nil {
		return nil, err
	}
	job, err := s.status.Read(ctx, jobID)
	if err != nil {
		return nil, err
	}
	resp := model.NewJobStatusResponse(job)
	return &resp, nil
}

// ListJobs returns recent jobs, newest first.
func (s *BlendService) ListJobs(ctx context.Context, limit, offset int) (*model.JobListResponse, error) {
	if limit <= 0 {
		limit = DefaultJobListLimit
	}
	if limit > MaxJobListLimit {
		limit = MaxJobListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.status.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	items := make([]model.JobStatusResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, model.NewJobStatusResponse(&jobs[i]))
	}
	return &model.JobListResponse{
		Jobs:       items,
		Pagination: model.Pagination{Limit: limit, Offset: offset, Total: total},
	}, nil
}

// Cancel marks a pending or processing job failed. A pipeline already
// running is not interrupted and may overwrite this with a later stage
// write.
func (s *BlendService) Cancel(ctx context.Context, jobID string) (*model.CancelResponse, error) {
	if err := validateID(jobID, model.ErrInvalidJobID); err != nil {
		return nil, err
	}
	job, err := s.status.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.publisher.PublishFailed(jobID, "CANCELLED", model.CancelledMessage)
	s.logger.Info("job cancelled", zap.String(logging.FieldJobID, jobID), zap.Int(logging.FieldProgress, job.Progress))

	return &model.CancelResponse{
		Message: "Job cancelled",
		JobID:   jobID,
	}, nil
}

// OpenOutput streams a finished blend.
func (s *BlendService) OpenOutput(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	if err := validateID(fileID, model.ErrInvalidFileID); err != nil {
		return nil, 0, err
	}
	return s.outputs.Open(ctx, fileID)
}

func normalizeSongs(songs []string) (model.SongTitles, error) {
	if len(songs) != model.RequiredSongCount {
		return nil, model.ErrInvalidSongs
	}
	titles := make(model.SongTitles, 0, len(songs))
	for _, song := range songs {
		song = strings.TrimSpace(song)
		if song == "" || utf8.RuneCountInString(song) > model.MaxSongTitleLength {
			return nil, model.ErrInvalidSongs
		}
		titles = append(titles, song)
	}
	return titles, nil
}

func validateID(id string, sentinel error) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", sentinel, id)
	}
	return nil
}
