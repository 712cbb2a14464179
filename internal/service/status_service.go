package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/songblend/api/internal/cache"
	"github.com/songblend/api/internal/logging"
	"github.com/songblend/api/internal/model"
)

// StatusManager keeps the durable job record and its cached snapshot in
// step. The durable store is always written first; cache failures are
// logged and never fail the caller.
type StatusManager struct {
	store  JobStore
	cache  JobCache
	logger *zap.Logger
}

func NewStatusManager(store JobStore, jobCache JobCache, logger *zap.Logger) *StatusManager {
	return &StatusManager{
		store:  store,
		cache:  jobCache,
		logger: logging.OrNop(logger).Named("status"),
	}
}

// Create persists a new job and caches it.
func (m *StatusManager) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	created, err := m.store.Create(ctx, job)
	if err != nil {
		return nil, err
	}
	m.refresh(ctx, created)
	return created, nil
}

// Write applies a status update to both stores.
func (m *StatusManager) Write(ctx context.Context, u model.JobUpdate) (*model.Job, error) {
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("job %s: %w", u.JobID, err)
	}
	job, err := m.store.Update(ctx, u)
	if err != nil {
		return nil, err
	}
	m.refresh(ctx, job)
	return job, nil
}

// Read serves the cached snapshot when present, otherwise the durable
// record, repopulating the cache on the way out.
func (m *StatusManager) Read(ctx context.Context, jobID string) (*model.Job, error) {
	snap, err := m.cache.Get(ctx, jobID)
	switch {
	case err == nil:
		return snap.Job(), nil
	case errors.Is(err, cache.ErrMiss):
	case errors.Is(err, model.ErrInvalidSnapshot):
		m.logger.Warn("discarding malformed cache entry", zap.String(logging.FieldJobID, jobID), zap.Error(err))
		if delErr := m.cache.Delete(ctx, jobID); delErr != nil {
			m.logger.Warn("failed to delete cache entry", zap.String(logging.FieldJobID, jobID), zap.Error(delErr))
		}
	default:
		m.logger.Warn("cache read failed", zap.String(logging.FieldJobID, jobID), zap.Error(err))
	}

	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	m.refresh(ctx, job)
	return job, nil
}

// Cancel fails a job that is still pending or processing. The decision is
// made by the durable store, never the cache.
func (m *StatusManager) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := m.store.Cancel(ctx, jobID, model.CancelledMessage)
	if err != nil {
		return nil, err
	}
	m.refresh(ctx, job)
	return job, nil
}

// List pages through jobs in the durable store.
func (m *StatusManager) List(ctx context.Context, limit, offset int) ([]model.Job, int, error) {
	return m.store.List(ctx, limit, offset)
}

func (m *StatusManager) refresh(ctx context.Context, job *model.Job) {
	snap := model.NewJobSnapshot(job)
	if err := snap.Validate(); err != nil {
		m.logger.Error("refusing to cache invalid job", zap.String(logging.FieldJobID, job.ID), zap.Error(err))
		return
	}
	if err := m.cache.Set(ctx, snap); err != nil {
		m.logger.Warn("cache write failed", zap.String(logging.FieldJobID, job.ID), zap.Error(err))
		// An older snapshot must not outlive the write it missed.
		if delErr := m.cache.Delete(ctx, job.ID); delErr != nil {
			m.logger.Warn("failed to evict stale cache entry", zap.String(logging.FieldJobID, job.ID), zap.Error(delErr))
		}
	}
}
