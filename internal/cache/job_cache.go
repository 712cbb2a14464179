// Package cache holds the Redis projections of jobs and search results.
// Nothing here is authoritative; callers fall back to the durable store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/songblend/api/internal/model"
)

const (
	JobTTL    = 24 * time.Hour
	SearchTTL = time.Hour
)

// ErrMiss is returned when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// JobCache stores validated job snapshots under job:<id>.
type JobCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewJobCache(redisClient *redis.Client) *JobCache {
	return &JobCache{redis: redisClient, ttl: JobTTL}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// Get returns the cached snapshot. Entries that fail to decode or validate
// are reported with model.ErrInvalidSnapshot.
func (c *JobCache) Get(ctx context.Context, jobID string) (*model.JobSnapshot, error) {
	data, err := c.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("get job %s from cache: %w", jobID, err)
	}

	var snap model.JobSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidSnapshot, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if snap.ID != jobID {
		return nil, fmt.Errorf("%w: key %s holds job %s", model.ErrInvalidSnapshot, jobID, snap.ID)
	}
	return &snap, nil
}

// Set writes the snapshot with the job TTL.
func (c *JobCache) Set(ctx context.Context, snap model.JobSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	return c.redis.Set(ctx, jobKey(snap.ID), data, c.ttl).Err()
}

// Delete removes the cached snapshot, if any.
func (c *JobCache) Delete(ctx context.Context, jobID string) error {
	return c.redis.Del(ctx, jobKey(jobID)).Err()
}
