// Package queue runs blend pipelines off the request path, either through
// Redis-backed asynq tasks or a bounded in-process pool.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/songblend/api/internal/model"
)

const (
	TaskTypeBlend = "blend:generate"
	QueueName     = "blend"
)

// AsynqDispatcher enqueues blend runs on Redis. Runs are never retried:
// a failed job stays failed under its id.
type AsynqDispatcher struct {
	client  *asynq.Client
	timeout time.Duration
}

func NewAsynqDispatcher(client *asynq.Client, timeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, timeout: timeout}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, task model.BlendTask) error {
	t, err := NewBlendTask(task)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(QueueName),
		asynq.MaxRetry(0),
		asynq.TaskID(task.JobID),
		asynq.Retention(24 * time.Hour),
	}
	if d.timeout > 0 {
		opts = append(opts, asynq.Timeout(d.timeout))
	}

	if _, err := d.client.EnqueueContext(ctx, t, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// NewBlendTask encodes a blend run as an asynq task.
func NewBlendTask(task model.BlendTask) (*asynq.Task, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TaskTypeBlend, data), nil
}

// ParseBlendTask decodes and checks a task payload.
func ParseBlendTask(t *asynq.Task) (model.BlendTask, error) {
	var task model.BlendTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return model.BlendTask{}, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if task.JobID == "" {
		return model.BlendTask{}, fmt.Errorf("payload missing job id")
	}
	return task, nil
}
