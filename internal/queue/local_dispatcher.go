package queue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/songblend/api/internal/logging"
	"github.com/songblend/api/internal/model"
)

// Handler executes one blend run. It must not return until the run ends.
type Handler func(ctx context.Context, task model.BlendTask)

// LocalDispatcher runs blends on a bounded set of goroutines in this
// process. When every slot is busy Dispatch fails with model.ErrQueueFull
// instead of queueing.
type LocalDispatcher struct {
	group   *errgroup.Group
	handler Handler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func NewLocalDispatcher(concurrency int, handler Handler, logger *zap.Logger) *LocalDispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	group := new(errgroup.Group)
	group.SetLimit(concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	return &LocalDispatcher{
		group:   group,
		handler: handler,
		logger:  logging.OrNop(logger).Named("local-queue"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dispatch starts the run on a free slot. The run is detached from ctx so
// it outlives the request that submitted it.
func (d *LocalDispatcher) Dispatch(ctx context.Context, task model.BlendTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%w: dispatcher is shutting down", model.ErrQueueFull)
	}

	started := d.group.TryGo(func() error {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("blend run panicked", zap.String(logging.FieldJobID, task.JobID), zap.Any("panic", r))
			}
		}()
		d.handler(d.ctx, task)
		return nil
	})
	if !started {
		return model.ErrQueueFull
	}
	return nil
}

// Shutdown stops accepting runs and waits for in-flight ones. If ctx ends
// first the remaining runs are cancelled and ctx's error is returned.
func (d *LocalDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
