package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/songblend/api/internal/model"
)

func TestBlendTaskPayload(t *testing.T) {
	in := model.BlendTask{JobID: "job-1", Songs: []string{"A", "B", "C"}}
	task, err := NewBlendTask(in)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TaskTypeBlend {
		t.Fatalf("unexpected type %q", task.Type())
	}

	out, err := ParseBlendTask(task)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.JobID != in.JobID || len(out.Songs) != 3 || out.Songs[2] != "C" {
		t.Fatalf("unexpected payload %+v", out)
	}

	if _, err := ParseBlendTask(asynq.NewTask(TaskTypeBlend, []byte(`{"songs":["A"]}`))); err == nil {
		t.Fatal("expected error for payload without job id")
	}
	if _, err := ParseBlendTask(asynq.NewTask(TaskTypeBlend, []byte(`nope`))); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestLocalDispatcher_RunsTasks(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	d := NewLocalDispatcher(2, func(ctx context.Context, task model.BlendTask) {
		mu.Lock()
		seen = append(seen, task.JobID)
		mu.Unlock()
	}, nil)

	if err := d.Dispatch(context.Background(), model.BlendTask{JobID: "a"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(seen) != 1 || seen[0] != "a" {
		t.Fatalf("unexpected runs %v", seen)
	}
}

func TestLocalDispatcher_Backpressure(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	d := NewLocalDispatcher(1, func(ctx context.Context, task model.BlendTask) {
		started <- struct{}{}
		<-release
	}, nil)

	if err := d.Dispatch(context.Background(), model.BlendTask{JobID: "a"}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	<-started

	if err := d.Dispatch(context.Background(), model.BlendTask{JobID: "b"}); !errors.Is(err, model.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(release)
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := d.Dispatch(context.Background(), model.BlendTask{JobID: "c"}); !errors.Is(err, model.ErrQueueFull) {
		t.Fatalf("expected rejection after shutdown, got %v", err)
	}
}

func TestLocalDispatcher_DetachedFromRequestContext(t *testing.T) {
	var ran atomic.Bool
	d := NewLocalDispatcher(1, func(ctx context.Context, task model.BlendTask) {
		time.Sleep(20 * time.Millisecond)
		ran.Store(ctx.Err() == nil)
	}, nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	if err := d.Dispatch(reqCtx, model.BlendTask{JobID: "a"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	cancel()

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !ran.Load() {
		t.Fatal("run must not see the request's cancellation")
	}
}

func TestLocalDispatcher_RecoversPanics(t *testing.T) {
	d := NewLocalDispatcher(1, func(ctx context.Context, task model.BlendTask) {
		panic("kaboom")
	}, nil)

	if err := d.Dispatch(context.Background(), model.BlendTask{JobID: "a"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestLocalDispatcher_ShutdownDeadlineCancelsRuns(t *testing.T) {
	d := NewLocalDispatcher(1, func(ctx context.Context, task model.BlendTask) {
		<-ctx.Done()
	}, nil)
	if err := d.Dispatch(context.Background(), model.BlendTask{JobID: "a"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
