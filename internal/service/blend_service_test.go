package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/songblend/api/internal/model"
	"github.com/songblend/api/internal/service/servicetest"
)

type blendFixture struct {
	svc        *BlendService
	store      *servicetest.JobStore
	jobCache   *servicetest.JobCache
	dispatcher *servicetest.Dispatcher
	publisher  *servicetest.Publisher
	outputs    *memOutputs
}

type memOutputs struct {
	files map[string][]byte
}

func (o *memOutputs) Put(ctx context.Context, fileID string, data []byte) error {
	o.files[fileID] = data
	return nil
}

func (o *memOutputs) Open(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	data, ok := o.files[fileID]
	if !ok {
		return nil, 0, model.ErrArtifactNotFound
	}
	return io.NopCloser(strings.NewReader(string(data))), int64(len(data)), nil
}

func newBlendFixture() *blendFixture {
	store := servicetest.NewJobStore()
	jobCache := servicetest.NewJobCache()
	dispatcher := &servicetest.Dispatcher{}
	publisher := &servicetest.Publisher{}
	outputs := &memOutputs{files: make(map[string][]byte)}
	status := NewStatusManager(store, jobCache, nil)
	return &blendFixture{
		svc:        NewBlendService(status, dispatcher, outputs, publisher, nil),
		store:      store,
		jobCache:   jobCache,
		dispatcher: dispatcher,
		publisher:  publisher,
		outputs:    outputs,
	}
}

func TestBlendService_SubmitCreatesPendingJob(t *testing.T) {
	f := newBlendFixture()

	resp, err := f.svc.Submit(context.Background(), []string{" A ", "B", "C"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != model.JobStatusPending {
		t.Fatalf("expected pending, got %s", resp.Status)
	}

	status, err := f.svc.GetStatus(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != model.JobStatusPending || status.Progress != 0 {
		t.Fatalf("expected pending/0, got %s/%d", status.Status, status.Progress)
	}
	if status.Songs[0] != "A" {
		t.Fatalf("expected trimmed titles, got %v", status.Songs)
	}

	if len(f.dispatcher.Tasks) != 1 || f.dispatcher.Tasks[0].JobID != resp.JobID {
		t.Fatalf("expected one dispatched task, got %+v", f.dispatcher.Tasks)
	}
}

func TestBlendService_SubmitValidation(t *testing.T) {
	f := newBlendFixture()
	cases := [][]string{
		{"A", "B"},
		{"A", "B", "C", "D"},
		{"A", "", "C"},
		{"A", strings.Repeat("x", model.MaxSongTitleLength+1), "C"},
	}
	for _, songs := range cases {
		if _, err := f.svc.Submit(context.Background(), songs); !errors.Is(err, model.ErrInvalidSongs) {
			t.Errorf("Submit(%q): expected ErrInvalidSongs, got %v", songs, err)
		}
	}
	if _, total, _ := f.store.List(context.Background(), 10, 0); total != 0 {
		t.Fatalf("no job may exist after a validation failure, found %d", total)
	}
}

func TestBlendService_SubmitDispatchFailureMarksJobFailed(t *testing.T) {
	f := newBlendFixture()
	f.dispatcher.Err = model.ErrQueueFull

	_, err := f.svc.Submit(context.Background(), []string{"A", "B", "C"})
	if !errors.Is(err, model.ErrDispatchFailed) || !errors.Is(err, model.ErrQueueFull) {
		t.Fatalf("expected dispatch error wrapping ErrQueueFull, got %v", err)
	}

	jobs, total, _ := f.store.List(context.Background(), 10, 0)
	if total != 1 {
		t.Fatalf("expected the record to remain, got %d", total)
	}
	if jobs[0].Status != model.JobStatusFailed || jobs[0].Error == nil {
		t.Fatalf("expected failed job with error, got %+v", jobs[0])
	}
}

func TestBlendService_SubmitStoreFailure(t *testing.T) {
	f := newBlendFixture()
	f.store.FailNext = servicetest.ErrBoom

	if _, err := f.svc.Submit(context.Background(), []string{"A", "B", "C"}); !errors.Is(err, servicetest.ErrBoom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(f.dispatcher.Tasks) != 0 {
		t.Fatal("nothing may be dispatched without a record")
	}
}

func TestBlendService_GetStatusErrors(t *testing.T) {
	f := newBlendFixture()

	if _, err := f.svc.GetStatus(context.Background(), "not-a-uuid"); !errors.Is(err, model.ErrInvalidJobID) {
		t.Fatalf("expected ErrInvalidJobID, got %v", err)
	}
	if _, err := f.svc.GetStatus(context.Background(), uuid.NewString()); !errors.Is(err, model.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestBlendService_CancelPending(t *testing.T) {
	f := newBlendFixture()
	resp, _ := f.svc.Submit(context.Background(), []string{"A", "B", "C"})

	out, err := f.svc.Cancel(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.JobID != resp.JobID {
		t.Fatalf("unexpected cancel response %+v", out)
	}

	job := f.store.Job(resp.JobID)
	if job.Status != model.JobStatusFailed || job.Error == nil || *job.Error != model.CancelledMessage {
		t.Fatalf("expected cancelled job, got %+v", job)
	}
	events := f.publisher.Events()
	if len(events) != 1 || events[0].Kind != "failed" {
		t.Fatalf("expected failure event, got %+v", events)
	}
}

func TestBlendService_CancelTerminalLeavesJobUntouched(t *testing.T) {
	f := newBlendFixture()
	resp, _ := f.svc.Submit(context.Background(), []string{"A", "B", "C"})

	status := NewStatusManager(f.store, f.jobCache, nil)
	if _, err := status.Write(context.Background(), model.CompletedUpdate(resp.JobID, "file-1")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	before := f.store.Job(resp.JobID)

	if _, err := f.svc.Cancel(context.Background(), resp.JobID); !errors.Is(err, model.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}

	after := f.store.Job(resp.JobID)
	if after.Status != model.JobStatusCompleted || after.UpdatedAt != before.UpdatedAt || after.Error != nil {
		t.Fatalf("terminal job was mutated: %+v", after)
	}
}

func TestBlendService_CancelUsesDurableStatusOverStaleCache(t *testing.T) {
	f := newBlendFixture()
	ctx := context.Background()
	resp, _ := f.svc.Submit(ctx, []string{"A", "B", "C"})

	status := NewStatusManager(f.store, f.jobCache, nil)
	if _, err := status.Write(ctx, model.ProgressUpdate(resp.JobID, model.JobStatusProcessing, 95)); err != nil {
		t.Fatalf("progress: %v", err)
	}
	f.jobCache.SetErr = servicetest.ErrBoom
	if _, err := status.Write(ctx, model.CompletedUpdate(resp.JobID, "file-1")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	f.jobCache.SetErr = nil
	f.jobCache.Put(model.JobSnapshot{ID: resp.JobID, Status: model.JobStatusProcessing, Progress: 95})

	if _, err := f.svc.Cancel(ctx, resp.JobID); !errors.Is(err, model.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}

	job := f.store.Job(resp.JobID)
	if job.Status != model.JobStatusCompleted || job.OutputFileID == nil || *job.OutputFileID != "file-1" || job.Error != nil {
		t.Fatalf("completed job was mutated: %+v", job)
	}
	for _, e := range f.publisher.Events() {
		if e.Kind == "failed" {
			t.Fatalf("no failure event expected, got %+v", e)
		}
	}
}

func TestBlendService_CancelProcessingKeepsProgress(t *testing.T) {
	f := newBlendFixture()
	ctx := context.Background()
	resp, _ := f.svc.Submit(ctx, []string{"A", "B", "C"})

	status := NewStatusManager(f.store, f.jobCache, nil)
	if _, err := status.Write(ctx, model.ProgressUpdate(resp.JobID, model.JobStatusProcessing, 50)); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, resp.JobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	job := f.store.Job(resp.JobID)
	if job.Status != model.JobStatusFailed || job.Progress != 50 {
		t.Fatalf("expected failed/50, got %s/%d", job.Status, job.Progress)
	}
	got, err := f.svc.GetStatus(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.Status != model.JobStatusFailed {
		t.Fatalf("cache not refreshed after cancel: %s", got.Status)
	}
}

func TestBlendService_CancelAbsent(t *testing.T) {
	f := newBlendFixture()
	if _, err := f.svc.Cancel(context.Background(), uuid.NewString()); !errors.Is(err, model.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestBlendService_ListJobs(t *testing.T) {
	f := newBlendFixture()
	var last string
	for i := 0; i < 3; i++ {
		resp, err := f.svc.Submit(context.Background(), []string{"A", "B", "C"})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		last = resp.JobID
	}

	page, err := f.svc.ListJobs(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Pagination.Limit != DefaultJobListLimit || page.Pagination.Total != 3 {
		t.Fatalf("unexpected pagination %+v", page.Pagination)
	}
	if page.Jobs[0].JobID != last {
		t.Fatalf("expected newest first")
	}

	page, err = f.svc.ListJobs(context.Background(), 500, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Pagination.Limit != MaxJobListLimit || len(page.Jobs) != 1 {
		t.Fatalf("unexpected page %+v", page.Pagination)
	}
}

func TestBlendService_OpenOutput(t *testing.T) {
	f := newBlendFixture()
	id := uuid.NewString()
	f.outputs.files[id] = []byte("mp3")

	rc, size, err := f.svc.OpenOutput(context.Background(), id)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rc.Close()
	if size != 3 {
		t.Fatalf("unexpected size %d", size)
	}

	if _, _, err := f.svc.OpenOutput(context.Background(), "../etc"); !errors.Is(err, model.ErrInvalidFileID) {
		t.Fatalf("expected ErrInvalidFileID, got %v", err)
	}
	if _, _, err := f.svc.OpenOutput(context.Background(), uuid.NewString()); !errors.Is(err, model.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}
