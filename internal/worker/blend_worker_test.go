package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/songblend/api/internal/client"
	"github.com/songblend/api/internal/model"
	"github.com/songblend/api/internal/queue"
	"github.com/songblend/api/internal/service"
	"github.com/songblend/api/internal/service/servicetest"
)

type mapFetcher struct {
	mu    sync.Mutex
	blobs map[string][]byte
	calls int
}

func (f *mapFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	data, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", key, model.ErrArtifactNotFound)
	}
	return data, nil
}

type stubGenerator struct {
	transformErr   error
	encodeErr      error
	panicOn        string
	transformCalls int
	lastRequest    *client.TransformRequest
}

func (g *stubGenerator) Transform(ctx context.Context, req *client.TransformRequest) ([]byte, error) {
	g.transformCalls++
	g.lastRequest = req
	if g.panicOn == "transform" {
		panic("model exploded")
	}
	if g.transformErr != nil {
		return nil, g.transformErr
	}
	return []byte("raw"), nil
}

func (g *stubGenerator) Encode(ctx context.Context, audio []byte) ([]byte, error) {
	if g.encodeErr != nil {
		return nil, g.encodeErr
	}
	return append([]byte("mp3:"), audio...), nil
}

func (g *stubGenerator) HealthCheck(ctx context.Context) error { return nil }

type memOutputs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (o *memOutputs) Put(ctx context.Context, fileID string, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[fileID] = data
	return nil
}

func (o *memOutputs) Open(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.files[fileID]
	if !ok {
		return nil, 0, model.ErrArtifactNotFound
	}
	return io.NopCloser(strings.NewReader(string(data))), int64(len(data)), nil
}

type fixture struct {
	worker    *BlendWorker
	status    *service.StatusManager
	store     *servicetest.JobStore
	fetcher   *mapFetcher
	generator *stubGenerator
	outputs   *memOutputs
	publisher *servicetest.Publisher
}

func newFixture(songs ...model.Song) *fixture {
	store := servicetest.NewJobStore()
	status := service.NewStatusManager(store, servicetest.NewJobCache(), nil)
	resolver := service.NewResolver(servicetest.NewCatalog(songs...), nil, nil)

	blobs := make(map[string][]byte)
	for _, s := range songs {
		blobs[s.MidiKey] = []byte("midi-" + s.ID)
	}

	f := &fixture{
		status:    status,
		store:     store,
		fetcher:   &mapFetcher{blobs: blobs},
		generator: &stubGenerator{},
		outputs:   &memOutputs{files: make(map[string][]byte)},
		publisher: &servicetest.Publisher{},
	}
	f.worker = NewBlendWorker(status, resolver, f.fetcher, f.generator, f.outputs, f.publisher, nil)
	return f
}

func (f *fixture) submit(t *testing.T, titles ...string) model.BlendTask {
	t.Helper()
	job, err := f.status.Create(context.Background(), &model.Job{
		ID:     uuid.NewString(),
		Status: model.JobStatusPending,
		Songs:  model.SongTitles(titles),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return model.BlendTask{JobID: job.ID, Songs: titles}
}

func abcCatalog() []model.Song {
	return []model.Song{
		model.NewSong("a", "A", "Artist", "midi/a.mid", nil),
		model.NewSong("b", "B", "Artist", "midi/b.mid", nil),
		model.NewSong("c", "C", "Artist", "midi/c.mid", nil),
	}
}

func assertMonotonic(t *testing.T, events []servicetest.Event) {
	t.Helper()
	last := 0
	for _, e := range events {
		if e.Kind != "progress" {
			continue
		}
		if e.Progress < last {
			t.Fatalf("progress went backwards: %d after %d", e.Progress, last)
		}
		last = e.Progress
	}
}

func TestBlendWorker_EndToEndSuccess(t *testing.T) {
	f := newFixture(abcCatalog()...)
	task := f.submit(t, "A", "B", "C")

	f.worker.Run(context.Background(), task)

	job := f.store.Job(task.JobID)
	if job.Status != model.JobStatusCompleted || job.Progress != 100 {
		t.Fatalf("expected completed/100, got %s/%d", job.Status, job.Progress)
	}
	if job.OutputFileID == nil || *job.OutputFileID == "" || job.CompletedAt == nil || job.Error != nil {
		t.Fatalf("unexpected terminal fields: %+v", job)
	}
	if string(f.outputs.files[*job.OutputFileID]) != "mp3:raw" {
		t.Fatalf("output not stored under artifact id")
	}
	if len(f.generator.lastRequest.Assets) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(f.generator.lastRequest.Assets))
	}

	events := f.publisher.Events()
	assertMonotonic(t, events)
	var checkpoints []int
	for _, e := range events {
		if e.Kind == "progress" {
			checkpoints = append(checkpoints, e.Progress)
		}
	}
	want := []int{10, 30, 50, 80, 95}
	if fmt.Sprint(checkpoints) != fmt.Sprint(want) {
		t.Fatalf("checkpoints = %v, want %v", checkpoints, want)
	}
	if last := events[len(events)-1]; last.Kind != "complete" || last.Detail != *job.OutputFileID {
		t.Fatalf("expected completion event last, got %+v", last)
	}
}

func TestBlendWorker_TransformTimeoutFailsAtFifty(t *testing.T) {
	f := newFixture(abcCatalog()...)
	f.generator.transformErr = fmt.Errorf("transform: %w", client.ErrGenerationTimeout)
	task := f.submit(t, "A", "B", "C")

	f.worker.Run(context.Background(), task)

	job := f.store.Job(task.JobID)
	if job.Status != model.JobStatusFailed || job.Progress != 50 {
		t.Fatalf("expected failed/50, got %s/%d", job.Status, job.Progress)
	}
	if job.OutputFileID != nil {
		t.Fatalf("failed job must not carry an output id")
	}
	if job.Error == nil || !strings.Contains(*job.Error, "timed out") {
		t.Fatalf("expected timeout message, got %v", job.Error)
	}
	if len(f.outputs.files) != 0 {
		t.Fatal("nothing may be stored for a failed job")
	}
}

func TestBlendWorker_ZeroResolutionFailsAtThirty(t *testing.T) {
	f := newFixture()
	task := f.submit(t, "X", "Y", "Z")

	f.worker.Run(context.Background(), task)

	job := f.store.Job(task.JobID)
	if job.Status != model.JobStatusFailed || job.Progress != 30 {
		t.Fatalf("expected failed/30, got %s/%d", job.Status, job.Progress)
	}
	if job.Error == nil || !strings.Contains(*job.Error, "no assets found") {
		t.Fatalf("expected no-assets message, got %v", job.Error)
	}
	if f.fetcher.calls != 0 || f.generator.transformCalls != 0 {
		t.Fatal("later stages must not run")
	}
}

func TestBlendWorker_PartialResolutionCompletes(t *testing.T) {
	f := newFixture(abcCatalog()[:2]...)
	task := f.submit(t, "A", "B", "Missing")

	f.worker.Run(context.Background(), task)

	job := f.store.Job(task.JobID)
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", job.Status, job.Error)
	}
	if len(f.generator.lastRequest.Assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(f.generator.lastRequest.Assets))
	}
}

func TestBlendWorker_FetchFailureFailsStage(t *testing.T) {
	f := newFixture(abcCatalog()...)
	delete(f.fetcher.blobs, "midi/b.mid")
	task := f.submit(t, "A", "B", "C")

	f.worker.Run(context.Background(), task)

	job := f.store.Job(task.JobID)
	if job.Status != model.JobStatusFailed || job.Progress != 30 {
		t.Fatalf("expected failed/30, got %s/%d", job.Status, job.Progress)
	}
	if !strings.Contains(*job.Error, `"B"`) || !strings.Contains(*job.Error, "not found") {
		t.Fatalf("expected message naming song and cause, got %q", *job.Error)
	}
	if f.generator.transformCalls != 0 {
		t.Fatal("transform must not run with a partial asset set")
	}
}

func TestBlendWorker_OptionalTokens(t *testing.T) {
	tokens := "tokens/a.json"
	missing := "tokens/b.json"
	songs := abcCatalog()
	songs[0].TokenKey = &tokens
	songs[1].TokenKey = &missing
	f := newFixture(songs...)
	f.fetcher.blobs[tokens] = []byte("tok")
	task := f.submit(t, "A", "B", "C")

	f.worker.Run(context.Background(), task)

	job := f.store.Job(task.JobID)
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("missing token asset must not fail the job: %v", job.Error)
	}
	byID := map[string]client.SongAsset{}
	for _, a := range f.generator.lastRequest.Assets {
		byID[a.SongID] = a
	}
	if string(byID["a"].Tokens) != "tok" || byID["b"].Tokens != nil {
		t.Fatalf("unexpected token payloads: %+v", byID)
	}
}

func TestBlendWorker_PanicIsContained(t *testing.T) {
	f := newFixture(abcCatalog()...)
	f.generator.panicOn = "transform"
	task := f.submit(t, "A", "B", "C")

	f.worker.Run(context.Background(), task)

	job := f.store.Job(task.JobID)
	if job.Status != model.JobStatusFailed || job.Progress != 50 {
		t.Fatalf("expected failed/50, got %s/%d", job.Status, job.Progress)
	}
	if !strings.Contains(*job.Error, "model exploded") {
		t.Fatalf("expected panic message, got %q", *job.Error)
	}
}

func TestBlendWorker_SkipsCancelledJob(t *testing.T) {
	f := newFixture(abcCatalog()...)
	task := f.submit(t, "A", "B", "C")
	if _, err := f.status.Write(context.Background(), model.FailedUpdate(task.JobID, 0, model.CancelledMessage)); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	f.worker.Run(context.Background(), task)

	job := f.store.Job(task.JobID)
	if job.Status != model.JobStatusFailed || *job.Error != model.CancelledMessage {
		t.Fatalf("cancelled job was overwritten: %+v", job)
	}
	if f.fetcher.calls != 0 || len(f.publisher.Events()) != 0 {
		t.Fatal("no stage may run for a cancelled job")
	}
}

func TestBlendWorker_UnreadableJobIsFailed(t *testing.T) {
	f := newFixture(abcCatalog()...)
	id := uuid.NewString()
	if _, err := f.store.Create(context.Background(), &model.Job{
		ID:     id,
		Status: model.JobStatusPending,
		Songs:  model.SongTitles{"A", "B", "C"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.store.GetErr = servicetest.ErrBoom

	f.worker.Run(context.Background(), model.BlendTask{JobID: id, Songs: []string{"A", "B", "C"}})

	job := f.store.Job(id)
	if job.Status != model.JobStatusFailed || job.Progress != 0 {
		t.Fatalf("expected failed/0, got %s/%d", job.Status, job.Progress)
	}
	if job.Error == nil || !strings.Contains(*job.Error, "boom") {
		t.Fatalf("expected load error recorded, got %v", job.Error)
	}
	if f.fetcher.calls != 0 {
		t.Fatal("no stage may run for an unreadable job")
	}
}

func TestBlendWorker_MissingJobIsNotWritten(t *testing.T) {
	f := newFixture(abcCatalog()...)

	f.worker.Run(context.Background(), model.BlendTask{JobID: uuid.NewString(), Songs: []string{"A", "B", "C"}})

	if len(f.publisher.Events()) != 0 {
		t.Fatalf("expected no events, got %+v", f.publisher.Events())
	}
}

func TestBlendWorker_ProcessTask(t *testing.T) {
	f := newFixture(abcCatalog()...)
	task := f.submit(t, "A", "B", "C")

	at, err := queue.NewBlendTask(task)
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if err := f.worker.ProcessTask(context.Background(), at); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.store.Job(task.JobID).Status != model.JobStatusCompleted {
		t.Fatal("expected completed job")
	}

	err = f.worker.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeBlend, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for bad payload, got %v", err)
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		model.ErrNoAssets: "NO_ASSETS",
		fmt.Errorf("x: %w", model.ErrArtifactNotFound):      "ASSET_NOT_FOUND",
		fmt.Errorf("x: %w", client.ErrGenerationTimeout):    "GENERATION_TIMEOUT",
		fmt.Errorf("x: %w", client.ErrGenerationOverloaded): "GENERATION_OVERLOADED",
		&client.RemoteError{StatusCode: 500}:                "GENERATION_FAILED",
		errors.New("other"):                                 "PIPELINE_FAILED",
	}
	for err, want := range cases {
		if got := errorCode(err); got != want {
			t.Errorf("errorCode(%v) = %s, want %s", err, got, want)
		}
	}
}
