package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/songblend/api/internal/client"
	"github.com/songblend/api/internal/logging"
	"github.com/songblend/api/internal/model"
	"github.com/songblend/api/internal/observability"
	"github.com/songblend/api/internal/queue"
	"github.com/songblend/api/internal/service"
)

// Stage checkpoints. Progress only moves forward through these values.
const (
	progressStarted     = 10
	progressResolved    = 30
	progressFetched     = 50
	progressTransformed = 80
	progressEncoded     = 95
)

const (
	stageStart     = "start"
	stageResolve   = "resolve"
	stageFetch     = "fetch"
	stageTransform = "transform"
	stageEncode    = "encode"
	stagePersist   = "persist"
)

// failureWriteTimeout bounds the final failed write, which runs even when
// the run's own context is already done.
const failureWriteTimeout = 10 * time.Second

// SongResolver maps requested titles to catalog songs.
type SongResolver interface {
	Resolve(ctx context.Context, titles []string) ([]model.Song, error)
}

// BlendWorker runs the blend pipeline for one job at a time.
type BlendWorker struct {
	status    *service.StatusManager
	resolver  SongResolver
	fetcher   client.BlobFetcher
	generator client.Generator
	outputs   client.OutputStore
	publisher service.ProgressPublisher
	logger    *zap.Logger
}

// NewBlendWorker creates a new blend worker
func NewBlendWorker(
	status *service.StatusManager,
	resolver SongResolver,
	fetcher client.BlobFetcher,
	generator client.Generator,
	outputs client.OutputStore,
	publisher service.ProgressPublisher,
	logger *zap.Logger,
) *BlendWorker {
	return &BlendWorker{
		status:    status,
		resolver:  resolver,
		fetcher:   fetcher,
		generator: generator,
		outputs:   outputs,
		publisher: service.PublisherOrNop(publisher),
		logger:    logging.OrNop(logger).Named("worker"),
	}
}

// ProcessTask handles blend task processing
func (w *BlendWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	task, err := queue.ParseBlendTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	w.Run(ctx, task)
	return nil
}

// run is the state of one pipeline execution.
type run struct {
	jobID    string
	songs    []string
	stage    string
	progress int
	logger   *zap.Logger
}

// Run executes the pipeline for task. Every failure, including a panic,
// ends with the job marked failed at its last checkpoint; nothing escapes.
func (w *BlendWorker) Run(ctx context.Context, task model.BlendTask) {
	r := &run{
		jobID:  task.JobID,
		songs:  task.Songs,
		stage:  stageStart,
		logger: w.logger.With(zap.String(logging.FieldJobID, task.JobID)),
	}

	ctx, span := observability.StartSpan(ctx, "blend.run", attribute.String("job.id", task.JobID))
	var runErr error
	defer func() { observability.EndSpan(span, runErr) }()

	job, err := w.status.Read(ctx, task.JobID)
	if err != nil {
		runErr = err
		if errors.Is(err, model.ErrJobNotFound) {
			r.logger.Error("cannot load job", zap.Error(err))
			return
		}
		w.fail(ctx, r, fmt.Errorf("load job: %w", err))
		return
	}
	if job.IsDone() {
		r.logger.Info("job already finished, skipping run", zap.String("status", string(job.Status)))
		return
	}
	if len(r.songs) == 0 {
		r.songs = job.Songs
	}

	r.logger.Info("blend started", zap.Strings("songs", r.songs))
	start := time.Now()

	fileID, err := w.execute(ctx, r)
	if err != nil {
		runErr = err
		w.fail(ctx, r, err)
		return
	}

	w.publisher.PublishComplete(r.jobID, fileID)
	r.logger.Info("blend completed",
		zap.String(logging.FieldFileID, fileID),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (w *BlendWorker) execute(ctx context.Context, r *run) (fileID string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic in %s stage: %v", r.stage, rec)
		}
	}()

	if err := w.checkpoint(ctx, r, progressStarted); err != nil {
		return "", err
	}

	r.stage = stageResolve
	var songs []model.Song
	err = w.traced(ctx, r, func(ctx context.Context) error {
		songs, err = w.resolver.Resolve(ctx, r.songs)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := w.checkpoint(ctx, r, progressResolved); err != nil {
		return "", err
	}
	if len(songs) == 0 {
		return "", model.ErrNoAssets
	}
	if len(songs) < model.RequiredSongCount {
		r.logger.Warn("fewer songs resolved than requested, continuing with subset",
			zap.Int("resolved", len(songs)),
			zap.Int("requested", len(r.songs)),
		)
	}

	r.stage = stageFetch
	var assets []client.SongAsset
	err = w.traced(ctx, r, func(ctx context.Context) error {
		assets, err = w.fetchAssets(ctx, r, songs)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := w.checkpoint(ctx, r, progressFetched); err != nil {
		return "", err
	}

	r.stage = stageTransform
	var raw []byte
	err = w.traced(ctx, r, func(ctx context.Context) error {
		raw, err = w.generator.Transform(ctx, &client.TransformRequest{JobID: r.jobID, Assets: assets})
		return err
	})
	if err != nil {
		return "", err
	}
	if err := w.checkpoint(ctx, r, progressTransformed); err != nil {
		return "", err
	}

	r.stage = stageEncode
	var encoded []byte
	err = w.traced(ctx, r, func(ctx context.Context) error {
		encoded, err = w.generator.Encode(ctx, raw)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := w.checkpoint(ctx, r, progressEncoded); err != nil {
		return "", err
	}

	r.stage = stagePersist
	fileID = uuid.New().String()
	err = w.traced(ctx, r, func(ctx context.Context) error {
		if err := w.outputs.Put(ctx, fileID, encoded); err != nil {
			return fmt.Errorf("store output: %w", err)
		}
		_, err := w.status.Write(ctx, model.CompletedUpdate(r.jobID, fileID))
		return err
	})
	if err != nil {
		return "", err
	}
	r.progress = 100
	return fileID, nil
}

// fetchAssets downloads every song's MIDI concurrently. The first failure
// cancels the rest and fails the stage. Token assets are optional.
func (w *BlendWorker) fetchAssets(ctx context.Context, r *run, songs []model.Song) ([]client.SongAsset, error) {
	assets := make([]client.SongAsset, len(songs))
	g, gctx := errgroup.WithContext(ctx)

	for i, song := range songs {
		i, song := i, song
		g.Go(func() error {
			midi, err := w.fetcher.Fetch(gctx, song.MidiKey)
			if err != nil {
				return fmt.Errorf("fetch asset for %q: %w", song.Title, err)
			}
			asset := client.SongAsset{SongID: song.ID, Title: song.Title, Midi: midi}

			if song.TokenKey != nil && *song.TokenKey != "" {
				tokens, err := w.fetcher.Fetch(gctx, *song.TokenKey)
				if err != nil {
					r.logger.Warn("token asset unavailable",
						zap.String(logging.FieldSongID, song.ID),
						zap.Error(err),
					)
				} else {
					asset.Tokens = tokens
				}
			}

			assets[i] = asset
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

func (w *BlendWorker) traced(ctx context.Context, r *run, fn func(ctx context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "blend."+r.stage, attribute.String("job.id", r.jobID))
	err := fn(ctx)
	observability.EndSpan(span, err)
	return err
}

func (w *BlendWorker) checkpoint(ctx context.Context, r *run, progress int) error {
	if _, err := w.status.Write(ctx, model.ProgressUpdate(r.jobID, model.JobStatusProcessing, progress)); err != nil {
		return fmt.Errorf("record progress %d: %w", progress, err)
	}
	r.progress = progress
	w.publisher.PublishProgress(r.jobID, model.JobStatusProcessing, progress, r.stage)
	r.logger.Debug("checkpoint", zap.String(logging.FieldStage, r.stage), zap.Int(logging.FieldProgress, progress))
	return nil
}

func (w *BlendWorker) fail(ctx context.Context, r *run, err error) {
	msg := err.Error()
	r.logger.Error("stage failed",
		zap.String(logging.FieldStage, r.stage),
		zap.Int(logging.FieldProgress, r.progress),
		zap.Error(err),
	)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if _, werr := w.status.Write(wctx, model.FailedUpdate(r.jobID, r.progress, msg)); werr != nil {
		r.logger.Error("failed to record job failure", zap.Error(werr))
	}
	w.publisher.PublishFailed(r.jobID, errorCode(err), msg)
}

func errorCode(err error) string {
	var remote *client.RemoteError
	switch {
	case errors.Is(err, model.ErrNoAssets):
		return "NO_ASSETS"
	case errors.Is(err, model.ErrArtifactNotFound):
		return "ASSET_NOT_FOUND"
	case errors.Is(err, client.ErrAccessDenied):
		return "ASSET_ACCESS_DENIED"
	case errors.Is(err, client.ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
		return "GENERATION_TIMEOUT"
	case errors.Is(err, client.ErrGenerationOverloaded):
		return "GENERATION_OVERLOADED"
	case errors.Is(err, client.ErrPayloadTooLarge):
		return "PAYLOAD_TOO_LARGE"
	case errors.As(err, &remote):
		return "GENERATION_FAILED"
	default:
		return "PIPELINE_FAILED"
	}
}
