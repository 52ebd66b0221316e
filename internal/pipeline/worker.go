package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"videoflix/internal/artifact"
	"videoflix/internal/encoder"
	"videoflix/internal/lease"
	"videoflix/internal/models"
	"videoflix/internal/observability/logging"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/queue"
	"videoflix/internal/registry"
)

const (
	defaultWorkers           = 2
	defaultRenditionParallel = 1
	defaultMaxAttempts       = 3
	defaultRetryBackoff      = 5 * time.Second
	defaultEncodeTimeout     = 30 * time.Minute
	defaultLeaseTTL          = time.Hour
	defaultDuplicateDelay    = 15 * time.Second

	outcomeReady    = "ready"
	outcomePartial  = "partial"
	outcomeFailed   = "failed"
	outcomeCanceled = "canceled"
	outcomeRetried  = "retried"
)

// WorkerConfig wires the transcode worker pool.
type WorkerConfig struct {
	Registry  registry.Store
	Queue     queue.Queue
	Leaser    lease.Leaser
	Artifacts *artifact.Store
	Executor  encoder.Executor
	// Renditions is the full encoding ladder; every job attempts all of it.
	Renditions []encoder.Spec

	Workers           int
	RenditionParallel int
	MaxAttempts       int
	RetryBackoff      time.Duration
	EncodeTimeout     time.Duration
	LeaseTTL          time.Duration
	// DuplicateDelay spaces re-offers of a job whose asset is leased
	// elsewhere.
	DuplicateDelay time.Duration

	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Worker consumes transcode jobs and turns them into published renditions.
type Worker struct {
	cfg      WorkerConfig
	recorder *metrics.Recorder
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.RenditionParallel <= 0 {
		cfg.RenditionParallel = defaultRenditionParallel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.EncodeTimeout <= 0 {
		cfg.EncodeTimeout = defaultEncodeTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.DuplicateDelay <= 0 {
		cfg.DuplicateDelay = defaultDuplicateDelay
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:      cfg,
		recorder: recorder,
		logger:   logging.WithComponent(logger, "worker"),
	}
}

// Start subscribes to the queue and launches the pool. It returns once the
// subscription is established; Wait blocks until all workers drain.
func (w *Worker) Start(ctx context.Context) error {
	deliveries, err := w.cfg.Queue.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe transcode queue: %w", err)
	}
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for delivery := range deliveries {
				w.process(ctx, delivery)
			}
		}()
	}
	return nil
}

// Wait blocks until the delivery channel closes and every worker exits.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) process(ctx context.Context, delivery queue.Delivery) {
	job := delivery.Job()
	ctx = logging.ContextWithAssetID(ctx, job.AssetID)
	logger := w.logger.With("asset_id", job.AssetID, "attempt", job.Attempt)

	exists, err := w.cfg.Registry.Exists(ctx, job.AssetID)
	if err != nil {
		logger.Error("asset lookup", "error", err)
		w.requeueLater(ctx, delivery, job, w.cfg.DuplicateDelay, logger)
		return
	}
	if !exists {
		logger.Info("asset deleted before processing, dropping job")
		w.ack(ctx, delivery, logger)
		return
	}

	held, err := w.cfg.Leaser.Acquire(ctx, job.AssetID, w.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			w.recorder.JobDuplicate()
			logger.Info("asset leased elsewhere, deferring job")
			w.requeueLater(ctx, delivery, job, w.cfg.DuplicateDelay, logger)
			return
		}
		logger.Error("acquire lease", "error", err)
		w.requeueLater(ctx, delivery, job, w.cfg.RetryBackoff, logger)
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := held.Release(releaseCtx); err != nil {
			logger.Warn("release lease", "error", err)
		}
	}()

	w.recorder.JobStarted()
	started := time.Now()
	outcome := w.runJob(ctx, job, logger)
	w.recorder.JobCompleted(outcome)
	logger.Info("job finished", "outcome", outcome, "duration_ms", time.Since(started).Milliseconds())

	switch outcome {
	case outcomeFailed:
		if job.Attempt < w.cfg.MaxAttempts {
			delay := retryDelay(w.cfg.RetryBackoff, job.Attempt)
			next := job
			next.Attempt++
			next.EnqueuedAt = time.Now().UTC()
			w.recorder.JobRetried()
			logger.Info("scheduling retry", "next_attempt", next.Attempt, "delay_ms", delay.Milliseconds())
			if err := delivery.Requeue(ctx, next, delay); err != nil {
				logger.Error("requeue retry", "error", err)
			}
			return
		}
		if err := w.cfg.Registry.SetStatus(ctx, job.AssetID, models.AssetFailed); err != nil {
			logger.Error("mark asset failed", "error", err)
		}
		w.ack(ctx, delivery, logger)
	default:
		w.ack(ctx, delivery, logger)
	}
}

// runJob executes every rung of the ladder and aggregates the outcome.
func (w *Worker) runJob(ctx context.Context, job models.Job, logger *slog.Logger) string {
	results := make([]bool, len(w.cfg.Renditions))
	canceled := false
	var cancelMu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.cfg.RenditionParallel)
	for i, spec := range w.cfg.Renditions {
		i, spec := i, spec
		group.Go(func() error {
			ok, gone := w.encodeRendition(groupCtx, job, spec, logger)
			results[i] = ok
			if gone {
				cancelMu.Lock()
				canceled = true
				cancelMu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	if canceled {
		// The asset vanished mid-job. Remove whatever this attempt and
		// earlier ones left behind.
		if err := w.cfg.Registry.DeleteRenditions(ctx, job.AssetID); err != nil {
			logger.Warn("delete rendition rows", "error", err)
		}
		if err := w.cfg.Artifacts.Remove(job.AssetID); err != nil {
			logger.Warn("remove artifacts", "error", err)
		}
		return outcomeCanceled
	}

	ready := 0
	for _, ok := range results {
		if ok {
			ready++
		}
	}
	switch {
	case ready == len(w.cfg.Renditions):
		if err := w.cfg.Registry.SetStatus(ctx, job.AssetID, models.AssetReady); err != nil {
			logger.Error("mark asset ready", "error", err)
		}
		return outcomeReady
	case ready > 0:
		if err := w.cfg.Registry.SetStatus(ctx, job.AssetID, models.AssetPartial); err != nil {
			logger.Error("mark asset partial", "error", err)
		}
		return outcomePartial
	default:
		return outcomeFailed
	}
}

// encodeRendition runs one rung end to end: staging reset, encode,
// manifest check, pre-publish existence re-check, atomic publish. The gone
// result reports that the asset was deleted while the rung ran.
func (w *Worker) encodeRendition(ctx context.Context, job models.Job, spec encoder.Spec, logger *slog.Logger) (ok, gone bool) {
	logger = logger.With("rendition", spec.Label)

	if err := w.cfg.Registry.UpsertRendition(ctx, models.Rendition{
		AssetID: job.AssetID,
		Label:   spec.Label,
		State:   models.RenditionEncoding,
	}); err != nil {
		logger.Error("mark rendition encoding", "error", err)
	}

	stagingDir, err := w.cfg.Artifacts.StagingDir(job.AssetID, spec.Label)
	if err != nil {
		w.failRendition(ctx, job.AssetID, spec.Label, logger, "prepare staging", err)
		return false, false
	}

	encodeCtx, cancel := context.WithTimeout(ctx, w.cfg.EncodeTimeout)
	result, err := w.cfg.Executor.Encode(encodeCtx, job.SourcePath, spec, stagingDir)
	cancel()
	if err != nil {
		if result.Stderr != "" {
			logger.Debug("encoder stderr tail", "stderr", result.Stderr)
		}
		w.discardStaging(job.AssetID, spec.Label, logger)
		w.failRendition(ctx, job.AssetID, spec.Label, logger, "encode", err)
		return false, false
	}

	segments, err := artifact.FinalizeManifest(stagingDir)
	if err != nil {
		w.discardStaging(job.AssetID, spec.Label, logger)
		w.failRendition(ctx, job.AssetID, spec.Label, logger, "finalize manifest", err)
		return false, false
	}

	// Deletion is honored lazily at the publish boundary: an asset removed
	// while encoding must never reappear on disk.
	exists, err := w.cfg.Registry.Exists(ctx, job.AssetID)
	if err != nil {
		w.discardStaging(job.AssetID, spec.Label, logger)
		w.failRendition(ctx, job.AssetID, spec.Label, logger, "pre-publish check", err)
		return false, false
	}
	if !exists {
		w.discardStaging(job.AssetID, spec.Label, logger)
		logger.Info("asset deleted mid-encode, staging discarded")
		return false, true
	}

	if err := w.cfg.Artifacts.Publish(job.AssetID, spec.Label); err != nil {
		w.discardStaging(job.AssetID, spec.Label, logger)
		w.failRendition(ctx, job.AssetID, spec.Label, logger, "publish", err)
		return false, false
	}

	if err := w.cfg.Registry.UpsertRendition(ctx, models.Rendition{
		AssetID:      job.AssetID,
		Label:        spec.Label,
		State:        models.RenditionReady,
		ManifestPath: fmt.Sprintf("%s/%s/%s", job.AssetID, spec.Label, artifact.ManifestName),
		SegmentCount: segments,
	}); err != nil {
		logger.Error("mark rendition ready", "error", err)
	}
	w.recorder.ObserveRendition(spec.Label, "ready")
	logger.Info("rendition published", "segments", segments)
	return true, false
}

func (w *Worker) failRendition(ctx context.Context, assetID, label string, logger *slog.Logger, stage string, cause error) {
	logger.Error("rendition failed", "stage", stage, "error", cause)
	w.recorder.ObserveRendition(label, "failed")
	if err := w.cfg.Registry.UpsertRendition(ctx, models.Rendition{
		AssetID: assetID,
		Label:   label,
		State:   models.RenditionFailed,
	}); err != nil {
		logger.Error("mark rendition failed", "error", err)
	}
}

func (w *Worker) discardStaging(assetID, label string, logger *slog.Logger) {
	if err := w.cfg.Artifacts.DiscardStaging(assetID, label); err != nil {
		logger.Warn("discard staging", "error", err)
	}
}

func (w *Worker) ack(ctx context.Context, delivery queue.Delivery, logger *slog.Logger) {
	if err := delivery.Ack(ctx); err != nil {
		logger.Error("ack job", "error", err)
	}
}

func (w *Worker) requeueLater(ctx context.Context, delivery queue.Delivery, job models.Job, delay time.Duration, logger *slog.Logger) {
	if err := delivery.Requeue(ctx, job, delay); err != nil {
		logger.Error("requeue job", "error", err)
	}
}

// retryDelay doubles the base backoff per completed attempt.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := math.Pow(2, float64(attempt-1))
	return time.Duration(float64(base) * factor)
}
