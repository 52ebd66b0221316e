package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"videoflix/internal/models"
	"videoflix/internal/observability/logging"
	"videoflix/internal/queue"
	"videoflix/internal/registry"
)

// defaultRecoverEvery spaces the pending recovery passes that re-dispatch
// assets whose create event was dropped.
const defaultRecoverEvery = time.Minute

// Trigger subscribes to registry events and turns asset creation into
// queued transcode jobs. Dispatch is idempotent: an asset that already has
// rendition rows is not re-enqueued, so replayed create events are safe.
type Trigger struct {
	registry     registry.Store
	queue        queue.Queue
	reconciler   *Reconciler
	recoverEvery time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	sub     registry.Subscription
	done    chan struct{}
	started bool
}

// NewTrigger wires the dispatcher. The reconciler is optional; when set,
// delete events are forwarded to it.
func NewTrigger(store registry.Store, q queue.Queue, reconciler *Reconciler, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		registry:     store,
		queue:        q,
		reconciler:   reconciler,
		recoverEvery: defaultRecoverEvery,
		logger:       logging.WithComponent(logger, "trigger"),
	}
}

// Start begins consuming registry events until ctx is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.sub = t.registry.Subscribe()
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.run(ctx)
}

// Stop detaches from the registry and waits for the event loop to exit.
func (t *Trigger) Stop() {
	t.mu.Lock()
	sub := t.sub
	done := t.done
	t.mu.Unlock()
	if sub == nil {
		return
	}
	sub.Close()
	if done != nil {
		<-done
	}
}

func (t *Trigger) run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.recoverEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.sub.Events():
			if !ok {
				return
			}
			t.handle(ctx, event)
		case <-ticker.C:
			t.recoverPending(ctx)
		}
	}
}

// recoverPending re-dispatches assets still pending with no rendition rows.
// This is the backstop for create events lost to a saturated subscriber;
// the age floor keeps a freshly created asset from being enqueued twice
// while its event is still in flight.
func (t *Trigger) recoverPending(ctx context.Context) {
	assets, err := t.registry.ListAssets(ctx)
	if err != nil {
		t.logger.Error("recovery asset listing", "error", err)
		return
	}
	cutoff := time.Now().Add(-t.recoverEvery)
	for _, asset := range assets {
		if asset.Status != models.AssetPending || asset.CreatedAt.After(cutoff) {
			continue
		}
		t.dispatch(ctx, registry.Event{
			Type:       registry.EventAssetCreated,
			AssetID:    asset.ID,
			SourcePath: asset.SourcePath,
		})
	}
}

func (t *Trigger) handle(ctx context.Context, event registry.Event) {
	switch event.Type {
	case registry.EventAssetCreated:
		t.dispatch(ctx, event)
	case registry.EventAssetDeleted:
		if t.reconciler != nil {
			t.reconciler.OnAssetDeleted(ctx, event.AssetID)
		}
	}
}

func (t *Trigger) dispatch(ctx context.Context, event registry.Event) {
	logger := t.logger.With("asset_id", event.AssetID)

	has, err := t.registry.HasRenditions(ctx, event.AssetID)
	if err != nil {
		logger.Error("rendition lookup", "error", err)
		return
	}
	if has {
		logger.Debug("dispatch skipped, renditions already present")
		return
	}

	job := models.Job{
		AssetID:    event.AssetID,
		SourcePath: event.SourcePath,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := t.queue.Enqueue(ctx, job); err != nil {
		logger.Error("enqueue transcode job", "error", err)
		return
	}
	logger.Info("transcode job enqueued")
}
