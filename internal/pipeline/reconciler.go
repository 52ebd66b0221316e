package pipeline

import (
	"context"
	"log/slog"
	"time"

	"videoflix/internal/artifact"
	"videoflix/internal/observability/logging"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/registry"
)

// retiredRetention is how long a retired rendition directory may linger
// before the sweep reclaims it.
const retiredRetention = time.Hour

// Reconciler keeps the artifact tree consistent with the registry. It
// reacts to deletions immediately and sweeps periodically for directories
// that lost their asset while no worker was watching.
type Reconciler struct {
	registry  registry.Store
	artifacts *artifact.Store
	recorder  *metrics.Recorder
	interval  time.Duration
	logger    *slog.Logger
}

func NewReconciler(store registry.Store, artifacts *artifact.Store, recorder *metrics.Recorder, interval time.Duration, logger *slog.Logger) *Reconciler {
	if recorder == nil {
		recorder = metrics.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{
		registry:  store,
		artifacts: artifacts,
		recorder:  recorder,
		interval:  interval,
		logger:    logging.WithComponent(logger, "reconciler"),
	}
}

// OnAssetDeleted removes the asset's rendition rows and artifact subtree.
// An in-flight worker discovers the deletion itself through the
// pre-publish existence re-check, so this is best effort.
func (r *Reconciler) OnAssetDeleted(ctx context.Context, assetID string) {
	logger := r.logger.With("asset_id", assetID)
	if err := r.registry.DeleteRenditions(ctx, assetID); err != nil {
		logger.Warn("delete rendition rows", "error", err)
	}
	if err := r.artifacts.Remove(assetID); err != nil {
		logger.Warn("remove artifacts", "error", err)
		return
	}
	logger.Info("artifacts removed")
}

// Sweep removes artifact directories whose asset no longer exists. It is
// idempotent; filesystem errors are logged and retried next pass.
func (r *Reconciler) Sweep(ctx context.Context) (removed int, failed int) {
	assetIDs, err := r.artifacts.ListAssetIDs()
	if err != nil {
		r.logger.Error("list artifact directories", "error", err)
		r.recorder.ObserveSweep(0, 1)
		return 0, 1
	}
	for _, assetID := range assetIDs {
		exists, err := r.registry.Exists(ctx, assetID)
		if err != nil {
			r.logger.Warn("sweep asset lookup", "asset_id", assetID, "error", err)
			failed++
			continue
		}
		if exists {
			continue
		}
		if err := r.artifacts.Remove(assetID); err != nil {
			r.logger.Warn("sweep remove", "asset_id", assetID, "error", err)
			failed++
			continue
		}
		r.logger.Info("orphan artifacts removed", "asset_id", assetID)
		removed++
	}
	pruned, err := r.artifacts.PruneRetired(retiredRetention)
	if err != nil {
		r.logger.Warn("prune retired directories", "error", err)
		failed++
	}
	removed += pruned
	r.recorder.ObserveSweep(removed, failed)
	return removed, failed
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}
