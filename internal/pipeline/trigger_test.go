package pipeline

import (
	"context"
	"testing"
	"time"

	"videoflix/internal/models"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/queue"
	"videoflix/internal/registry"
)

func TestTriggerEnqueuesOnAssetCreated(t *testing.T) {
	store := registry.NewMemoryStore()
	q := queue.NewMemoryQueue(time.Minute)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := NewTrigger(store, q, nil, nil)
	trigger.Start(ctx)
	defer trigger.Stop()

	deliveries, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	asset, err := store.CreateAsset(ctx, models.Asset{ID: "asset-1", SourcePath: "/src/a.mp4"})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}

	select {
	case delivery := <-deliveries:
		job := delivery.Job()
		if job.AssetID != asset.ID || job.SourcePath != asset.SourcePath || job.Attempt != 1 {
			t.Fatalf("unexpected job %+v", job)
		}
		_ = delivery.Ack(ctx)
	case <-time.After(2 * time.Second):
		t.Fatal("no job enqueued for created asset")
	}
}

func TestTriggerSkipsAssetsWithRenditionRows(t *testing.T) {
	store := registry.NewMemoryStore()
	q := queue.NewMemoryQueue(time.Minute)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a replayed create event for an asset that already has rows must not
	// re-enqueue
	if err := store.UpsertRendition(ctx, models.Rendition{AssetID: "asset-1", Label: "480p", State: models.RenditionReady}); err != nil {
		t.Fatalf("upsert rendition: %v", err)
	}

	trigger := NewTrigger(store, q, nil, nil)
	trigger.Start(ctx)
	defer trigger.Stop()

	deliveries, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := store.CreateAsset(ctx, models.Asset{ID: "asset-1", SourcePath: "/src/a.mp4"}); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	select {
	case delivery := <-deliveries:
		t.Fatalf("unexpected job %+v", delivery.Job())
	case <-time.After(300 * time.Millisecond):
	}
}

func TestTriggerForwardsDeletionsToReconciler(t *testing.T) {
	store := registry.NewMemoryStore()
	q := queue.NewMemoryQueue(time.Minute)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	artifacts := newTestArtifacts(t)
	publishTestRendition(t, artifacts, "asset-1", "480p")
	reconciler := NewReconciler(store, artifacts, metrics.New(), time.Hour, nil)

	trigger := NewTrigger(store, q, reconciler, nil)
	trigger.Start(ctx)
	defer trigger.Stop()

	asset, err := store.CreateAsset(ctx, models.Asset{ID: "asset-1", SourcePath: "/src/a.mp4"})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	// drain the create-triggered enqueue so Stop does not race it
	time.Sleep(50 * time.Millisecond)

	if err := store.DeleteAsset(ctx, asset.ID); err != nil {
		t.Fatalf("delete asset: %v", err)
	}

	waitFor(t, 2*time.Second, "artifact removal", func() bool {
		return !artifacts.Exists("asset-1", "480p")
	})
}

func TestTriggerRecoversPendingAssetAfterDroppedEvent(t *testing.T) {
	store := registry.NewMemoryStore()
	q := queue.NewMemoryQueue(time.Minute)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// created before the trigger subscribes, so the create event is lost
	asset, err := store.CreateAsset(ctx, models.Asset{ID: "asset-1", SourcePath: "/src/a.mp4"})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}

	trigger := NewTrigger(store, q, nil, nil)
	trigger.recoverEvery = 30 * time.Millisecond
	trigger.Start(ctx)
	defer trigger.Stop()

	deliveries, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	select {
	case delivery := <-deliveries:
		job := delivery.Job()
		if job.AssetID != asset.ID || job.SourcePath != asset.SourcePath {
			t.Fatalf("unexpected recovered job %+v", job)
		}
		_ = delivery.Ack(ctx)
	case <-time.After(2 * time.Second):
		t.Fatal("pending asset never re-dispatched")
	}
}
