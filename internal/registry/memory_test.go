package registry

import (
	"context"
	"testing"
	"time"

	"videoflix/internal/models"
)

func receiveEvent(t *testing.T, sub Subscription, timeout time.Duration) Event {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return event
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryStoreCreateEmitsEvent(t *testing.T) {
	store := NewMemoryStore()
	sub := store.Subscribe()
	defer sub.Close()
	ctx := context.Background()

	asset, err := store.CreateAsset(ctx, models.Asset{
		Title:      "First",
		SourcePath: "/src/first.mp4",
		Category:   "drama",
	})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	if asset.ID == "" {
		t.Fatal("expected generated asset id")
	}
	if asset.Status != models.AssetPending {
		t.Fatalf("status: got %q, want pending", asset.Status)
	}
	if asset.Category != models.CategoryDrama {
		t.Fatalf("category: got %q, want Drama", asset.Category)
	}

	event := receiveEvent(t, sub, time.Second)
	if event.Type != EventAssetCreated || event.AssetID != asset.ID || event.SourcePath != asset.SourcePath {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestMemoryStoreDeleteEmitsEventAndDropsRows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	asset, err := store.CreateAsset(ctx, models.Asset{SourcePath: "/src/a.mp4"})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	if err := store.UpsertRendition(ctx, models.Rendition{AssetID: asset.ID, Label: "480p", State: models.RenditionReady}); err != nil {
		t.Fatalf("upsert rendition: %v", err)
	}

	sub := store.Subscribe()
	defer sub.Close()
	if err := store.DeleteAsset(ctx, asset.ID); err != nil {
		t.Fatalf("delete asset: %v", err)
	}

	event := receiveEvent(t, sub, time.Second)
	if event.Type != EventAssetDeleted || event.AssetID != asset.ID {
		t.Fatalf("unexpected event %+v", event)
	}
	exists, err := store.Exists(ctx, asset.ID)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("asset still present after delete")
	}
	has, err := store.HasRenditions(ctx, asset.ID)
	if err != nil {
		t.Fatalf("has renditions: %v", err)
	}
	if has {
		t.Fatal("rendition rows survived delete")
	}

	// deleting again is a no-op and emits nothing
	if err := store.DeleteAsset(ctx, asset.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryStoreListAssetsNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if _, err := store.CreateAsset(ctx, models.Asset{
			ID:         id,
			SourcePath: "/src/" + id + ".mp4",
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	assets, err := store.ListAssets(ctx)
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(assets))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if assets[i].ID != want {
			t.Fatalf("order at %d: got %s, want %s", i, assets[i].ID, want)
		}
	}
}

func TestMemoryStoreRenditionUpsertReplacesRow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.UpsertRendition(ctx, models.Rendition{AssetID: "a", Label: "720p", State: models.RenditionEncoding}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := store.UpsertRendition(ctx, models.Rendition{AssetID: "a", Label: "720p", State: models.RenditionReady, SegmentCount: 4}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rows, err := store.ListRenditions(ctx, "a")
	if err != nil {
		t.Fatalf("list renditions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row per (asset, label), got %d", len(rows))
	}
	if rows[0].State != models.RenditionReady || rows[0].SegmentCount != 4 {
		t.Fatalf("row not replaced: %+v", rows[0])
	}
}

func TestMemoryStoreSetStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	asset, err := store.CreateAsset(ctx, models.Asset{SourcePath: "/src/a.mp4"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SetStatus(ctx, asset.ID, models.AssetReady); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, ok, err := store.GetAsset(ctx, asset.ID)
	if err != nil || !ok {
		t.Fatalf("get asset: ok=%v err=%v", ok, err)
	}
	if got.Status != models.AssetReady {
		t.Fatalf("status: got %q, want ready", got.Status)
	}
	if err := store.SetStatus(ctx, "missing", models.AssetReady); err == nil {
		t.Fatal("expected error for unknown asset")
	}
}
