package registry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"videoflix/internal/models"
)

func newIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("VIDEOFLIX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VIDEOFLIX_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres store: %v", err)
	}
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	})
	return store
}

func TestPostgresStoreCreateDefaultsBlankID(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	asset, err := store.CreateAsset(ctx, models.Asset{SourcePath: "/src/blank-id.mp4"})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	defer func() { _ = store.DeleteAsset(ctx, asset.ID) }()

	if asset.ID == "" {
		t.Fatal("blank asset id was not defaulted")
	}
	if _, err := uuid.Parse(asset.ID); err != nil {
		t.Fatalf("defaulted id %q is not a uuid: %v", asset.ID, err)
	}
}

func TestPostgresStoreAssetLifecycle(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	asset, err := store.CreateAsset(ctx, models.Asset{
		ID:         uuid.NewString(),
		Title:      "Integration",
		SourcePath: "/src/integration.mp4",
		Category:   "action",
	})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	defer func() { _ = store.DeleteAsset(ctx, asset.ID) }()

	exists, err := store.Exists(ctx, asset.ID)
	if err != nil || !exists {
		t.Fatalf("exists: ok=%v err=%v", exists, err)
	}

	if err := store.UpsertRendition(ctx, models.Rendition{AssetID: asset.ID, Label: "480p", State: models.RenditionEncoding}); err != nil {
		t.Fatalf("upsert rendition: %v", err)
	}
	if err := store.UpsertRendition(ctx, models.Rendition{AssetID: asset.ID, Label: "480p", State: models.RenditionReady, SegmentCount: 3}); err != nil {
		t.Fatalf("upsert rendition again: %v", err)
	}
	rows, err := store.ListRenditions(ctx, asset.ID)
	if err != nil {
		t.Fatalf("list renditions: %v", err)
	}
	if len(rows) != 1 || rows[0].State != models.RenditionReady || rows[0].SegmentCount != 3 {
		t.Fatalf("unexpected rendition rows %+v", rows)
	}

	if err := store.SetStatus(ctx, asset.ID, models.AssetReady); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, ok, err := store.GetAsset(ctx, asset.ID)
	if err != nil || !ok {
		t.Fatalf("get asset: ok=%v err=%v", ok, err)
	}
	if got.Status != models.AssetReady || got.Category != models.CategoryAction {
		t.Fatalf("unexpected asset %+v", got)
	}

	if err := store.DeleteAsset(ctx, asset.ID); err != nil {
		t.Fatalf("delete asset: %v", err)
	}
	exists, err = store.Exists(ctx, asset.ID)
	if err != nil {
		t.Fatalf("exists after delete: %v", err)
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
}
