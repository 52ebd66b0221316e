package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"videoflix/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS assets (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    source_path TEXT NOT NULL,
    thumbnail_url TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'Other',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS renditions (
    asset_id TEXT NOT NULL,
    label TEXT NOT NULL,
    state TEXT NOT NULL,
    manifest_path TEXT NOT NULL DEFAULT '',
    segment_count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (asset_id, label)
);
`

// PostgresStore persists assets and rendition rows to Postgres, allowing
// multiple worker replicas to share registry state. Create/delete events
// still originate in-process through the embedded hub; multi-replica
// deployments rely on the queue and the sweep for cross-node convergence.
type PostgresStore struct {
	pool   *pgxpool.Pool
	events *hub
}

// NewPostgresStore opens a pool against the DSN and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres registry dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres registry config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres registry pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply registry schema: %w", err)
	}
	return &PostgresStore{pool: pool, events: newHub()}, nil
}

// Close releases the connection pool resources.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// CreateAsset inserts a new asset row and emits an asset_created event.
func (s *PostgresStore) CreateAsset(ctx context.Context, asset models.Asset) (models.Asset, error) {
	if asset.SourcePath == "" {
		return models.Asset{}, fmt.Errorf("asset source path is required")
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.Status == "" {
		asset.Status = models.AssetPending
	}
	asset.Category = models.NormalizeCategory(string(asset.Category))
	row := s.pool.QueryRow(ctx, `
INSERT INTO assets (id, title, description, source_path, thumbnail_url, category, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at
`, asset.ID, asset.Title, asset.Description, asset.SourcePath, asset.ThumbnailURL, string(asset.Category), string(asset.Status))
	if err := row.Scan(&asset.CreatedAt); err != nil {
		return models.Asset{}, fmt.Errorf("insert asset: %w", err)
	}
	s.events.emit(Event{Type: EventAssetCreated, AssetID: asset.ID, SourcePath: asset.SourcePath})
	return asset, nil
}

// DeleteAsset removes the asset and its rendition rows, then emits an
// asset_deleted event. Deleting an unknown asset is a no-op.
func (s *PostgresStore) DeleteAsset(ctx context.Context, assetID string) error {
	var sourcePath string
	err := s.pool.QueryRow(ctx, `DELETE FROM assets WHERE id = $1 RETURNING source_path`, assetID).Scan(&sourcePath)
	if err != nil {
		if isNoRows(err) {
			return nil
		}
		return fmt.Errorf("delete asset: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM renditions WHERE asset_id = $1`, assetID); err != nil {
		return fmt.Errorf("delete renditions: %w", err)
	}
	s.events.emit(Event{Type: EventAssetDeleted, AssetID: assetID, SourcePath: sourcePath})
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, assetID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assets WHERE id = $1)`, assetID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check asset: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, assetID string) (models.Asset, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, title, description, source_path, thumbnail_url, category, status, created_at
FROM assets
WHERE id = $1
`, assetID)
	asset, err := scanAsset(row)
	if err != nil {
		if isNoRows(err) {
			return models.Asset{}, false, nil
		}
		return models.Asset{}, false, err
	}
	return asset, true, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, title, description, source_path, thumbnail_url, category, status, created_at
FROM assets
ORDER BY created_at DESC, id DESC
`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	assets := make([]models.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (s *PostgresStore) SetStatus(ctx context.Context, assetID string, status models.AssetStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE assets SET status = $2 WHERE id = $1`, assetID, string(status))
	if err != nil {
		return fmt.Errorf("update asset status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %s not found", assetID)
	}
	return nil
}

func (s *PostgresStore) UpsertRendition(ctx context.Context, rendition models.Rendition) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO renditions (asset_id, label, state, manifest_path, segment_count, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (asset_id, label) DO UPDATE SET
    state = EXCLUDED.state,
    manifest_path = EXCLUDED.manifest_path,
    segment_count = EXCLUDED.segment_count,
    updated_at = now()
`, rendition.AssetID, rendition.Label, string(rendition.State), rendition.ManifestPath, rendition.SegmentCount)
	if err != nil {
		return fmt.Errorf("upsert rendition: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRenditions(ctx context.Context, assetID string) ([]models.Rendition, error) {
	rows, err := s.pool.Query(ctx, `
SELECT asset_id, label, state, manifest_path, segment_count, updated_at
FROM renditions
WHERE asset_id = $1
ORDER BY label
`, assetID)
	if err != nil {
		return nil, fmt.Errorf("list renditions: %w", err)
	}
	defer rows.Close()

	renditions := make([]models.Rendition, 0)
	for rows.Next() {
		var rendition models.Rendition
		var state string
		if err := rows.Scan(&rendition.AssetID, &rendition.Label, &state, &rendition.ManifestPath, &rendition.SegmentCount, &rendition.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rendition: %w", err)
		}
		rendition.State = models.RenditionState(state)
		renditions = append(renditions, rendition)
	}
	return renditions, rows.Err()
}

func (s *PostgresStore) HasRenditions(ctx context.Context, assetID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM renditions WHERE asset_id = $1)`, assetID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check renditions: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) DeleteRenditions(ctx context.Context, assetID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM renditions WHERE asset_id = $1`, assetID); err != nil {
		return fmt.Errorf("delete renditions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Subscribe() Subscription {
	return s.events.subscribe()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (models.Asset, error) {
	var asset models.Asset
	var category, status string
	if err := row.Scan(&asset.ID, &asset.Title, &asset.Description, &asset.SourcePath, &asset.ThumbnailURL, &category, &status, &asset.CreatedAt); err != nil {
		return models.Asset{}, err
	}
	asset.Category = models.Category(category)
	asset.Status = models.AssetStatus(status)
	return asset, nil
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}
