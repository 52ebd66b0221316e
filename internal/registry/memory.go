package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"videoflix/internal/models"
)

// MemoryStore is an in-process Store used by the single-binary deployment
// and by tests. It also acts as the registry of record: CreateAsset and
// DeleteAsset mutate it directly and emit the matching events.
type MemoryStore struct {
	mu         sync.RWMutex
	assets     map[string]models.Asset
	renditions map[string]map[string]models.Rendition
	events     *hub
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:     make(map[string]models.Asset),
		renditions: make(map[string]map[string]models.Rendition),
		events:     newHub(),
		now:        time.Now,
	}
}

// CreateAsset registers a new asset and emits an asset_created event. A
// blank ID is replaced with a fresh UUID; CreatedAt defaults to now.
func (s *MemoryStore) CreateAsset(ctx context.Context, asset models.Asset) (models.Asset, error) {
	if strings.TrimSpace(asset.SourcePath) == "" {
		return models.Asset{}, fmt.Errorf("asset source path is required")
	}
	if strings.TrimSpace(asset.ID) == "" {
		asset.ID = uuid.NewString()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = s.now().UTC()
	}
	if asset.Status == "" {
		asset.Status = models.AssetPending
	}
	asset.Category = models.NormalizeCategory(string(asset.Category))

	s.mu.Lock()
	if _, exists := s.assets[asset.ID]; exists {
		s.mu.Unlock()
		return models.Asset{}, fmt.Errorf("asset %s already exists", asset.ID)
	}
	s.assets[asset.ID] = asset
	s.mu.Unlock()

	s.events.emit(Event{Type: EventAssetCreated, AssetID: asset.ID, SourcePath: asset.SourcePath})
	return asset, nil
}

// DeleteAsset removes the asset record and emits an asset_deleted event.
// Deleting an unknown asset is a no-op.
func (s *MemoryStore) DeleteAsset(ctx context.Context, assetID string) error {
	s.mu.Lock()
	asset, exists := s.assets[assetID]
	if exists {
		delete(s.assets, assetID)
		delete(s.renditions, assetID)
	}
	s.mu.Unlock()
	if !exists {
		return nil
	}
	s.events.emit(Event{Type: EventAssetDeleted, AssetID: assetID, SourcePath: asset.SourcePath})
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, assetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.assets[assetID]
	return ok, nil
}

func (s *MemoryStore) GetAsset(ctx context.Context, assetID string) (models.Asset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[assetID]
	return asset, ok, nil
}

func (s *MemoryStore) ListAssets(ctx context.Context) ([]models.Asset, error) {
	s.mu.RLock()
	assets := make([]models.Asset, 0, len(s.assets))
	for _, asset := range s.assets {
		assets = append(assets, asset)
	}
	s.mu.RUnlock()

	sort.Slice(assets, func(i, j int) bool {
		if assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].ID > assets[j].ID
		}
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})
	return assets, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, assetID string, status models.AssetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[assetID]
	if !ok {
		return fmt.Errorf("asset %s not found", assetID)
	}
	asset.Status = status
	s.assets[assetID] = asset
	return nil
}

func (s *MemoryStore) UpsertRendition(ctx context.Context, rendition models.Rendition) error {
	if rendition.UpdatedAt.IsZero() {
		rendition.UpdatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.renditions[rendition.AssetID]
	if !ok {
		rows = make(map[string]models.Rendition)
		s.renditions[rendition.AssetID] = rows
	}
	rows[rendition.Label] = rendition
	return nil
}

func (s *MemoryStore) ListRenditions(ctx context.Context, assetID string) ([]models.Rendition, error) {
	s.mu.RLock()
	rows := make([]models.Rendition, 0, len(s.renditions[assetID]))
	for _, row := range s.renditions[assetID] {
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].Label < rows[j].Label })
	return rows, nil
}

func (s *MemoryStore) HasRenditions(ctx context.Context, assetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.renditions[assetID]) > 0, nil
}

func (s *MemoryStore) DeleteRenditions(ctx context.Context, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.renditions, assetID)
	return nil
}

func (s *MemoryStore) Subscribe() Subscription {
	return s.events.subscribe()
}
