// Package registry exposes the asset registry the pipeline consumes and
// persists the rendition rows the pipeline owns. The registry itself is an
// external collaborator; the core only reads asset identity and source
// locators, writes aggregate status, and reacts to create/delete events.
package registry

import (
	"context"

	"videoflix/internal/models"
)

// EventType distinguishes registry lifecycle notifications.
type EventType string

const (
	EventAssetCreated EventType = "asset_created"
	EventAssetDeleted EventType = "asset_deleted"
)

// Event is one registry notification delivered to subscribers.
type Event struct {
	Type       EventType
	AssetID    string
	SourcePath string
}

// Subscription delivers registry events until closed.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// Store is the narrow surface the pipeline and delivery gateway consume.
type Store interface {
	// Exists reports whether the asset is still registered. Workers call
	// this immediately before publishing so deleted assets are never
	// resurrected.
	Exists(ctx context.Context, assetID string) (bool, error)
	GetAsset(ctx context.Context, assetID string) (models.Asset, bool, error)
	// ListAssets returns all assets ordered by creation time, newest first.
	ListAssets(ctx context.Context) ([]models.Asset, error)
	SetStatus(ctx context.Context, assetID string, status models.AssetStatus) error

	UpsertRendition(ctx context.Context, rendition models.Rendition) error
	ListRenditions(ctx context.Context, assetID string) ([]models.Rendition, error)
	HasRenditions(ctx context.Context, assetID string) (bool, error)
	DeleteRenditions(ctx context.Context, assetID string) error

	// Subscribe registers for create/delete events emitted by the registry.
	Subscribe() Subscription
}
