package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AssetStatus tracks the aggregate transcoding outcome for an asset.
type AssetStatus string

const (
	AssetPending AssetStatus = "pending"
	AssetPartial AssetStatus = "partial"
	AssetReady   AssetStatus = "ready"
	AssetFailed  AssetStatus = "failed"
)

// ParseAssetStatus validates a raw status string.
func ParseAssetStatus(raw string) (AssetStatus, error) {
	status := AssetStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case AssetPending, AssetPartial, AssetReady, AssetFailed:
		return status, nil
	}
	return "", fmt.Errorf("unknown asset status %q", raw)
}

// RenditionState tracks the lifecycle of one rendition attempt.
type RenditionState string

const (
	RenditionPending  RenditionState = "pending"
	RenditionEncoding RenditionState = "encoding"
	RenditionReady    RenditionState = "ready"
	RenditionFailed   RenditionState = "failed"
)

// Terminal reports whether the state is final for the current attempt.
func (s RenditionState) Terminal() bool {
	return s == RenditionReady || s == RenditionFailed
}

// Category labels an asset for the directory listing. The vocabulary is
// fixed; anything unrecognised collapses to CategoryOther.
type Category string

const (
	CategoryDrama       Category = "Drama"
	CategoryRomance     Category = "Romance"
	CategoryAction      Category = "Action"
	CategoryComedy      Category = "Comedy"
	CategoryHorror      Category = "Horror"
	CategoryDocumentary Category = "Documentary"
	CategoryOther       Category = "Other"
)

var categoryTitle = cases.Title(language.English)

// NormalizeCategory maps free-form input onto the fixed category set.
func NormalizeCategory(raw string) Category {
	normalized := Category(categoryTitle.String(strings.TrimSpace(raw)))
	switch normalized {
	case CategoryDrama, CategoryRomance, CategoryAction, CategoryComedy, CategoryHorror, CategoryDocumentary:
		return normalized
	default:
		return CategoryOther
	}
}

// Asset is the registry-owned record the pipeline consumes. The core reads
// ID and SourcePath and writes Status; everything else belongs to the
// registry and is surfaced read-only on the listing endpoint.
type Asset struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	SourcePath   string      `json:"sourcePath"`
	ThumbnailURL string      `json:"thumbnailUrl"`
	Category     Category    `json:"category"`
	Status       AssetStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Rendition is one resolution-specific encode of an asset. Exactly one row
// exists per (asset, label) pair; the row is rewritten on every attempt.
type Rendition struct {
	AssetID      string         `json:"assetId"`
	Label        string         `json:"label"`
	State        RenditionState `json:"state"`
	ManifestPath string         `json:"manifestPath,omitempty"`
	SegmentCount int            `json:"segmentCount,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Job is the queue message that drives one transcode attempt. It is
// transient: it exists only between enqueue and acknowledgement.
type Job struct {
	AssetID    string    `json:"assetId"`
	SourcePath string    `json:"sourcePath"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// EncodeJob serialises a job for the queue boundary.
func EncodeJob(job Job) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return payload, nil
}

// DecodeJob parses a queue payload back into a job.
func DecodeJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if strings.TrimSpace(job.AssetID) == "" {
		return Job{}, fmt.Errorf("job asset id is required")
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	return job, nil
}
