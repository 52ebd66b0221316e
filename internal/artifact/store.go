package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ManifestName is the playlist filename inside every rendition directory.
const ManifestName = "index.m3u8"

// stagingDirName holds in-progress output under the artifact root. The
// delivery gateway never resolves names beginning with a dot, so staged
// content is unreachable until published.
const stagingDirName = ".staging"

// retiredMarker tags directories moved aside during a re-publish; the
// suffix after it is the retirement time in nanoseconds.
const retiredMarker = "-retired-"

// ErrNotFound signals an absent asset, rendition, or file on the read path.
var ErrNotFound = errors.New("artifact not found")

// Store implements the filesystem layout root/{assetID}/{label}/ with a
// manifest and an ordered set of segment files. All mutations funnel through
// staging directories and a single rename so readers never observe a
// half-written rendition.
type Store struct {
	root string
}

// NewStore resolves root to an absolute path and prepares the directory
// skeleton.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(absRoot, stagingDirName), 0o755); err != nil {
		return nil, fmt.Errorf("prepare artifact root: %w", err)
	}
	return &Store{root: absRoot}, nil
}

// Root returns the absolute artifact root directory.
func (s *Store) Root() string {
	return s.root
}

// ValidName reports whether a path component is safe to resolve beneath the
// root: no separators, no traversal, no hidden entries.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}

func (s *Store) renditionPath(assetID, label string) (string, error) {
	if !ValidName(assetID) {
		return "", fmt.Errorf("invalid asset id %q", assetID)
	}
	if !ValidName(label) {
		return "", fmt.Errorf("invalid rendition label %q", label)
	}
	return filepath.Join(s.root, assetID, label), nil
}

func (s *Store) stagingPath(assetID, label string) (string, error) {
	if !ValidName(assetID) {
		return "", fmt.Errorf("invalid asset id %q", assetID)
	}
	if !ValidName(label) {
		return "", fmt.Errorf("invalid rendition label %q", label)
	}
	return filepath.Join(s.root, stagingDirName, assetID, label), nil
}

// StagingDir creates a fresh scratch directory for one rendition attempt.
// Any prior partial output is deleted first so segment numbering restarts at
// zero with no cross-attempt contamination.
func (s *Store) StagingDir(assetID, label string) (string, error) {
	dir, err := s.stagingPath(assetID, label)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("reset staging dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// DiscardStaging drops staged output without publishing it. Safe to call
// when nothing was staged.
func (s *Store) DiscardStaging(assetID, label string) error {
	dir, err := s.stagingPath(assetID, label)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("discard staging dir: %w", err)
	}
	return nil
}

// Publish atomically makes the staged rendition visible at its final path.
// Pre-existing content from a prior attempt is replaced wholesale: the old
// directory is moved aside before the staged one is renamed into place, so
// the rename is the only visibility-changing operation a reader can race.
func (s *Store) Publish(assetID, label string) error {
	staging, err := s.stagingPath(assetID, label)
	if err != nil {
		return err
	}
	final, err := s.renditionPath(assetID, label)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(staging, ManifestName)); err != nil {
		return fmt.Errorf("staged manifest missing: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("prepare rendition parent: %w", err)
	}

	var retired string
	if _, err := os.Stat(final); err == nil {
		retired = filepath.Join(s.root, stagingDirName, fmt.Sprintf("%s-%s%s%d", assetID, label, retiredMarker, time.Now().UnixNano()))
		if err := os.Rename(final, retired); err != nil {
			return fmt.Errorf("retire previous rendition: %w", err)
		}
	}
	if err := os.Rename(staging, final); err != nil {
		if retired != "" {
			// restore the previous rendition so readers keep a complete set
			_ = os.Rename(retired, final)
		}
		return fmt.Errorf("publish rendition: %w", err)
	}
	if retired != "" {
		// the publish already took effect; a leftover retired directory is
		// reclaimed by PruneRetired
		_ = os.RemoveAll(retired)
	}
	return nil
}

// PruneRetired deletes retired rendition directories older than olderThan,
// reclaiming leftovers from publishes that could not remove them. It
// returns the number of directories removed.
func (s *Store) PruneRetired(olderThan time.Duration) (int, error) {
	stagingRoot := filepath.Join(s.root, stagingDirName)
	entries, err := os.ReadDir(stagingRoot)
	if err != nil {
		return 0, fmt.Errorf("list staging dir: %w", err)
	}
	cutoff := time.Now().Add(-olderThan).UnixNano()
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		idx := strings.LastIndex(name, retiredMarker)
		if idx < 0 {
			continue
		}
		nanos, err := strconv.ParseInt(name[idx+len(retiredMarker):], 10, 64)
		if err != nil || nanos > cutoff {
			continue
		}
		if err := os.RemoveAll(filepath.Join(stagingRoot, name)); err != nil {
			return removed, fmt.Errorf("remove retired dir: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Remove deletes the asset's entire artifact subtree, staged output
// included. Removing an absent subtree is not an error.
func (s *Store) Remove(assetID string) error {
	if !ValidName(assetID) {
		return fmt.Errorf("invalid asset id %q", assetID)
	}
	if err := os.RemoveAll(filepath.Join(s.root, assetID)); err != nil {
		return fmt.Errorf("remove artifact subtree: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.root, stagingDirName, assetID)); err != nil {
		return fmt.Errorf("remove staged subtree: %w", err)
	}
	return nil
}

// Exists reports whether a published rendition directory with a manifest is
// present.
func (s *Store) Exists(assetID, label string) bool {
	dir, err := s.renditionPath(assetID, label)
	if err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestName)); err != nil {
		return false
	}
	return true
}

// ManifestBytes returns the published manifest for a rendition.
func (s *Store) ManifestBytes(assetID, label string) ([]byte, error) {
	dir, err := s.renditionPath(assetID, label)
	if err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return data, nil
}

// SegmentBytes returns one published segment. The name is validated before
// any filesystem access so traversal attempts never reach the disk.
func (s *Store) SegmentBytes(assetID, label, name string) ([]byte, error) {
	if !ValidName(name) || name == ManifestName {
		return nil, ErrNotFound
	}
	dir, err := s.renditionPath(assetID, label)
	if err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read segment: %w", err)
	}
	return data, nil
}

// ListAssetIDs enumerates the published artifact directories, used by the
// orphan sweep. Staging and other hidden entries are excluded.
func (s *Store) ListAssetIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list artifact root: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !ValidName(entry.Name()) {
			continue
		}
		ids = append(ids, entry.Name())
	}
	return ids, nil
}
