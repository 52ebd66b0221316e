package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const segmentSuffix = ".ts"

// defaultSegmentSeconds matches the hls_time the encoder is invoked with.
const defaultSegmentSeconds = 10

// FinalizeManifest ensures a staged rendition directory carries a manifest
// that references exactly the segments present, in creation order, and
// returns the segment count. When the encoder already wrote a playlist it is
// verified against the directory contents; otherwise one is generated. A
// manifest referencing a missing segment fails the attempt.
func FinalizeManifest(stagingDir string) (int, error) {
	segments, err := listSegments(stagingDir)
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, fmt.Errorf("no segments produced in %s", stagingDir)
	}

	manifestPath := filepath.Join(stagingDir, ManifestName)
	data, err := os.ReadFile(manifestPath)
	switch {
	case err == nil:
		referenced := SegmentNames(data)
		if len(referenced) == 0 {
			return 0, fmt.Errorf("manifest in %s references no segments", stagingDir)
		}
		present := make(map[string]struct{}, len(segments))
		for _, name := range segments {
			present[name] = struct{}{}
		}
		for _, name := range referenced {
			if _, ok := present[name]; !ok {
				return 0, fmt.Errorf("manifest references missing segment %s", name)
			}
		}
		return len(referenced), nil
	case os.IsNotExist(err):
		if err := writeManifest(manifestPath, segments); err != nil {
			return 0, err
		}
		return len(segments), nil
	default:
		return 0, fmt.Errorf("read staged manifest: %w", err)
	}
}

// SegmentNames extracts the segment entries from a manifest, in order.
func SegmentNames(manifest []byte) []string {
	var names []string
	for _, line := range strings.Split(string(manifest), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		names = append(names, trimmed)
	}
	return names
}

func writeManifest(path string, segments []string) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", defaultSegmentSeconds)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	for _, name := range segments {
		fmt.Fprintf(&b, "#EXTINF:%d.0,\n%s\n", defaultSegmentSeconds, name)
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	tmp, err := os.CreateTemp(filepath.Dir(path), "manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("stage manifest: %w", err)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("place manifest: %w", err)
	}
	return nil
}

// listSegments returns the staged segment files ordered by their numeric
// suffix, matching the encoder's creation order (-start_number 0).
func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list staging dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, segmentSuffix) && ValidName(name) {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		ni, iOK := segmentIndex(names[i])
		nj, jOK := segmentIndex(names[j])
		if iOK && jOK && ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
	return names, nil
}

func segmentIndex(name string) (int, bool) {
	base := strings.TrimSuffix(name, segmentSuffix)
	start := len(base)
	for start > 0 && base[start-1] >= '0' && base[start-1] <= '9' {
		start--
	}
	if start == len(base) {
		return 0, false
	}
	index, err := strconv.Atoi(base[start:])
	if err != nil {
		return 0, false
	}
	return index, true
}
