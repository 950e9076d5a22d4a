// Package fence implements the Fence Store (C1): a sorted, non-overlapping,
// versioned set of processed-content time ranges per collector, persisted
// as a JSON file and written atomically (write-temp-then-rename) for
// durability across crashes.
package fence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/chrispatten/haven-collector/internal/logging"
)

const (
	schemaVersion = 2

	// epsilon is the containment slop: earliest-ε <= t <= latest+ε.
	epsilon = time.Millisecond

	// contiguityWindow: ranges within this gap of each other are merged.
	contiguityWindow = time.Second
)

// Range is a closed time interval of already-processed content.
type Range struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// Contains reports whether t falls within r, inclusive, with ε slop.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Earliest.Add(-epsilon)) && !t.After(r.Latest.Add(epsilon))
}

// contiguous reports whether r and o overlap or sit within contiguityWindow.
func (r Range) contiguous(o Range) bool {
	if r.Latest.Add(contiguityWindow).Before(o.Earliest) {
		return false
	}
	if o.Latest.Add(contiguityWindow).Before(r.Earliest) {
		return false
	}
	return true
}

func (r Range) merge(o Range) Range {
	m := r
	if o.Earliest.Before(m.Earliest) {
		m.Earliest = o.Earliest
	}
	if o.Latest.After(m.Latest) {
		m.Latest = o.Latest
	}
	return m
}

// fileShape is the on-disk schema v2 representation, per §6.
type fileShape struct {
	Version int     `json:"version"`
	Fences  []Range `json:"fences"`
}

// legacyShape detects the old ID-based format, which is treated as
// "reset to empty" rather than an error (§3).
type legacyShape struct {
	IDs []string `json:"ids"`
}

// Store persists fences for one collector at a fixed path.
type Store struct {
	path string
	log  zerolog.Logger
}

// NewStore returns a fence Store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path, log: logging.WithComponent("fence-store")}
}

// Load reads the current fence set, sorted and coalesced. A missing file,
// or a file recognized as the legacy ID-based format, yields an empty set.
func (s *Store) Load() ([]Range, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fence file: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var legacy legacyShape
	if json.Unmarshal(raw, &legacy) == nil && legacy.IDs != nil {
		s.log.Warn().Str("path", s.path).Msg("legacy ID-based fence file detected, resetting to empty")
		return nil, nil
	}

	var shape fileShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("parse fence file: %w", err)
	}
	return Coalesce(shape.Fences), nil
}

// Save atomically persists fences (write-temp-then-rename), per §5.
func (s *Store) Save(fences []Range) error {
	shape := fileShape{Version: schemaVersion, Fences: Coalesce(fences)}
	buf, err := json.MarshalIndent(shape, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fence file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create fence dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".fence-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp fence file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp fence file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp fence file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp fence file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp fence file: %w", err)
	}
	return nil
}

// AddAndCoalesce adds r to fences and returns the sorted, coalesced result.
func AddAndCoalesce(fences []Range, r Range) []Range {
	return Coalesce(append(append([]Range(nil), fences...), r))
}

// Coalesce sorts fences by Earliest and merges any that overlap or are
// within contiguityWindow of each other, per §3/§8.
func Coalesce(fences []Range) []Range {
	if len(fences) == 0 {
		return nil
	}
	sorted := append([]Range(nil), fences...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Earliest.Before(sorted[j].Earliest) })

	out := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := out[len(out)-1]
		if last.contiguous(r) {
			out[len(out)-1] = last.merge(r)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Skip reports whether t is already covered by fences, per the
// orchestrator's skip predicate (§4.1 step 3).
func Skip(fences []Range, t time.Time) bool {
	for _, r := range fences {
		if r.Contains(t) {
			return true
		}
	}
	return false
}
