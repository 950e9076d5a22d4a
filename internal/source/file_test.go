package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chrispatten/haven-collector/internal/config"
)

func TestFileArchiveSourceBoundsByDateRange(t *testing.T) {
	dir := t.TempDir()
	writeEml := func(name string, mod time.Time) {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("Subject: x\r\n\r\nbody"), 0600); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	writeEml("old.eml", base.Add(-48*time.Hour))
	writeEml("in-range.eml", base)

	src := NewFileArchiveSource(dir)
	cfg := config.RunConfig{
		Mode:      config.ModeSimulate,
		Limit:     10,
		Order:     config.OrderAsc,
		DateRange: &config.DateRange{Since: base.Add(-time.Hour), Until: base.Add(time.Hour)},
	}

	ch, err := src.Enumerate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	var ids []string
	for item := range ch {
		ids = append(ids, item.ExternalID)
	}
	if len(ids) != 1 || filepath.Base(ids[0]) != "in-range.eml" {
		t.Fatalf("expected only in-range.eml, got %v", ids)
	}
}

func TestFileArchiveSourceEmptyRangeYieldsNoItems(t *testing.T) {
	dir := t.TempDir()
	src := NewFileArchiveSource(dir)
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.RunConfig{
		Mode:      config.ModeSimulate,
		Limit:     10,
		Order:     config.OrderAsc,
		DateRange: &config.DateRange{Since: base, Until: base.Add(-time.Hour)},
	}

	ch, err := src.Enumerate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	count := 0
	for range ch {
		count++
	}
	if count != 0 {
		t.Fatalf("expected no items for an empty date range, got %d", count)
	}
}
