package fence

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCoalesceBasic(t *testing.T) {
	a := Range{Earliest: mustTime("2026-01-01T00:00:00Z"), Latest: mustTime("2026-01-01T00:00:10Z")}
	b := Range{Earliest: mustTime("2026-01-01T00:00:10Z"), Latest: mustTime("2026-01-01T00:00:20Z")}
	c := Range{Earliest: mustTime("2026-01-02T00:00:00Z"), Latest: mustTime("2026-01-02T01:00:00Z")}

	got := Coalesce([]Range{c, b, a})
	if len(got) != 2 {
		t.Fatalf("expected 2 coalesced ranges, got %d: %+v", len(got), got)
	}
	if !got[0].Earliest.Equal(a.Earliest) || !got[0].Latest.Equal(b.Latest) {
		t.Fatalf("expected first range to span a..b, got %+v", got[0])
	}
}

func TestCoalesceWithinContiguityWindowMerges(t *testing.T) {
	a := Range{Earliest: mustTime("2026-01-01T00:00:00Z"), Latest: mustTime("2026-01-01T00:00:10Z")}
	b := Range{Earliest: mustTime("2026-01-01T00:00:10.500Z"), Latest: mustTime("2026-01-01T00:00:20Z")}

	got := Coalesce([]Range{a, b})
	if len(got) != 1 {
		t.Fatalf("expected ranges within 1s to merge into one, got %d: %+v", len(got), got)
	}
}

func TestCoalesceBeyondContiguityWindowStaysSeparate(t *testing.T) {
	a := Range{Earliest: mustTime("2026-01-01T00:00:00Z"), Latest: mustTime("2026-01-01T00:00:10Z")}
	b := Range{Earliest: mustTime("2026-01-01T00:00:13Z"), Latest: mustTime("2026-01-01T00:00:20Z")}

	got := Coalesce([]Range{a, b})
	if len(got) != 2 {
		t.Fatalf("expected ranges > 1s apart to stay separate, got %d: %+v", len(got), got)
	}
}

func TestSkipRespectsEpsilon(t *testing.T) {
	fences := []Range{{Earliest: mustTime("2026-01-01T00:00:00Z"), Latest: mustTime("2026-01-01T00:00:10Z")}}
	if !Skip(fences, mustTime("2026-01-01T00:00:05Z")) {
		t.Fatalf("expected timestamp inside fence to be skipped")
	}
	if Skip(fences, mustTime("2026-01-01T00:01:00Z")) {
		t.Fatalf("expected timestamp outside fence to not be skipped")
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "sub", "fences.json"))

	want := []Range{
		{Earliest: mustTime("2026-01-01T00:00:00Z"), Latest: mustTime("2026-01-01T00:00:10Z")},
		{Earliest: mustTime("2026-01-02T00:00:00Z"), Latest: mustTime("2026-01-02T01:00:00Z")},
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d ranges, got %d", len(want), len(got))
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope.json"))
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil fences for missing file, got %+v", got)
	}
}

func TestLoadLegacyIDFormatResetsToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fences.json")
	s := NewStore(path)

	legacy := []byte(`{"ids": ["a", "b", "c"]}`)
	if err := writeFile(path, legacy); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected legacy format to reset to empty, got %+v", got)
	}
}
