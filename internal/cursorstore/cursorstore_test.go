package cursorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/emersion/go-imap/v2"
)

func TestGetReturnsZeroCursorWhenAbsent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	cur, err := db.Get(context.Background(), "acme", "INBOX")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.LastProcessedUID != 0 || cur.OldestCachedUID != 0 {
		t.Fatalf("expected zero cursor, got %+v", cur)
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	want := Cursor{LastProcessedUID: 42, OldestCachedUID: 10}
	if err := db.Set(ctx, "acme", "INBOX", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := db.Get(ctx, "acme", "INBOX")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSetUpsertsExistingRow(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Set(ctx, "acme", "INBOX", Cursor{LastProcessedUID: 5, OldestCachedUID: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Set(ctx, "acme", "INBOX", Cursor{LastProcessedUID: 99, OldestCachedUID: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := db.Get(ctx, "acme", "INBOX")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastProcessedUID != 99 {
		t.Fatalf("expected upserted last_processed_uid 99, got %d", got.LastProcessedUID)
	}
}

func TestCursorsAreIsolatedPerCollectorAndFolder(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Set(ctx, "acme", "INBOX", Cursor{LastProcessedUID: 10}); err != nil {
		t.Fatalf("Set acme/INBOX: %v", err)
	}
	if err := db.Set(ctx, "acme", "Archive", Cursor{LastProcessedUID: 20}); err != nil {
		t.Fatalf("Set acme/Archive: %v", err)
	}
	if err := db.Set(ctx, "other", "INBOX", Cursor{LastProcessedUID: 30}); err != nil {
		t.Fatalf("Set other/INBOX: %v", err)
	}

	inbox, _ := db.Get(ctx, "acme", "INBOX")
	archive, _ := db.Get(ctx, "acme", "Archive")
	other, _ := db.Get(ctx, "other", "INBOX")

	if inbox.LastProcessedUID != 10 || archive.LastProcessedUID != 20 || other.LastProcessedUID != 30 {
		t.Fatalf("cursors bled across keys: %+v %+v %+v", inbox, archive, other)
	}
}

func TestAdvanceMovesHighWaterMarkForwardOnly(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Advance(ctx, "acme", "INBOX", []imap.UID{5, 10, 7}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	cur, _ := db.Get(ctx, "acme", "INBOX")
	if cur.LastProcessedUID != 10 || cur.OldestCachedUID != 5 {
		t.Fatalf("unexpected cursor after first advance: %+v", cur)
	}

	// A later, smaller batch must not regress the high-water mark, but can
	// still widen the oldest-cached boundary.
	if err := db.Advance(ctx, "acme", "INBOX", []imap.UID{2, 3}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	cur, _ = db.Get(ctx, "acme", "INBOX")
	if cur.LastProcessedUID != 10 {
		t.Fatalf("expected last_processed_uid to stay at 10, got %d", cur.LastProcessedUID)
	}
	if cur.OldestCachedUID != 2 {
		t.Fatalf("expected oldest_cached_uid to widen to 2, got %d", cur.OldestCachedUID)
	}
}

func TestAdvanceWithEmptySliceIsNoop(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Advance(ctx, "acme", "INBOX", nil); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	cur, _ := db.Get(ctx, "acme", "INBOX")
	if cur != (Cursor{}) {
		t.Fatalf("expected no row created, got %+v", cur)
	}
}
