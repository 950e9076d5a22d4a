// Package cursorstore persists IMAP Ordering & Cache (C10) high-water
// marks across runs: connection pooling, a busy_timeout DSN, a migration
// table, and a periodic WAL checkpoint routine, narrowed to the one
// table this engine actually owns and writes.
package cursorstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-imap/v2"
	_ "modernc.org/sqlite"

	"github.com/chrispatten/haven-collector/internal/logging"
)

const (
	// MaxOpenConns limits concurrent database connections. SQLite with WAL
	// mode only supports one writer at a time.
	MaxOpenConns = 4
	// MaxIdleConns caps idle-connection memory.
	MaxIdleConns = 2
	// CheckpointInterval is how often StartCheckpointRoutine merges the WAL
	// back into the main database file.
	CheckpointInterval = 5 * time.Minute
)

const schema = `
CREATE TABLE IF NOT EXISTS imap_cursors (
	collector          TEXT NOT NULL,
	folder             TEXT NOT NULL,
	last_processed_uid INTEGER NOT NULL DEFAULT 0,
	oldest_cached_uid  INTEGER NOT NULL DEFAULT 0,
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collector, folder)
)`

// DB owns the collector's IMAP cursor table, one row per (collector, folder).
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the cursor database at path, owned by this engine.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cursorstore directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cursorstore: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping cursorstore: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("chmod cursorstore: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate cursorstore: %w", err)
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.DB.Close()
}

// Path returns the on-disk path this DB was opened from.
func (d *DB) Path() string {
	return d.path
}

// Checkpoint runs a WAL checkpoint to merge the write-ahead log back into
// the main database file, using PASSIVE mode so it never blocks writers.
func (d *DB) Checkpoint() error {
	if _, err := d.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("checkpoint cursorstore WAL: %w", err)
	}
	return nil
}

// StartCheckpointRoutine runs Checkpoint on CheckpointInterval until ctx is
// cancelled. Callers start this once at process startup.
func (d *DB) StartCheckpointRoutine(ctx context.Context) {
	log := logging.WithComponent("cursorstore")

	ticker := time.NewTicker(CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.Checkpoint(); err != nil {
				log.Error().Err(err).Msg("periodic WAL checkpoint failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Cursor is the persisted high-water mark for one (collector, folder) pair.
type Cursor struct {
	LastProcessedUID imap.UID
	OldestCachedUID  imap.UID
}

// Get returns the persisted cursor for collector/folder, or the zero Cursor
// if none has been recorded yet.
func (d *DB) Get(ctx context.Context, collector, folder string) (Cursor, error) {
	var last, oldest uint32
	err := d.QueryRowContext(ctx,
		`SELECT last_processed_uid, oldest_cached_uid FROM imap_cursors WHERE collector = ? AND folder = ?`,
		collector, folder,
	).Scan(&last, &oldest)
	if err == sql.ErrNoRows {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("get cursor for %s/%s: %w", collector, folder, err)
	}
	return Cursor{LastProcessedUID: imap.UID(last), OldestCachedUID: imap.UID(oldest)}, nil
}

// Set upserts the cursor for collector/folder.
func (d *DB) Set(ctx context.Context, collector, folder string, cur Cursor) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO imap_cursors (collector, folder, last_processed_uid, oldest_cached_uid, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (collector, folder) DO UPDATE SET
			last_processed_uid = excluded.last_processed_uid,
			oldest_cached_uid = excluded.oldest_cached_uid,
			updated_at = excluded.updated_at
	`, collector, folder, uint32(cur.LastProcessedUID), uint32(cur.OldestCachedUID))
	if err != nil {
		return fmt.Errorf("set cursor for %s/%s: %w", collector, folder, err)
	}
	return nil
}

// Advance folds merged (the UIDs a run is about to process, in whatever
// order imaporder.Merge returned them) into the persisted cursor: the
// high-water mark only ever moves forward, and the oldest-cached mark only
// ever moves backward, so a partially-failed run never loses ground on
// either boundary.
func (d *DB) Advance(ctx context.Context, collector, folder string, merged []imap.UID) error {
	if len(merged) == 0 {
		return nil
	}
	lo, hi := merged[0], merged[0]
	for _, uid := range merged[1:] {
		if uid < lo {
			lo = uid
		}
		if uid > hi {
			hi = uid
		}
	}

	cur, err := d.Get(ctx, collector, folder)
	if err != nil {
		return err
	}
	if hi > cur.LastProcessedUID {
		cur.LastProcessedUID = hi
	}
	if cur.OldestCachedUID == 0 || lo < cur.OldestCachedUID {
		cur.OldestCachedUID = lo
	}
	return d.Set(ctx, collector, folder, cur)
}
