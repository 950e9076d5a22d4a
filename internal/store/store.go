// Package store opens the on-device message-store SQLite database the
// MessageStoreSource walks, read-only (mode=ro, query_only) with a bounded
// connection pool and a busy_timeout. It sets no journal-mode PRAGMA.
package store

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

const (
	// MaxOpenConns limits concurrent database connections. SQLite with WAL
	// mode only supports one writer at a time; this store is read-only, so
	// a small ceiling just bounds file descriptor use.
	MaxOpenConns = 4
	// MaxIdleConns caps idle-connection memory.
	MaxIdleConns = 2
)

// DB wraps a read-only connection to an on-device SQLite message store.
type DB struct {
	*sql.DB
	path string
}

// Open opens the SQLite file at path in read-only mode. The on-device
// message store is owned by another process (the platform's own message
// store); this package never migrates or writes to it.
func Open(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("message store not found at %s: %w", path, err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)&_pragma=query_only(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}
	db.SetMaxOpenConns(MaxOpenConns)
	db.SetMaxIdleConns(MaxIdleConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping message store: %w", err)
	}

	return &DB{DB: db, path: path}, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.DB.Close()
}

// Path returns the on-disk path this DB was opened from.
func (d *DB) Path() string {
	return d.path
}
