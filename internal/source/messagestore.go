package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chrispatten/haven-collector/internal/config"
	"github.com/chrispatten/haven-collector/internal/orchestrator"
	"github.com/chrispatten/haven-collector/internal/store"
)

// MessageStoreSource enumerates rows from an on-device message store
// (e.g. an iMessage-style chat.db), honoring the ingest_only contract: it
// reads rows, it never writes to the store.
//
// Table/column names are configurable because the on-device schema is an
// external contract this engine does not own; defaults match a
// minimal generic shape {id, timestamp, body}.
type MessageStoreSource struct {
	DB          *store.DB
	Table       string
	IDColumn    string
	TimeColumn  string
	BodyColumn  string
}

// NewMessageStoreSource opens path and returns a source reading table's
// default columns (id, timestamp, body) unless overridden on the struct.
func NewMessageStoreSource(path string) (*MessageStoreSource, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return &MessageStoreSource{
		DB:         db,
		Table:      "message",
		IDColumn:   "id",
		TimeColumn: "timestamp",
		BodyColumn: "body",
	}, nil
}

// Enumerate queries the store ordered by the configured time column,
// bounded by cfg's date window (§4.1 step 1/4).
func (s *MessageStoreSource) Enumerate(ctx context.Context, cfg config.RunConfig) (<-chan orchestrator.Item, error) {
	if cfg.DateRange.Empty() {
		ch := make(chan orchestrator.Item)
		close(ch)
		return ch, nil
	}

	direction := "DESC"
	if cfg.Order == config.OrderAsc {
		direction = "ASC"
	}

	// cfg.Limit counts post-filter matches and is enforced by the
	// orchestrator; MaxLimit only bounds the raw rows read in one run.
	limit := config.MaxLimit

	since, until := cfg.Window()
	var whereClauses []string
	var args []any
	if !since.IsZero() {
		whereClauses = append(whereClauses, fmt.Sprintf("%s >= ?", s.TimeColumn))
		args = append(args, since.Unix())
	}
	if !until.IsZero() {
		whereClauses = append(whereClauses, fmt.Sprintf("%s <= ?", s.TimeColumn))
		args = append(args, until.Unix())
	}
	where := ""
	if len(whereClauses) > 0 {
		where = "WHERE " + strings.Join(whereClauses, " AND ")
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		"SELECT %s, %s, %s FROM %s %s ORDER BY %s %s LIMIT ?",
		s.IDColumn, s.TimeColumn, s.BodyColumn, s.Table, where, s.TimeColumn, direction,
	)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query message store: %w", err)
	}

	type row struct {
		id   string
		ts   time.Time
		body string
	}
	var collected []row
	for rows.Next() {
		var (
			id       string
			tsUnix   int64
			body     string
		)
		if err := rows.Scan(&id, &tsUnix, &body); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message store row: %w", err)
		}
		collected = append(collected, row{id: id, ts: time.Unix(tsUnix, 0).UTC(), body: body})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate message store rows: %w", err)
	}
	rows.Close()

	ch := make(chan orchestrator.Item)
	go func() {
		defer close(ch)
		for _, r := range collected {
			row := r
			item := orchestrator.Item{
				ExternalID:       row.id,
				SourceType:       "message_store",
				ContentTimestamp: row.ts,
				Fetch: func(ctx context.Context) ([]byte, error) {
					return []byte(row.body), nil
				},
			}
			select {
			case ch <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
