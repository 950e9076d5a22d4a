package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/chrispatten/haven-collector/internal/config"
	"github.com/chrispatten/haven-collector/internal/imaporder"
	"github.com/chrispatten/haven-collector/internal/imapsession"
	"github.com/chrispatten/haven-collector/internal/orchestrator"
)

// IMAPCursor is the per-folder high-water mark a caller persists between
// runs, feeding imaporder.Cache.
type IMAPCursor struct {
	LastProcessedUID imap.UID
	OldestCachedUID  imap.UID
}

// IMAPSource enumerates messages from one or more IMAP folders via a
// pooled connection, composing the IMAP Session (C9) and IMAP Ordering &
// Cache (C10) components.
type IMAPSource struct {
	Pool      *imapsession.Pool
	Collector string
	Folders   []string
	Since     time.Time
	Before    time.Time
	CursorFor func(folder string) IMAPCursor

	// OnFolderMerged, if set, is invoked synchronously with each folder's
	// post-Merge UID set before items are streamed, letting a caller persist
	// the new high-water mark (e.g. via a cursorstore.DB) without waiting
	// for the whole run to finish.
	OnFolderMerged func(folder string, merged []imap.UID)
}

// NewIMAPSource builds a source reading folders through pool for collector.
func NewIMAPSource(pool *imapsession.Pool, collector string, folders []string, cursorFor func(folder string) IMAPCursor) *IMAPSource {
	return &IMAPSource{Pool: pool, Collector: collector, Folders: folders, CursorFor: cursorFor}
}

// Enumerate searches each configured folder, merges the result with its
// cursor via imaporder.Merge, and yields one Item per uncached UID. Items
// fetch their raw body lazily through a freshly acquired pool connection,
// retried per imapsession.WithRetry's transient-error policy. It does not
// truncate by cfg.Limit itself: the orchestrator stops draining once
// cfg.Limit items have passed the filter engine, since limit counts
// post-filter matches, not raw candidates (§4.1 step 4).
func (s *IMAPSource) Enumerate(ctx context.Context, cfg config.RunConfig) (<-chan orchestrator.Item, error) {
	if cfg.DateRange.Empty() {
		ch := make(chan orchestrator.Item)
		close(ch)
		return ch, nil
	}

	conn, err := s.Pool.Acquire(ctx, s.Collector)
	if err != nil {
		return nil, fmt.Errorf("acquire imap connection: %w", err)
	}
	defer s.Pool.Release(conn)

	order := imaporder.Desc
	if cfg.Order == config.OrderAsc {
		order = imaporder.Asc
	}

	since, until := cfg.Window()
	if since.IsZero() {
		since = s.Since
	}
	if until.IsZero() {
		until = s.Before
	}

	type pending struct {
		folder string
		uid    imap.UID
	}
	var items []pending

	for _, folder := range s.Folders {
		var uids []imap.UID
		err := imapsession.WithRetry(ctx, 2, func() error {
			var searchErr error
			uids, searchErr = conn.Client().Search(ctx, folder, since, until)
			return searchErr
		})
		if err != nil {
			return nil, fmt.Errorf("search folder %s: %w", folder, err)
		}

		ascending := append([]imap.UID(nil), uids...)
		sort.Slice(ascending, func(i, j int) bool { return ascending[i] < ascending[j] })

		cursor := IMAPCursor{}
		if s.CursorFor != nil {
			cursor = s.CursorFor(folder)
		}
		merged := imaporder.Merge(ascending, imaporder.Cache{
			LastProcessedUID: cursor.LastProcessedUID,
			OldestCachedUID:  cursor.OldestCachedUID,
		}, order)

		if s.OnFolderMerged != nil {
			s.OnFolderMerged(folder, merged)
		}

		for _, uid := range merged {
			items = append(items, pending{folder: folder, uid: uid})
		}
	}

	pool := s.Pool
	collector := s.Collector

	ch := make(chan orchestrator.Item)
	go func() {
		defer close(ch)
		for _, p := range items {
			folder, uid := p.folder, p.uid
			item := orchestrator.Item{
				ExternalID: fmt.Sprintf("%s/%d", folder, uid),
				SourceType: "imap",
				Folder:     folder,
				Fetch: func(ctx context.Context) ([]byte, error) {
					fetchConn, err := pool.Acquire(ctx, collector)
					if err != nil {
						return nil, err
					}
					defer pool.Release(fetchConn)

					var raw []byte
					err = imapsession.WithRetry(ctx, 2, func() error {
						var fetchErr error
						raw, fetchErr = fetchConn.Client().FetchRFC822(ctx, folder, uid)
						return fetchErr
					})
					return raw, err
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
