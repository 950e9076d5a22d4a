package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chrispatten/haven-collector/internal/config"
	"github.com/chrispatten/haven-collector/internal/orchestrator"
)

// FileArchiveSource walks a local email archive directory (a macOS-like
// on-disk message cache: one .eml file per message, nested under
// folder-name directories) and enumerates one Item per file.
type FileArchiveSource struct {
	RootDir string
}

// NewFileArchiveSource builds a FileArchiveSource rooted at dir.
func NewFileArchiveSource(dir string) *FileArchiveSource {
	return &FileArchiveSource{RootDir: dir}
}

type archiveEntry struct {
	path   string
	folder string
	modAt  int64
}

// Enumerate walks RootDir for *.eml files within cfg's date window,
// yielding items ordered by modification time per cfg.Order. It does not
// truncate by cfg.Limit itself: the orchestrator stops draining once
// cfg.Limit items have passed the filter engine, since limit counts
// post-filter matches, not raw candidates (§4.1 step 4).
func (s *FileArchiveSource) Enumerate(ctx context.Context, cfg config.RunConfig) (<-chan orchestrator.Item, error) {
	if cfg.DateRange.Empty() {
		ch := make(chan orchestrator.Item)
		close(ch)
		return ch, nil
	}
	since, until := cfg.Window()

	var entries []archiveEntry
	err := filepath.WalkDir(s.RootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".eml") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		modAt := info.ModTime()
		if !since.IsZero() && modAt.Before(since) {
			return nil
		}
		if !until.IsZero() && modAt.After(until) {
			return nil
		}
		rel, _ := filepath.Rel(s.RootDir, filepath.Dir(path))
		entries = append(entries, archiveEntry{path: path, folder: rel, modAt: modAt.UnixNano()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk archive root %s: %w", s.RootDir, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if cfg.Order == config.OrderAsc {
			return entries[i].modAt < entries[j].modAt
		}
		return entries[i].modAt > entries[j].modAt
	})

	ch := make(chan orchestrator.Item)
	go func() {
		defer close(ch)
		for _, e := range entries {
			entry := e
			item := orchestrator.Item{
				ExternalID:       entry.path,
				SourceType:       "mail_archive",
				Folder:           entry.folder,
				ContentTimestamp: time.Unix(0, entry.modAt).UTC(),
				Fetch: func(ctx context.Context) ([]byte, error) {
					return os.ReadFile(entry.path)
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
