package source

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/chrispatten/haven-collector/internal/config"
	"github.com/chrispatten/haven-collector/internal/logging"
	"github.com/chrispatten/haven-collector/internal/orchestrator"
)

// FSWatchSource watches a directory for .eml files created or written
// during the run. Only RootDir itself is watched, not its subdirectories.
type FSWatchSource struct {
	RootDir string
	// WindowDuration bounds how long Enumerate waits for new events before
	// closing the channel; a run is not open-ended.
	WindowDuration time.Duration
	log            zerolog.Logger
}

// NewFSWatchSource builds a watch source over dir with the given window.
func NewFSWatchSource(dir string, window time.Duration) *FSWatchSource {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &FSWatchSource{RootDir: dir, WindowDuration: window, log: logging.WithComponent("fswatch-source")}
}

// Enumerate watches RootDir and yields one Item per Create or Write event
// on a .eml file observed within WindowDuration, so a file written several
// times yields several items.
func (s *FSWatchSource) Enumerate(ctx context.Context, cfg config.RunConfig) (<-chan orchestrator.Item, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.RootDir); err != nil {
		watcher.Close()
		return nil, err
	}

	ch := make(chan orchestrator.Item)
	go func() {
		defer close(ch)
		defer watcher.Close()

		timer := time.NewTimer(s.WindowDuration)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if !strings.HasSuffix(strings.ToLower(event.Name), ".eml") {
					continue
				}
				path := event.Name
				item := orchestrator.Item{
					ExternalID: path,
					SourceType: "fswatch",
					Fetch: func(ctx context.Context) ([]byte, error) {
						return os.ReadFile(path)
					},
				}
				select {
				case ch <- item:
				case <-ctx.Done():
					return
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn().Err(watchErr).Msg("fswatch error")
			}
		}
	}()
	return ch, nil
}
