package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chrispatten/haven-collector/internal/config"
	"github.com/chrispatten/haven-collector/internal/fence"
)

type sliceSource struct {
	items []Item
}

func (s sliceSource) Enumerate(ctx context.Context, cfg config.RunConfig) (<-chan Item, error) {
	ch := make(chan Item)
	go func() {
		defer close(ch)
		for _, it := range s.items {
			select {
			case ch <- it:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	return New(func(collector string) *fence.Store {
		return fence.NewStore(filepath.Join(dir, collector+".json"))
	})
}

func TestRunSubmitsAllItemsAndCommitsFence(t *testing.T) {
	o := testOrchestrator(t)
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	src := sliceSource{items: []Item{
		{ExternalID: "1", ContentTimestamp: base},
		{ExternalID: "2", ContentTimestamp: base.Add(time.Hour)},
		{ExternalID: "3", ContentTimestamp: base.Add(2 * time.Hour)},
	}}

	cfg := config.RunConfig{Mode: config.ModeSimulate, Limit: 10, Order: config.OrderDesc, Concurrency: 2}
	resp, err := o.Run(context.Background(), "test-collector", cfg, src, func(ctx context.Context, it Item) (Outcome, error) {
		return Outcome{Matched: true, Submitted: true}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != StatusOK {
		t.Fatalf("expected ok status, got %v", resp.Status)
	}
	if resp.Stats.Submitted != 3 || resp.Stats.Scanned != 3 {
		t.Fatalf("unexpected stats: %+v", resp.Stats)
	}

	state := o.State("test-collector")
	if state.Status != StatusOK {
		t.Fatalf("expected recorded state ok, got %v", state.Status)
	}
}

func TestRunRejectsConcurrentRunsForSameCollector(t *testing.T) {
	o := testOrchestrator(t)
	release := make(chan struct{})
	started := make(chan struct{})

	src := sliceSource{items: []Item{{ExternalID: "1", ContentTimestamp: time.Now()}}}
	cfg := config.RunConfig{Mode: config.ModeSimulate, Limit: 1, Order: config.OrderDesc, Concurrency: 1}

	go func() {
		o.Run(context.Background(), "busy-collector", cfg, src, func(ctx context.Context, it Item) (Outcome, error) {
			close(started)
			<-release
			return Outcome{Submitted: true}, nil
		})
	}()

	<-started
	_, err := o.Run(context.Background(), "busy-collector", cfg, src, func(ctx context.Context, it Item) (Outcome, error) {
		return Outcome{Submitted: true}, nil
	})
	close(release)

	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestRunDifferentCollectorsRunConcurrently(t *testing.T) {
	o := testOrchestrator(t)
	src := sliceSource{items: []Item{{ExternalID: "1", ContentTimestamp: time.Now()}}}
	cfg := config.RunConfig{Mode: config.ModeSimulate, Limit: 1, Order: config.OrderDesc, Concurrency: 1}

	done := make(chan error, 2)
	go func() {
		_, err := o.Run(context.Background(), "collector-a", cfg, src, func(ctx context.Context, it Item) (Outcome, error) {
			return Outcome{Submitted: true}, nil
		})
		done <- err
	}()
	go func() {
		_, err := o.Run(context.Background(), "collector-b", cfg, src, func(ctx context.Context, it Item) (Outcome, error) {
			return Outcome{Submitted: true}, nil
		})
		done <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestRunFatalErrorAbortsWithFailedStatus(t *testing.T) {
	o := testOrchestrator(t)
	src := sliceSource{items: []Item{
		{ExternalID: "1", ContentTimestamp: time.Now()},
		{ExternalID: "2", ContentTimestamp: time.Now()},
	}}
	cfg := config.RunConfig{Mode: config.ModeSimulate, Limit: 10, Order: config.OrderDesc, Concurrency: 1}

	resp, err := o.Run(context.Background(), "failing-collector", cfg, src, func(ctx context.Context, it Item) (Outcome, error) {
		return Outcome{}, errors.New("fatal filter build failure")
	})
	if err != nil {
		t.Fatalf("unexpected orchestration error: %v", err)
	}
	if resp.Status != StatusFailed {
		t.Fatalf("expected failed status, got %v", resp.Status)
	}
}

func TestRunSkipsItemsCoveredByFence(t *testing.T) {
	dir := t.TempDir()
	o := New(func(collector string) *fence.Store {
		return fence.NewStore(filepath.Join(dir, collector+".json"))
	})

	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	seeded := fence.NewStore(filepath.Join(dir, "fenced-collector.json"))
	if err := seeded.Save([]fence.Range{{Earliest: base, Latest: base.Add(time.Hour)}}); err != nil {
		t.Fatalf("seed fence: %v", err)
	}

	src := sliceSource{items: []Item{
		{ExternalID: "covered", ContentTimestamp: base.Add(30 * time.Minute)},
		{ExternalID: "new", ContentTimestamp: base.Add(2 * time.Hour)},
	}}
	cfg := config.RunConfig{Mode: config.ModeSimulate, Limit: 10, Order: config.OrderAsc, Concurrency: 2}

	var mu sync.Mutex
	var processed []string
	resp, err := o.Run(context.Background(), "fenced-collector", cfg, src, func(ctx context.Context, it Item) (Outcome, error) {
		mu.Lock()
		processed = append(processed, it.ExternalID)
		mu.Unlock()
		return Outcome{Matched: true, Submitted: true}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Stats.Skipped != 1 || resp.Stats.Submitted != 1 {
		t.Fatalf("unexpected stats: %+v", resp.Stats)
	}
	if len(processed) != 1 || processed[0] != "new" {
		t.Fatalf("expected only the fence-uncovered item to be processed, got %v", processed)
	}
}

func TestRunStopsEnumeratingAfterLimitMatches(t *testing.T) {
	o := testOrchestrator(t)
	now := time.Now()
	items := make([]Item, 20)
	for i := range items {
		items[i] = Item{ExternalID: fmt.Sprintf("item-%d", i), ContentTimestamp: now}
	}
	src := sliceSource{items: items}
	cfg := config.RunConfig{Mode: config.ModeSimulate, Limit: 3, Order: config.OrderDesc, Concurrency: 1}

	resp, err := o.Run(context.Background(), "limited-collector", cfg, src, func(ctx context.Context, it Item) (Outcome, error) {
		return Outcome{Matched: true, Submitted: true}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Stats.Matched < cfg.Limit {
		t.Fatalf("expected at least %d matched items, got %+v", cfg.Limit, resp.Stats)
	}
	if resp.Stats.Scanned >= len(items) {
		t.Fatalf("expected enumeration to stop before scanning all %d items, scanned %d", len(items), resp.Stats.Scanned)
	}
}

func TestRunPartialStatusOnItemErrors(t *testing.T) {
	o := testOrchestrator(t)
	src := sliceSource{items: []Item{
		{ExternalID: "1", ContentTimestamp: time.Now()},
	}}
	cfg := config.RunConfig{Mode: config.ModeSimulate, Limit: 10, Order: config.OrderDesc, Concurrency: 1}

	resp, err := o.Run(context.Background(), "partial-collector", cfg, src, func(ctx context.Context, it Item) (Outcome, error) {
		return Outcome{ItemError: &ItemError{ItemID: it.ExternalID, Reason: "parse error"}}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != StatusPartial {
		t.Fatalf("expected partial status, got %v", resp.Status)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("expected 1 item error, got %+v", resp.Errors)
	}
}
