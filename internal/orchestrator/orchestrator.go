// Package orchestrator implements the Run Orchestrator (C13): a
// per-collector state machine governing exactly one in-flight run,
// bounded-concurrency item processing, and fence commit from the min/max
// content timestamp of successfully submitted items. Its single-run lock
// uses a "running map[string]bool + mutex" pattern generalized from
// per-account scheduling to per-collector, and from a ticking background
// scheduler to an on-demand run.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
	"github.com/chrispatten/haven-collector/internal/config"
	"github.com/chrispatten/haven-collector/internal/fence"
	"github.com/chrispatten/haven-collector/internal/logging"
)

// Status is the terminal (or current) state of one run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusOK        Status = "ok"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Stats accumulates per-run counters, updated under lock as items complete.
type Stats struct {
	Scanned   int `json:"scanned"`
	Matched   int `json:"matched"`
	Submitted int `json:"submitted"`
	Skipped   int `json:"skipped"`
	Batches   int `json:"batches"`
}

// ItemError is one entry of a RunResponse's errors[], per §7's
// "{item_id?, reason}" minimum shape.
type ItemError struct {
	ItemID string `json:"itemId,omitempty"`
	Reason string `json:"reason"`
}

// RunResponse is the envelope returned from a run, per §6.
type RunResponse struct {
	Collector  string      `json:"collector"`
	RunID      string      `json:"runId"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	Status     Status      `json:"status"`
	Stats      Stats       `json:"stats"`
	Warnings   []string    `json:"warnings,omitempty"`
	Errors     []ItemError `json:"errors,omitempty"`
}

// RunState is the last-known state for a collector, persisted and
// returned by GET /v1/collectors/{collector}/state without triggering a run.
type RunState struct {
	Collector string       `json:"collector"`
	Status    Status       `json:"status"`
	LastRun   *RunResponse `json:"lastRun,omitempty"`
}

// Item is one enumerated unit of work; ContentTimestamp drives fence
// computation and must reflect the source's best timestamp for the item
// regardless of processing order. SourceType/Folder/Fetch let a ProcessFunc
// retrieve the raw payload lazily, since enumeration (cheap, metadata-only)
// and fetch (expensive, full body) are separate steps for every source
// this engine supports (IMAP search vs. fetch; archive stat vs. read).
type Item struct {
	ExternalID       string
	SourceType       string
	Folder           string
	ContentTimestamp time.Time
	Fetch            func(ctx context.Context) ([]byte, error)
}

// Outcome is what a single item's processing produced, per §7's item-level
// error kinds: matched-and-submitted, filtered-out, duplicate, warning, or
// a non-fatal item error. ProcessFunc returns (Outcome, nil) for anything
// that should not abort the run, and (Outcome{}, err) only for a fatal
// error per §7 kind 6.
type Outcome struct {
	Matched   bool
	Submitted bool
	Duplicate bool
	Skipped   bool
	Warning   string
	ItemError *ItemError

	// ContentTimestamp overrides the enumerated Item's timestamp for fence
	// computation when the authoritative timestamp is only known after
	// parsing (e.g. a file archive's mtime vs. the message's Date header).
	// Zero means "use the Item's ContentTimestamp".
	ContentTimestamp time.Time
}

// ProcessFunc performs filtering, enrichment, and gateway submission for
// one item. It must itself honor ctx cancellation for in-flight HTTP calls.
// Composition of the filter (C2), enrichment pipeline (C4-C8), and Gateway
// client (C11) into this function is the caller's responsibility; the
// orchestrator only schedules and aggregates.
type ProcessFunc func(ctx context.Context, item Item) (Outcome, error)

// Source enumerates items for a run, honoring cfg.Order and
// cfg.DateRange/TimeWindowDays. cfg.Limit is not applied by the source: it
// counts post-filter matches, and Run stops draining the channel once
// enough items have matched. Enumeration order is determined at the
// source per §5; the orchestrator itself processes items out of order.
type Source interface {
	Enumerate(ctx context.Context, cfg config.RunConfig) (<-chan Item, error)
}

// batchQueueFactor bounds the batch queue at 2x concurrency, per §5's
// suggested backpressure sizing.
const batchQueueFactor = 2

// FenceStoreFor resolves the fence.Store backing a given collector. Each
// collector persists to its own file, so the orchestrator holds a factory
// rather than a single shared Store.
type FenceStoreFor func(collector string) *fence.Store

// Orchestrator owns the single-run-per-collector lock and dispatches to
// each collector's fence store.
type Orchestrator struct {
	fenceStoreFor FenceStoreFor

	mu      sync.Mutex
	running map[string]bool
	states  map[string]*RunState

	log zerolog.Logger
}

// New builds an Orchestrator resolving fence stores via fenceStoreFor.
func New(fenceStoreFor FenceStoreFor) *Orchestrator {
	return &Orchestrator{
		fenceStoreFor: fenceStoreFor,
		running:       make(map[string]bool),
		states:        make(map[string]*RunState),
		log:           logging.WithComponent("orchestrator"),
	}
}

// State returns the last-known RunState for a collector without side
// effects, per GET /v1/collectors/{collector}/state.
func (o *Orchestrator) State(collector string) RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[collector]; ok {
		return *s
	}
	return RunState{Collector: collector, Status: StatusIdle}
}

// acquire claims the single-run slot for collector, returning false if a
// run is already in progress (§6's 409 "run in progress").
func (o *Orchestrator) acquire(collector string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[collector] {
		return false
	}
	o.running[collector] = true
	return true
}

func (o *Orchestrator) release(collector string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, collector)
}

// ErrRunInProgress is returned by Run when the collector already has an
// in-flight run; callers map this to HTTP 409.
var ErrRunInProgress = collectorerr.StateConflict(409, "run already in progress for this collector")

// Run executes one run for collector: it enumerates items from source,
// processes them on a bounded worker pool, aggregates stats, commits a new
// fence from successfully submitted items' timestamps, and builds the
// RunResponse envelope.
func (o *Orchestrator) Run(ctx context.Context, collector string, cfg config.RunConfig, source Source, process ProcessFunc) (*RunResponse, error) {
	if !o.acquire(collector) {
		return nil, ErrRunInProgress
	}
	defer o.release(collector)

	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	resp := &RunResponse{Collector: collector, RunID: runID, StartedAt: startedAt}

	fences, err := o.fenceStoreFor(collector).Load()
	if err != nil {
		resp.FinishedAt = time.Now().UTC()
		resp.Status = StatusFailed
		resp.Errors = append(resp.Errors, ItemError{Reason: fmt.Sprintf("fence load failed: %v", err)})
		o.recordState(collector, resp)
		return resp, nil
	}

	concurrency := cfg.Concurrency
	if concurrency < config.MinConcurrency {
		concurrency = config.MinConcurrency
	}

	var (
		statsMu      sync.Mutex
		stats        Stats
		warnings     []string
		errs         []ItemError
		minTS, maxTS time.Time
		anySubmitted bool
		anyItemError bool
	)

	sem := semaphore.NewWeighted(int64(concurrency))
	batchGate := semaphore.NewWeighted(int64(concurrency * batchQueueFactor))

	var wg sync.WaitGroup
	var fatalErr error
	var fatalOnce sync.Once
	var limitOnce sync.Once

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	items, err := source.Enumerate(runCtx, cfg)
	if err != nil {
		resp.FinishedAt = time.Now().UTC()
		resp.Status = StatusFailed
		resp.Errors = append(resp.Errors, ItemError{Reason: fmt.Sprintf("source enumeration failed: %v", err)})
		o.recordState(collector, resp)
		return resp, nil
	}

loop:
	for item := range items {
		select {
		case <-runCtx.Done():
			break loop
		default:
		}

		statsMu.Lock()
		stats.Scanned++
		statsMu.Unlock()

		// The skip predicate from §4.1 step 3: content already covered by a
		// committed fence is never reprocessed. Only applies when the
		// source knows the content timestamp at enumeration time (file
		// archive, message store); IMAP's timestamp is only known after
		// fetch/parse and relies on its own UID cursor (C10) instead.
		if !item.ContentTimestamp.IsZero() && fence.Skip(fences, item.ContentTimestamp) {
			statsMu.Lock()
			stats.Skipped++
			statsMu.Unlock()
			continue
		}

		if err := batchGate.Acquire(runCtx, 1); err != nil {
			break loop
		}
		if err := sem.Acquire(runCtx, 1); err != nil {
			batchGate.Release(1)
			break loop
		}

		wg.Add(1)
		go func(it Item) {
			defer wg.Done()
			defer sem.Release(1)
			defer batchGate.Release(1)

			outcome, err := process(runCtx, it)
			if err != nil {
				fatalOnce.Do(func() {
					fatalErr = err
					cancelRun()
				})
				return
			}

			statsMu.Lock()
			if outcome.Matched {
				stats.Matched++
			}
			if outcome.Skipped {
				stats.Skipped++
			}
			if outcome.Warning != "" {
				warnings = append(warnings, outcome.Warning)
			}
			if outcome.ItemError != nil {
				errs = append(errs, *outcome.ItemError)
				anyItemError = true
			}
			if outcome.Submitted || outcome.Duplicate {
				stats.Submitted++
				anySubmitted = true
				ts := outcome.ContentTimestamp
				if ts.IsZero() {
					ts = it.ContentTimestamp
				}
				if minTS.IsZero() || ts.Before(minTS) {
					minTS = ts
				}
				if maxTS.IsZero() || ts.After(maxTS) {
					maxTS = ts
				}
			}
			matchedSoFar := stats.Matched
			statsMu.Unlock()

			// limit (§4.1 step 4) counts items that pass the filter engine
			// and the skip predicate, not raw enumerated candidates: stop
			// pulling further items once enough have matched.
			if cfg.Limit > 0 && matchedSoFar >= cfg.Limit {
				limitOnce.Do(cancelRun)
			}
		}(item)
	}

	wg.Wait()

	resp.FinishedAt = time.Now().UTC()
	resp.Stats = stats
	resp.Warnings = warnings
	resp.Errors = errs

	if fatalErr != nil {
		resp.Status = StatusFailed
		resp.Errors = append(resp.Errors, ItemError{Reason: fatalErr.Error()})
		o.recordState(collector, resp)
		return resp, nil
	}

	if anySubmitted {
		if commitErr := o.commitFence(collector, minTS, maxTS); commitErr != nil {
			o.log.Error().Err(commitErr).Str("collector", collector).Msg("fence commit failed")
			resp.Errors = append(resp.Errors, ItemError{Reason: fmt.Sprintf("fence commit failed: %v", commitErr)})
			resp.Status = StatusPartial
			o.recordState(collector, resp)
			return resp, nil
		}
	}

	switch {
	case ctx.Err() != nil && anySubmitted:
		resp.Status = StatusPartial
	case ctx.Err() != nil:
		resp.Status = StatusPartial
	case anyItemError && anySubmitted:
		resp.Status = StatusPartial
	case anyItemError && !anySubmitted:
		resp.Status = StatusPartial
	default:
		resp.Status = StatusOK
	}

	o.recordState(collector, resp)
	return resp, nil
}

func (o *Orchestrator) commitFence(collector string, earliest, latest time.Time) error {
	if earliest.IsZero() || latest.IsZero() {
		return nil
	}
	store := o.fenceStoreFor(collector)
	ranges, err := store.Load()
	if err != nil {
		return err
	}
	ranges = fence.AddAndCoalesce(ranges, fence.Range{Earliest: earliest, Latest: latest})
	return store.Save(ranges)
}

func (o *Orchestrator) recordState(collector string, resp *RunResponse) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[collector] = &RunState{Collector: collector, Status: resp.Status, LastRun: resp}
}
