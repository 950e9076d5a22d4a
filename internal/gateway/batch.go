package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/chrispatten/haven-collector/internal/enrich"
	"github.com/chrispatten/haven-collector/internal/logging"
)

const (
	// DefaultBatchSize is the batch submitter's target group size, per §4.10.
	DefaultBatchSize = 16
	// DefaultFlushInterval bounds how long a partial batch waits for more
	// items before it is submitted anyway.
	DefaultFlushInterval = 250 * time.Millisecond
)

type pendingSubmission struct {
	payload  enrich.Payload
	key      string
	resultCh chan submitResult
}

type submitResult struct {
	submission *Submission
	err        error
}

// BatchSubmitter collects concurrent per-item submissions from many
// ProcessItem calls and drains them through Client.SubmitBatch in groups of
// BatchSize, falling back to Client.SubmitDocument per item when the batch
// endpoint reports itself unavailable (404/405), per §4.10.
type BatchSubmitter struct {
	Client        *Client
	BatchSize     int
	FlushInterval time.Duration

	queue   chan pendingSubmission
	batches int64

	startOnce sync.Once
	log       zerolog.Logger
}

// NewBatchSubmitter builds a BatchSubmitter over client with the default
// batch size and flush interval.
func NewBatchSubmitter(client *Client) *BatchSubmitter {
	return &BatchSubmitter{
		Client:        client,
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
		queue:         make(chan pendingSubmission, DefaultBatchSize*2),
		log:           logging.WithComponent("gateway-batch"),
	}
}

// Start launches the drain loop exactly once; it runs until ctx is
// cancelled. Call it before the first Submit, or Submit blocks forever.
func (b *BatchSubmitter) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.run(ctx)
	})
}

// BatchesSubmitted returns the cumulative count of real (non-fallback)
// batch submissions made so far. Callers diff two readings to get a
// per-run count, since the submitter's queue and drain loop outlive any
// single orchestrator run.
func (b *BatchSubmitter) BatchesSubmitted() int64 {
	return atomic.LoadInt64(&b.batches)
}

// Submit enqueues one document and blocks until the batch (or per-item
// fallback) it ends up in has been submitted.
func (b *BatchSubmitter) Submit(ctx context.Context, payload enrich.Payload, idempotencyKey string) (*Submission, error) {
	p := pendingSubmission{payload: payload, key: idempotencyKey, resultCh: make(chan submitResult, 1)}
	select {
	case b.queue <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-p.resultCh:
		return res.submission, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *BatchSubmitter) run(ctx context.Context) {
	batch := make([]pendingSubmission, 0, b.BatchSize)
	timer := time.NewTimer(b.FlushInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.flush(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case p := <-b.queue:
			batch = append(batch, p)
			if len(batch) >= b.BatchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(b.FlushInterval)
			}
		case <-timer.C:
			flush()
			timer.Reset(b.FlushInterval)
		case <-ctx.Done():
			flush()
			return
		}
	}
}

// flush submits one group through SubmitBatch, falling back to
// per-item SubmitDocument when the batch endpoint is unavailable, per
// §4.10's batch/single equivalence.
func (b *BatchSubmitter) flush(ctx context.Context, batch []pendingSubmission) {
	payloads := make([]enrich.Payload, len(batch))
	for i, p := range batch {
		payloads[i] = p.payload
	}

	results, err := b.Client.SubmitBatch(ctx, payloads)
	if err != nil {
		for _, p := range batch {
			p.resultCh <- submitResult{err: err}
		}
		return
	}
	if results == nil {
		b.log.Debug().Int("count", len(batch)).Msg("batch endpoint unavailable, submitting items individually")
		for _, p := range batch {
			sub, subErr := b.Client.SubmitDocument(ctx, p.payload, p.key)
			p.resultCh <- submitResult{submission: sub, err: subErr}
		}
		return
	}

	atomic.AddInt64(&b.batches, 1)
	for i, p := range batch {
		r := results[i]
		if r.Submission != nil {
			p.resultCh <- submitResult{submission: r.Submission}
			continue
		}
		p.resultCh <- submitResult{err: batchItemError(r)}
	}
}

func batchItemError(r BatchItemResult) error {
	if r.Error != "" {
		return fmt.Errorf("batch item failed (status %d): %s", r.StatusCode, r.Error)
	}
	return fmt.Errorf("batch item failed with status %d", r.StatusCode)
}
