package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chrispatten/haven-collector/internal/enrich"
)

func newBatchTestServer(t *testing.T, batchUnavailable bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":batch") {
			if batchUnavailable {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var req batchRequest
			json.NewDecoder(r.Body).Decode(&req)
			results := make([]BatchItemResult, len(req.Documents))
			for i := range req.Documents {
				results[i] = BatchItemResult{Index: i, StatusCode: 200, Submission: &Submission{SubmissionID: "sub-batch"}}
			}
			json.NewEncoder(w).Encode(batchResponse{SuccessCount: len(req.Documents), Results: results})
			return
		}
		json.NewEncoder(w).Encode(Submission{SubmissionID: "sub-single"})
	}))
}

func TestBatchSubmitterFlushesOnSize(t *testing.T) {
	srv := newBatchTestServer(t, false)
	defer srv.Close()

	c := testClient(srv.URL)
	b := NewBatchSubmitter(c)
	b.BatchSize = 3
	b.FlushInterval = time.Hour // never fires; size threshold must trigger the flush
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	var wg sync.WaitGroup
	results := make([]*Submission, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Submit(context.Background(), enrich.Payload{}, "key")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("submit %d returned error: %v", i, err)
		}
		if results[i] == nil || results[i].SubmissionID != "sub-batch" {
			t.Fatalf("submit %d: expected batch submission, got %+v", i, results[i])
		}
	}
	if got := b.BatchesSubmitted(); got != 1 {
		t.Fatalf("expected 1 real batch submission, got %d", got)
	}
}

func TestBatchSubmitterFlushesOnTimer(t *testing.T) {
	srv := newBatchTestServer(t, false)
	defer srv.Close()

	c := testClient(srv.URL)
	b := NewBatchSubmitter(c)
	b.BatchSize = 16
	b.FlushInterval = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	sub, err := b.Submit(context.Background(), enrich.Payload{}, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub == nil || sub.SubmissionID != "sub-batch" {
		t.Fatalf("expected a partial batch flushed by the timer, got %+v", sub)
	}
}

func TestBatchSubmitterFallsBackToPerItemWhenBatchUnavailable(t *testing.T) {
	srv := newBatchTestServer(t, true)
	defer srv.Close()

	c := testClient(srv.URL)
	b := NewBatchSubmitter(c)
	b.BatchSize = 2
	b.FlushInterval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	var wg sync.WaitGroup
	results := make([]*Submission, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = b.Submit(context.Background(), enrich.Payload{}, "key")
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r == nil || r.SubmissionID != "sub-single" {
			t.Fatalf("submit %d: expected per-item fallback submission, got %+v", i, r)
		}
	}
	if got := b.BatchesSubmitted(); got != 0 {
		t.Fatalf("expected 0 real batch submissions after fallback, got %d", got)
	}
}
