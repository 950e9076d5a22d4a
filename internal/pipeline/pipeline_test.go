package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chrispatten/haven-collector/internal/document"
	"github.com/chrispatten/haven-collector/internal/filter"
	"github.com/chrispatten/haven-collector/internal/gateway"
	"github.com/chrispatten/haven-collector/internal/orchestrator"
)

func fixedParser(doc document.CanonicalDocument) Parser {
	return func(sourceType, externalID, folder string, raw []byte) (document.CanonicalDocument, error) {
		return doc, nil
	}
}

func newTestGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, ":batch") {
			var req struct {
				Documents []json.RawMessage `json:"documents"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			results := make([]map[string]any, len(req.Documents))
			for i := range req.Documents {
				results[i] = map[string]any{
					"index":       i,
					"status_code": http.StatusOK,
					"submission":  map[string]any{"submissionId": "sub-batch", "documentId": "doc-batch", "duplicate": false},
				}
			}
			json.NewEncoder(w).Encode(map[string]any{
				"success_count": len(req.Documents),
				"failure_count": 0,
				"results":       results,
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"submissionId":"sub-1","documentId":"doc-1","duplicate":false}`))
	}))
}

func TestProcessItemSkipsWhenFilteredOut(t *testing.T) {
	srv := newTestGatewayServer(t)
	defer srv.Close()

	gw := gateway.NewClient(srv.URL, "/v1/ingest", "/v1/ingest/file", "", "", 2*time.Second)
	p := New(nil, nil, nil, gw, fixedParser(document.CanonicalDocument{
		SourceType:       "imap",
		ExternalID:       "INBOX/1",
		Content:          "hello world",
		ContentTimestamp: time.Now(),
	}))
	// A filter that matches nothing.
	neverMatches := filter.Contains("body", "ZZZNOMATCHZZZ", true)
	p.Filter = &filter.CompiledExpression{
		Exprs:   []filter.Expression{neverMatches},
		Mode:    filter.CombineAll,
		Default: filter.ActionExclude,
	}

	outcome, err := p.ProcessItem(context.Background(), orchestrator.Item{
		ExternalID: "INBOX/1",
		SourceType: "imap",
		Fetch:      func(ctx context.Context) ([]byte, error) { return []byte("raw"), nil },
	})
	if err != nil {
		t.Fatalf("ProcessItem returned error: %v", err)
	}
	if !outcome.Skipped {
		t.Fatalf("expected Skipped outcome, got %+v", outcome)
	}
}

func TestProcessItemSubmitsMatchedDocument(t *testing.T) {
	srv := newTestGatewayServer(t)
	defer srv.Close()

	gw := gateway.NewClient(srv.URL, "/v1/ingest", "/v1/ingest/file", "", "", 2*time.Second)
	ts := time.Now()
	p := New(nil, nil, nil, gw, fixedParser(document.CanonicalDocument{
		SourceType:       "imap",
		ExternalID:       "INBOX/1",
		Content:          "hello world",
		ContentTimestamp: ts,
	}))

	outcome, err := p.ProcessItem(context.Background(), orchestrator.Item{
		ExternalID: "INBOX/1",
		SourceType: "imap",
		Fetch:      func(ctx context.Context) ([]byte, error) { return []byte("raw"), nil },
	})
	if err != nil {
		t.Fatalf("ProcessItem returned error: %v", err)
	}
	if !outcome.Matched || !outcome.Submitted {
		t.Fatalf("expected matched+submitted outcome, got %+v", outcome)
	}
	if !outcome.ContentTimestamp.Equal(ts) {
		t.Fatalf("expected content timestamp to carry through, got %v", outcome.ContentTimestamp)
	}
}

func TestProcessItemReportsFetchFailureAsItemError(t *testing.T) {
	gw := gateway.NewClient("http://unused.invalid", "/v1/ingest", "/v1/ingest/file", "", "", time.Second)
	p := New(nil, nil, nil, gw, fixedParser(document.CanonicalDocument{}))

	outcome, err := p.ProcessItem(context.Background(), orchestrator.Item{
		ExternalID: "INBOX/2",
		Fetch:      func(ctx context.Context) ([]byte, error) { return nil, errFetch },
	})
	if err != nil {
		t.Fatalf("expected item-level error, not run-fatal error: %v", err)
	}
	if outcome.ItemError == nil {
		t.Fatalf("expected ItemError to be set, got %+v", outcome)
	}
}

func TestPipelineCountsRealBatchSubmissions(t *testing.T) {
	srv := newTestGatewayServer(t)
	defer srv.Close()

	gw := gateway.NewClient(srv.URL, "/v1/ingest", "/v1/ingest/file", "", "", 2*time.Second)
	p := New(nil, nil, nil, gw, fixedParser(document.CanonicalDocument{
		SourceType:       "imap",
		ExternalID:       "INBOX/1",
		Content:          "hello world",
		ContentTimestamp: time.Now(),
	}))

	before := p.BatchesSubmitted()
	_, err := p.ProcessItem(context.Background(), orchestrator.Item{
		ExternalID: "INBOX/1",
		SourceType: "imap",
		Fetch:      func(ctx context.Context) ([]byte, error) { return []byte("raw"), nil },
	})
	if err != nil {
		t.Fatalf("ProcessItem returned error: %v", err)
	}
	if after := p.BatchesSubmitted(); after != before+1 {
		t.Fatalf("expected BatchesSubmitted to advance by 1, got %d -> %d", before, after)
	}
}

var errFetch = fetchError("boom")

type fetchError string

func (e fetchError) Error() string { return string(e) }
