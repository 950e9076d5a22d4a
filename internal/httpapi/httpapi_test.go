package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
	"github.com/chrispatten/haven-collector/internal/config"
	"github.com/chrispatten/haven-collector/internal/orchestrator"
)

type fakeRunner struct {
	resp   *orchestrator.RunResponse
	err    error
	states map[string]orchestrator.RunState
}

func (f *fakeRunner) Run(collector string, cfg config.RunConfig) (*orchestrator.RunResponse, error) {
	return f.resp, f.err
}

func (f *fakeRunner) State(collector string) (orchestrator.RunState, bool) {
	s, ok := f.states[collector]
	return s, ok
}

func TestHandleRunSuccess(t *testing.T) {
	runner := &fakeRunner{resp: &orchestrator.RunResponse{Collector: "mail", RunID: "run-1", Status: orchestrator.StatusOK}}
	srv := NewServer(runner, "", "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := bytes.NewBufferString(`{"mode":"simulate","limit":10,"order":"desc","concurrency":2}`)
	resp, err := http.Post(ts.URL+"/v1/collectors/mail:run", "application/json", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var decoded orchestrator.RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.RunID != "run-1" {
		t.Fatalf("unexpected response: %+v", decoded)
	}
}

func TestHandleRunRejectsUnknownField(t *testing.T) {
	runner := &fakeRunner{}
	srv := NewServer(runner, "", "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := bytes.NewBufferString(`{"mode":"simulate","bogus_field":true}`)
	resp, err := http.Post(ts.URL+"/v1/collectors/mail:run", "application/json", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleRunConflictMapsTo409(t *testing.T) {
	runner := &fakeRunner{err: orchestrator.ErrRunInProgress}
	srv := NewServer(runner, "", "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := bytes.NewBufferString(`{"mode":"simulate","limit":1,"order":"asc","concurrency":1}`)
	resp, err := http.Post(ts.URL+"/v1/collectors/mail:run", "application/json", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestHandleRunModuleDisabledMapsTo503(t *testing.T) {
	runner := &fakeRunner{err: collectorerr.StateConflict(503, "module disabled")}
	srv := NewServer(runner, "", "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := bytes.NewBufferString(`{"mode":"simulate","limit":1,"order":"asc","concurrency":1}`)
	resp, err := http.Post(ts.URL+"/v1/collectors/mail:run", "application/json", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestHandleStateUnknownCollectorIs404(t *testing.T) {
	runner := &fakeRunner{states: map[string]orchestrator.RunState{}}
	srv := NewServer(runner, "", "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/collectors/unknown/state")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	runner := &fakeRunner{resp: &orchestrator.RunResponse{Collector: "mail"}}
	srv := NewServer(runner, "", "secret-value")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := bytes.NewBufferString(`{"mode":"simulate","limit":1,"order":"asc","concurrency":1}`)
	resp, err := http.Post(ts.URL+"/v1/collectors/mail:run", "application/json", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", resp.StatusCode)
	}
}
