// Package httpapi implements the core-facing HTTP surface (§6): a thin
// chi-routed adapter over the Run Orchestrator.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
	"github.com/chrispatten/haven-collector/internal/config"
	"github.com/chrispatten/haven-collector/internal/logging"
	"github.com/chrispatten/haven-collector/internal/orchestrator"
)

// Runner executes a named collector's run given a decoded RunConfig.
// Implemented by collectorsvc.Service, which maps each collector name to
// the source and processing function registered for it.
type Runner interface {
	Run(collector string, cfg config.RunConfig) (*orchestrator.RunResponse, error)
	State(collector string) (orchestrator.RunState, bool)
}

// Server wires the Runner behind the HTTP surface defined in §6.
type Server struct {
	runner     Runner
	authHeader string
	authSecret string
}

// NewServer builds a Server. An empty authSecret disables auth checking,
// useful for local development.
func NewServer(runner Runner, authHeader, authSecret string) *Server {
	if authHeader == "" {
		authHeader = "Authorization"
	}
	return &Server{runner: runner, authHeader: authHeader, authSecret: authSecret}
}

// Router builds the chi.Mux implementing the HTTP surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.ChiRequestLogger())
	if s.authSecret != "" {
		r.Use(s.requireAuth)
	}

	r.Post("/v1/collectors/{collector}:run", s.handleRun)
	r.Get("/v1/collectors/{collector}/state", s.handleState)
	return r
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(s.authHeader)
		want := s.authSecret
		if s.authHeader == "Authorization" {
			want = "Bearer " + s.authSecret
		}
		if got != want {
			writeError(w, http.StatusUnauthorized, "missing or invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: reason})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	collector := chi.URLParam(r, "collector")
	if collector == "" {
		writeError(w, http.StatusNotFound, "unknown collector")
		return
	}

	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := config.DecodeRunConfig(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	warning, err := cfg.Normalize()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.runner.Run(collector, cfg)
	if err != nil {
		status, reason := statusForError(err)
		writeError(w, status, reason)
		return
	}
	if warning != "" {
		resp.Warnings = append([]string{warning}, resp.Warnings...)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	collector := chi.URLParam(r, "collector")
	state, ok := s.runner.State(collector)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown collector")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func decodeBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	if len(buf) == 0 {
		return []byte("{}"), nil
	}
	return buf, nil
}

// statusForError maps a collectorerr.Error (or an orchestrator sentinel)
// to the HTTP status codes enumerated in §6.
func statusForError(err error) (int, string) {
	if errors.Is(err, orchestrator.ErrRunInProgress) {
		return http.StatusConflict, err.Error()
	}
	var ce *collectorerr.Error
	if errors.As(err, &ce) && ce.Status != 0 {
		return ce.Status, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}
