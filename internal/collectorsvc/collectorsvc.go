// Package collectorsvc is the wiring layer the HTTP surface (§6) drives:
// it maps a collector name to its registered Source and ProcessFunc and
// forwards to the Run Orchestrator (C13), implementing httpapi.Runner.
package collectorsvc

import (
	"context"
	"fmt"

	"github.com/chrispatten/haven-collector/internal/config"
	"github.com/chrispatten/haven-collector/internal/orchestrator"
)

// BatchCounter exposes the cumulative number of real (non-fallback) batch
// submissions a registration's ProcessFunc has made, via its Gateway
// Submission Client (C11). Run diffs two readings to report the count a
// single run actually contributed, since the underlying submitter's queue
// and drain loop outlive any one run.
type BatchCounter interface {
	BatchesSubmitted() int64
}

// Registration is one collector's wired source and processing function.
type Registration struct {
	Source  orchestrator.Source
	Process orchestrator.ProcessFunc
	// Batches is optional; nil skips per-run Stats.Batches reporting.
	Batches BatchCounter
}

// Service dispatches named-collector runs to the orchestrator using each
// collector's registration.
type Service struct {
	orch          *orchestrator.Orchestrator
	registrations map[string]Registration
}

// New builds a Service backed by orch, with no collectors registered yet.
func New(orch *orchestrator.Orchestrator) *Service {
	return &Service{orch: orch, registrations: make(map[string]Registration)}
}

// Register wires a collector's Source and ProcessFunc. Call this once per
// collector at startup before the HTTP surface accepts requests.
func (s *Service) Register(collector string, reg Registration) {
	s.registrations[collector] = reg
}

// Run implements httpapi.Runner: it normalizes cfg, resolves the
// collector's registration, and drives one orchestrator run to completion.
func (s *Service) Run(collector string, cfg config.RunConfig) (*orchestrator.RunResponse, error) {
	warning, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	reg, ok := s.registrations[collector]
	if !ok {
		return nil, fmt.Errorf("unknown collector %q", collector)
	}

	var batchesBefore int64
	if reg.Batches != nil {
		batchesBefore = reg.Batches.BatchesSubmitted()
	}

	resp, err := s.orch.Run(context.Background(), collector, cfg, reg.Source, reg.Process)
	if err != nil || resp == nil {
		return resp, err
	}
	if reg.Batches != nil {
		resp.Stats.Batches = int(reg.Batches.BatchesSubmitted() - batchesBefore)
	}
	if warning != "" {
		resp.Warnings = append([]string{warning}, resp.Warnings...)
	}
	return resp, nil
}

// State implements httpapi.Runner.
func (s *Service) State(collector string) (orchestrator.RunState, bool) {
	if _, ok := s.registrations[collector]; !ok {
		return orchestrator.RunState{}, false
	}
	return s.orch.State(collector), true
}
