// SPDX-License-Identifier: MIT

// Package health provides health and readiness checks for the daemon.
// It supports Docker HEALTHCHECK and Kubernetes probes with per-component
// status.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
)

// Status represents the overall health/readiness status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response represents the full health check response.
type Response struct {
	Status        Status                 `json:"status"`
	Version       string                 `json:"version,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	ActiveStreams int                    `json:"activeStreams"`
	Checks        map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for component health checks.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a probe function to the Checker interface.
type CheckerFunc struct {
	CheckName string
	Probe     func(ctx context.Context) error
}

// Name implements Checker.
func (c CheckerFunc) Name() string { return c.CheckName }

// Check implements Checker.
func (c CheckerFunc) Check(ctx context.Context) CheckResult {
	if err := c.Probe(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// StreamCounter reports the number of active streams; implemented by the
// stream registry.
type StreamCounter interface {
	Count() int
}

// Manager manages health and readiness checks.
type Manager struct {
	version  string
	streams  StreamCounter
	checkers []Checker
}

// NewManager creates a health check manager.
func NewManager(version string, streams StreamCounter) *Manager {
	return &Manager{
		version:  version,
		streams:  streams,
		checkers: make([]Checker, 0),
	}
}

// RegisterChecker adds a component health checker.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Health performs a health check. Process liveness plus the current
// active-stream count; component checks are included when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) Response {
	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
	if m.streams != nil {
		resp.ActiveStreams = m.streams.Count()
	}

	if verbose && len(m.checkers) > 0 {
		resp.Checks = make(map[string]CheckResult)
		hasUnhealthy := false
		hasDegraded := false

		for _, checker := range m.checkers {
			result := checker.Check(ctx)
			resp.Checks[checker.Name()] = result

			switch result.Status {
			case StatusUnhealthy:
				hasUnhealthy = true
			case StatusDegraded:
				hasDegraded = true
			}
		}

		if hasUnhealthy {
			resp.Status = StatusUnhealthy
		} else if hasDegraded {
			resp.Status = StatusDegraded
		}
	}

	return resp
}

// ServeHealth handles GET /health. Liveness always returns 200 as long
// as the process can respond; component state is informational.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true" || r.URL.Query().Get("verbose") == "1"

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := m.Health(ctx, verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger := log.WithComponent("health")
		logger.Error().Err(err).Msg("failed to encode health response")
	}
}
