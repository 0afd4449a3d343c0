package ingest

import (
	"context"
	"sync"
	"time"

	"opowatch-engine/internal/domain"
)

// Status is what /ingest/status reports.
type Status struct {
	Running   bool               `json:"running"`
	State     string             `json:"state,omitempty"`
	LastRunAt string             `json:"last_run_at,omitempty"`
	LastOkAt  string             `json:"last_ok_at,omitempty"`
	LastError string             `json:"last_error,omitempty"`
	LastRun   *domain.RunSummary `json:"last_run,omitempty"`
}

// Manager serializes runs: ingestion is a background task and only one
// run executes at a time. Queries against the index never wait on it.
type Manager struct {
	runner *Runner

	mu      sync.Mutex
	running bool
	status  Status
}

func NewManager(r *Runner) *Manager {
	return &Manager{runner: r}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	st.Running = m.running
	return st
}

// TryRun executes one ingestion run, or reports false if one is already
// in flight.
func (m *Manager) TryRun(ctx context.Context, rng domain.Range) (domain.RunSummary, bool) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return domain.RunSummary{}, false
	}
	m.running = true
	m.status.State = domain.RunScheduled
	m.status.LastRunAt = time.Now().UTC().Format(time.RFC3339)
	m.mu.Unlock()

	summary := m.runner.Run(ctx, rng)

	m.mu.Lock()
	m.running = false
	m.status.State = summary.State
	m.status.LastRun = &summary
	if summary.State == domain.RunFailed {
		m.status.LastError = "run failed: every date fetch exhausted retries"
	} else {
		m.status.LastError = ""
		m.status.LastOkAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.mu.Unlock()

	return summary, true
}
