// Package store persists plan-run history: a record per run plus an
// append-only, per-run-sequenced event log.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/veyra/planrun/pkg/plan"
)

// Run is the persisted record of one plan execution.
type Run struct {
	ID          string          `json:"id"`
	PlanName    string          `json:"plan_name"`
	Status      plan.RunStatus  `json:"status"`
	StoppedAt   string          `json:"stopped_at,omitempty"` // step that raised the stop signal
	Error       json.RawMessage `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Event is an immutable entry in the run event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Step      string          `json:"step,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// EventAppender is the minimal contract the engine needs to record events.
// Satisfied by *LibSQLStore and *MemoryLog.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *Event) error
}

// RunUpdate carries the terminal fields written when a run finishes.
type RunUpdate struct {
	Status      plan.RunStatus
	StoppedAt   string
	Error       json.RawMessage
	CompletedAt *time.Time
}

// RunStore is the persistence contract for run history.
// All implementations must be safe for concurrent use.
type RunStore interface {
	EventAppender

	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, update RunUpdate) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, planName string) ([]*Run, error)

	// GetEvents returns events for a run with sequence > since, ordered by
	// sequence ascending.
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	Migrate(ctx context.Context) error
	Close() error
}
