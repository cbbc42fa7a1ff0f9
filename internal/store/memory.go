package store

import (
	"context"
	"sync"
	"time"

	"github.com/veyra/planrun/pkg/plan"
)

// MemoryLog is an in-process RunStore. It is the executor default when no
// database is configured, and doubles as the event sink in tests.
type MemoryLog struct {
	mu     sync.Mutex
	runs   map[string]*Run
	events map[string][]*Event
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		runs:   make(map[string]*Run),
		events: make(map[string][]*Event),
	}
}

// AppendEvent records an event with the next per-run sequence number.
func (m *MemoryLog) AppendEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := int64(len(m.events[event.RunID]) + 1)
	cp := *event
	cp.Sequence = seq
	cp.ID = seq
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	m.events[event.RunID] = append(m.events[event.RunID], &cp)
	return nil
}

func (m *MemoryLog) CreateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return plan.NewErrorf(plan.ErrCodeConflict, "run %q already exists", run.ID)
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryLog) FinishRun(_ context.Context, id string, update RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return plan.NewErrorf(plan.ErrCodeNotFound, "run %q not found", id)
	}
	run.Status = update.Status
	run.StoppedAt = update.StoppedAt
	run.Error = update.Error
	run.CompletedAt = update.CompletedAt
	return nil
}

func (m *MemoryLog) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, plan.NewErrorf(plan.ErrCodeNotFound, "run %q not found", id)
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryLog) ListRuns(_ context.Context, planName string) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Run
	for _, run := range m.runs {
		if planName != "" && run.PlanName != planName {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryLog) GetEvents(_ context.Context, runID string, since int64) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Event
	for _, e := range m.events[runID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Events returns every event for a run, in order. Test helper.
func (m *MemoryLog) Events(runID string) []*Event {
	out, _ := m.GetEvents(context.Background(), runID, 0)
	return out
}

func (m *MemoryLog) Migrate(context.Context) error { return nil }

func (m *MemoryLog) Close() error { return nil }
