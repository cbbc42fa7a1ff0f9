package engine

import (
	"context"
	"sync"

	"github.com/veyra/planrun/internal/store"
	"github.com/veyra/planrun/pkg/plan"
)

// EventAppender is satisfied by the store implementations; the FSMs emit an
// event for every state transition through it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// --- Run FSM ---

// RunFSM manages plan-run lifecycle transitions.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{appender: appender}
}

// Transition validates and executes a run state transition, emitting the
// corresponding event. Persisting the new state is the caller's job.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to plan.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return plan.NewErrorf(plan.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	eventType := runEventType(to)
	if eventType != "" {
		event := &store.Event{
			RunID: runID,
			Type:  eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return plan.NewErrorf(plan.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}
	return nil
}

func isValidRunTransition(from, to plan.RunStatus) bool {
	allowed, ok := validRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to plan.RunStatus) string {
	switch to {
	case plan.RunStatusActive:
		return plan.EventRunStarted
	case plan.RunStatusCompleted:
		return plan.EventRunCompleted
	case plan.RunStatusStopped:
		return plan.EventRunStopped
	case plan.RunStatusFailed:
		return plan.EventRunFailed
	default:
		return ""
	}
}

// --- Step FSM ---

// StepFSM manages step-instance lifecycle transitions. Every pass of an
// interval step and every fan-out instance is its own step instance.
type StepFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewStepFSM creates a StepFSM that emits events via the given appender.
func NewStepFSM(appender EventAppender) *StepFSM {
	return &StepFSM{appender: appender}
}

// Transition validates and executes a step state transition, emitting the
// corresponding event.
func (f *StepFSM) Transition(ctx context.Context, runID, step string, from, to plan.StepStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidStepTransition(from, to) {
		return plan.NewErrorf(plan.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithStep(step).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	eventType := stepEventType(to)
	if eventType != "" {
		event := &store.Event{
			RunID: runID,
			Step:  step,
			Type:  eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return plan.NewErrorf(plan.ErrCodeStore, "emit step event: %s", err.Error()).
				WithStep(step).WithCause(err)
		}
	}
	return nil
}

func isValidStepTransition(from, to plan.StepStatus) bool {
	allowed, ok := validStepTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func stepEventType(to plan.StepStatus) string {
	switch to {
	case plan.StepStatusRunning:
		return plan.EventStepStarted
	case plan.StepStatusCompleted:
		return plan.EventStepCompleted
	case plan.StepStatusStopped:
		return plan.EventStepStopped
	case plan.StepStatusFailed:
		return plan.EventStepFailed
	default:
		return ""
	}
}

// --- Transition tables ---

// validRunTransitions defines the allowed state transitions for plan runs.
var validRunTransitions = map[plan.RunStatus][]plan.RunStatus{
	plan.RunStatusPending:   {plan.RunStatusActive},
	plan.RunStatusActive:    {plan.RunStatusCompleted, plan.RunStatusStopped, plan.RunStatusFailed},
	plan.RunStatusCompleted: {},
	plan.RunStatusStopped:   {},
	plan.RunStatusFailed:    {},
}

// validStepTransitions defines the allowed state transitions for step instances.
// Stopped is terminal and reached only through the stop-condition path.
var validStepTransitions = map[plan.StepStatus][]plan.StepStatus{
	plan.StepStatusPending:   {plan.StepStatusRunning},
	plan.StepStatusRunning:   {plan.StepStatusCompleted, plan.StepStatusStopped, plan.StepStatusFailed},
	plan.StepStatusCompleted: {},
	plan.StepStatusStopped:   {},
	plan.StepStatusFailed:    {},
}
