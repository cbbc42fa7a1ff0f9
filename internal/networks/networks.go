// Package networks ships the built-in network implementations and the
// factory registry used by the plan loader to turn document definitions into
// runnable networks.
package networks

import (
	"context"
	"time"

	"github.com/veyra/planrun/pkg/plan"
	"github.com/veyra/planrun/pkg/workspace"
)

// Func adapts a plain function to the Network interface. Useful for tests and
// for embedding planrun as a library.
type Func func(ctx context.Context, ws *workspace.Workspace) error

func (f Func) Run(ctx context.Context, ws *workspace.Workspace) error {
	return f(ctx, ws)
}

// Set writes constant blobs into the workspace on every run. It is the
// simplest way to seed inputs or raise a stop flag from a plan document.
type Set struct {
	Blobs map[string]any
}

// NewSet creates a Set network from a blob map.
func NewSet(blobs map[string]any) *Set {
	return &Set{Blobs: blobs}
}

func (s *Set) Run(_ context.Context, ws *workspace.Workspace) error {
	for name, value := range s.Blobs {
		ws.Set(name, value)
	}
	return nil
}

// Sleep blocks for a fixed duration, honoring context cancellation. It stands
// in for real workloads when exercising timers and concurrency.
type Sleep struct {
	Duration time.Duration
}

// NewSleep creates a Sleep network.
func NewSleep(d time.Duration) *Sleep {
	return &Sleep{Duration: d}
}

func (s *Sleep) Run(ctx context.Context, _ *workspace.Workspace) error {
	timer := time.NewTimer(s.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return plan.NewError(plan.ErrCodeCancelled, "sleep cancelled").WithCause(ctx.Err())
	case <-timer.C:
		return nil
	}
}

var (
	_ plan.Network = Func(nil)
	_ plan.Network = (*Set)(nil)
	_ plan.Network = (*Sleep)(nil)
)
