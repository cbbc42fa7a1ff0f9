package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veyra/planrun/internal/store"
	"github.com/veyra/planrun/pkg/plan"
	"github.com/veyra/planrun/pkg/workspace"
)

// intervalRun is a background repeating executor for one interval substep.
// It fires a full pass of the step on every tick; passes of one runner never
// overlap. The runner lives for exactly one body pass of its parent step and
// is drained before the parent's pass completes.
type intervalRun struct {
	e    *executorImpl
	rn   *planRun
	st   *plan.Step
	ws   *workspace.Workspace
	name string

	stop chan struct{}
	done chan struct{}

	mu         sync.Mutex
	err        error
	terminated bool // the runner's own stop condition or OnlyOnce ended it
	passes     int
}

// startInterval launches the interval runner. The first pass fires after one
// full interval, not immediately.
func (e *executorImpl) startInterval(ctx context.Context, rn *planRun, st *plan.Step, ws *workspace.Workspace, name string) *intervalRun {
	r := &intervalRun{
		e:    e,
		rn:   rn,
		st:   st,
		ws:   ws,
		name: name,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.loop(ctx)
	return r
}

func (r *intervalRun) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.st.RunEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.pass(ctx) {
				r.mu.Lock()
				r.terminated = true
				r.mu.Unlock()
				return
			}
		}
	}
}

// pass executes one full instance of the interval step. Returns false when
// the runner must not fire again: its stop condition tripped, OnlyOnce is
// set, or the pass failed.
func (r *intervalRun) pass(ctx context.Context) bool {
	r.mu.Lock()
	r.passes++
	n := r.passes
	r.mu.Unlock()

	passName := fmt.Sprintf("%s@%d", r.name, n)
	_ = r.e.events.AppendEvent(ctx, &store.Event{
		RunID: r.rn.runID,
		Step:  r.name,
		Type:  plan.EventIntervalPass,
	})

	// executeStep, not runInstance: an interval step with concurrent
	// instances fans out on every pass like any other node.
	out, err := r.e.executeStep(ctx, r.rn, r.st, r.ws, passName)
	if err != nil {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		r.e.logger.ErrorContext(ctx, "interval pass failed",
			slog.String("step", r.name), slog.String("error", err.Error()))
		return false
	}
	if out == outcomeStopped {
		return false
	}
	return !r.st.OnlyOnce
}

// Stop drains the runner: it blocks until any in-flight pass completes, then
// performs one guaranteed final pass unless the runner already terminated on
// its own or the run's context is cancelled, and returns the runner's first
// error.
func (r *intervalRun) Stop(ctx context.Context) error {
	close(r.stop)
	<-r.done

	r.mu.Lock()
	terminated := r.terminated
	err := r.err
	r.mu.Unlock()

	if !terminated && err == nil && ctx.Err() == nil {
		// Final pass on drain so the step observes the body's last state at
		// least once even when the interval never elapsed. The pass itself
		// runs detached so a cancellation racing the drain cannot cut it in
		// half.
		r.pass(context.Background())
		r.mu.Lock()
		err = r.err
		r.mu.Unlock()
	}

	_ = r.e.events.AppendEvent(context.Background(), &store.Event{
		RunID: r.rn.runID,
		Step:  r.name,
		Type:  plan.EventIntervalDrained,
	})
	return err
}
