package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/veyra/planrun/internal/logging"
	"github.com/veyra/planrun/pkg/plan"
	"github.com/veyra/planrun/pkg/workspace"
)

// outcome is the control-flow result of a step node. Stopped is a normal
// cooperative-termination signal, never an error.
type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeStopped
)

// executeStep runs one node of the step tree: fan-out across concurrent
// instances when configured, otherwise a single instance.
func (e *executorImpl) executeStep(ctx context.Context, rn *planRun, st *plan.Step, ws *workspace.Workspace, name string) (outcome, error) {
	n := st.Instances()
	if n == 1 {
		return e.runInstance(ctx, rn, st, ws, name)
	}

	// Independent parallel copies of the subtree. Each instance gets its own
	// child workspace chained to the same parent, so local writes never leak
	// between instances while parent reads stay shared.
	type instanceResult struct {
		out outcome
		err error
	}
	results := make(chan instanceResult, n)

	for i := 0; i < n; i++ {
		iws := ws.Child()
		iname := fmt.Sprintf("%s#%d", name, i)
		go func() {
			out, err := e.runInstance(ctx, rn, st, iws, iname)
			results <- instanceResult{out: out, err: err}
		}()
	}

	// Fail-together: all instances run to completion, then the first error by
	// completion order is reported.
	var firstErr error
	stopped := false
	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		if r.out == outcomeStopped {
			stopped = true
		}
	}

	if firstErr != nil {
		return outcomeCompleted, firstErr
	}
	if stopped {
		return outcomeStopped, nil
	}
	return outcomeCompleted, nil
}

// runInstance executes one instance of a step: the iteration loop, workspace
// scoping, and the stop-condition check after each full body pass.
func (e *executorImpl) runInstance(ctx context.Context, rn *planRun, st *plan.Step, ws *workspace.Workspace, name string) (outcome, error) {
	ctx = logging.WithStep(ctx, name)

	if err := e.stepFSM.Transition(ctx, rn.runID, name, plan.StepStatusPending, plan.StepStatusRunning); err != nil {
		return outcomeCompleted, err
	}

	cond := newStopCondition(st.ShouldStopBlob)
	iters := st.Iterations()

	for i := 0; i < iters; i++ {
		if err := ctx.Err(); err != nil {
			e.finishStep(ctx, rn, name, plan.StepStatusFailed)
			return outcomeCompleted, plan.NewError(plan.ErrCodeCancelled, "plan execution cancelled").
				WithStep(name).WithCause(err)
		}

		// A fresh child workspace per pass keeps iteration state from leaking
		// into the next pass; otherwise every pass shares the caller's scope.
		bodyWS := ws
		if st.CreateWorkspace {
			bodyWS = ws.Child()
		}

		out, err := e.runBody(ctx, rn, st, bodyWS, name)
		if err != nil {
			e.finishStep(ctx, rn, name, plan.StepStatusFailed)
			return outcomeCompleted, err
		}
		if out == outcomeStopped {
			// A child's stop signal ends this node's iterations as well.
			e.finishStep(ctx, rn, name, plan.StepStatusStopped)
			return outcomeStopped, nil
		}

		stop, err := cond.Evaluate(bodyWS)
		if err != nil {
			e.finishStep(ctx, rn, name, plan.StepStatusFailed)
			if perr, ok := err.(*plan.Error); ok {
				return outcomeCompleted, perr.WithStep(name)
			}
			return outcomeCompleted, err
		}
		if stop {
			rn.markStopped(name)
			e.finishStep(ctx, rn, name, plan.StepStatusStopped)
			e.logger.DebugContext(ctx, "stop signal fired", slog.Int("pass", i+1))
			return outcomeStopped, nil
		}
	}

	e.finishStep(ctx, rn, name, plan.StepStatusCompleted)
	return outcomeCompleted, nil
}

// runBody executes one pass of a step's body: either its network list in
// order, or its substeps (sequential or concurrent, with interval siblings
// running alongside).
func (e *executorImpl) runBody(ctx context.Context, rn *planRun, st *plan.Step, ws *workspace.Workspace, name string) (outcome, error) {
	if len(st.Networks) > 0 {
		return outcomeCompleted, e.runNetworks(ctx, rn, st, ws, name)
	}
	return e.runSubsteps(ctx, rn, st, ws, name)
}

// runNetworks invokes the step's named networks in declared order. Network
// lists are never run concurrently with each other within one step.
func (e *executorImpl) runNetworks(ctx context.Context, rn *planRun, st *plan.Step, ws *workspace.Workspace, name string) error {
	for _, netName := range st.Networks {
		n, err := rn.plan.Network(netName)
		if err != nil {
			if perr, ok := err.(*plan.Error); ok {
				return perr.WithStep(name)
			}
			return err
		}
		if err := e.invoke(ctx, netName, n, ws); err != nil {
			return plan.NewErrorf(plan.ErrCodeNetworkRun, "network %q: %s", netName, err.Error()).
				WithStep(name).WithCause(err)
		}
	}
	return nil
}

// invoke runs one network through the worker pool, bounding how many networks
// execute at once across all concurrent branches of the tree.
func (e *executorImpl) invoke(ctx context.Context, netName string, n plan.Network, ws *workspace.Workspace) error {
	done := make(chan error, 1)
	submitErr := e.pool.Submit(ctx, func(c context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("network %q panicked: %v", netName, r)
			}
			done <- err
		}()
		return n.Run(c, ws)
	})
	if submitErr != nil {
		return submitErr
	}
	return <-done
}

// substepRef pairs a substep with its diagnostic name.
type substepRef struct {
	step *plan.Step
	name string
}

// runSubsteps executes one pass over a step's substeps. Interval substeps are
// started first as background repeating tasks, the remaining substeps run in
// order (or as parallel tasks when Concurrent is set), and the interval
// runners are drained afterwards with one guaranteed final pass each.
func (e *executorImpl) runSubsteps(ctx context.Context, rn *planRun, st *plan.Step, ws *workspace.Workspace, name string) (outcome, error) {
	var regular []substepRef
	var runners []*intervalRun

	for i, sub := range st.Substeps {
		subName := sub.Name
		if subName == "" {
			subName = fmt.Sprintf("%s.substeps[%d]", name, i)
		}
		if sub.IsInterval() {
			runners = append(runners, e.startInterval(ctx, rn, sub, ws, subName))
			continue
		}
		regular = append(regular, substepRef{step: sub, name: subName})
	}

	var out outcome
	var err error
	if st.Concurrent {
		out, err = e.runConcurrent(ctx, rn, regular, ws)
	} else {
		out, err = e.runSequential(ctx, rn, regular, ws)
	}

	// Drain interval runners even when the body failed: each gets its current
	// pass to finish plus one guaranteed final pass, and runner failures
	// surface unless the body already produced an error.
	for _, r := range runners {
		if rerr := r.Stop(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}

	if err != nil {
		return outcomeCompleted, err
	}
	return out, nil
}

// runSequential executes substeps strictly in declared order. A stopped child
// skips the remaining siblings of this pass.
func (e *executorImpl) runSequential(ctx context.Context, rn *planRun, subs []substepRef, ws *workspace.Workspace) (outcome, error) {
	for _, sub := range subs {
		out, err := e.executeStep(ctx, rn, sub.step, ws, sub.name)
		if err != nil {
			return outcomeCompleted, err
		}
		if out == outcomeStopped {
			return outcomeStopped, nil
		}
	}
	return outcomeCompleted, nil
}

// runConcurrent executes substeps as parallel tasks and waits for all of them.
// There is no preemption: a stopped or failed child never interrupts siblings
// already dispatched; the first error by declaration order is reported once
// every child has finished.
func (e *executorImpl) runConcurrent(ctx context.Context, rn *planRun, subs []substepRef, ws *workspace.Workspace) (outcome, error) {
	type childResult struct {
		out outcome
		err error
	}
	results := make([]childResult, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(idx int, ref substepRef) {
			defer wg.Done()
			out, err := e.executeStep(ctx, rn, ref.step, ws, ref.name)
			results[idx] = childResult{out: out, err: err}
		}(i, sub)
	}
	wg.Wait()

	stopped := false
	for _, r := range results {
		if r.err != nil {
			return outcomeCompleted, r.err
		}
		if r.out == outcomeStopped {
			stopped = true
		}
	}
	if stopped {
		return outcomeStopped, nil
	}
	return outcomeCompleted, nil
}

// finishStep applies a terminal step transition. Terminal transitions are
// best-effort so that event-sink failures never mask the execution outcome.
func (e *executorImpl) finishStep(ctx context.Context, rn *planRun, name string, to plan.StepStatus) {
	_ = e.stepFSM.Transition(ctx, rn.runID, name, plan.StepStatusRunning, to)
}
