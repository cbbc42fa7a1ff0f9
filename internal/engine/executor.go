package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veyra/planrun/internal/logging"
	"github.com/veyra/planrun/internal/store"
	"github.com/veyra/planrun/internal/validation"
	"github.com/veyra/planrun/pkg/plan"
	"github.com/veyra/planrun/pkg/workspace"
)

// Executor drives a plan's execution-step tree to completion.
type Executor interface {
	// Run validates the plan, then walks its step tree until every step
	// finishes, a stop signal fires, or a network fails. A nil root creates a
	// fresh root workspace for the run. Validation failures return a non-nil
	// error before any execution; execution outcomes (including failures) are
	// reported through the result.
	Run(ctx context.Context, p *plan.Plan, root *workspace.Workspace) (*ExecutionResult, error)

	// Shutdown drains the network worker pool.
	Shutdown()
}

// ExecutionResult is the outcome of one plan run.
type ExecutionResult struct {
	RunID       string         `json:"run_id"`
	Plan        string         `json:"plan"`
	Status      plan.RunStatus `json:"status"`
	StoppedAt   string         `json:"stopped_at,omitempty"` // step whose stop signal ended the run
	Err         *plan.Error    `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// DefaultPoolSize is the default bound on concurrently running networks.
const DefaultPoolSize = 10

// Config holds executor configuration.
type Config struct {
	PoolSize int           // max concurrently running network invocations
	Events   EventAppender // event sink; defaults to an in-memory log
	Logger   *slog.Logger  // defaults to slog.Default()
}

// executorImpl is the concrete Executor implementation.
type executorImpl struct {
	pool    *WorkerPool
	events  EventAppender
	runFSM  *RunFSM
	stepFSM *StepFSM
	logger  *slog.Logger
}

// NewExecutor creates an Executor with the given configuration.
func NewExecutor(cfg Config) Executor {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Events == nil {
		cfg.Events = store.NewMemoryLog()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &executorImpl{
		pool:    NewWorkerPool(cfg.PoolSize),
		events:  cfg.Events,
		runFSM:  NewRunFSM(cfg.Events),
		stepFSM: NewStepFSM(cfg.Events),
		logger:  cfg.Logger,
	}
}

// planRun tracks one in-flight plan execution.
type planRun struct {
	runID string
	plan  *plan.Plan

	mu        sync.Mutex
	stoppedAt string // first step whose stop signal fired
}

// markStopped records the first step that raised a stop signal.
func (rn *planRun) markStopped(step string) {
	rn.mu.Lock()
	if rn.stoppedAt == "" {
		rn.stoppedAt = step
	}
	rn.mu.Unlock()
}

func (rn *planRun) stoppedStep() string {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.stoppedAt
}

func (e *executorImpl) Run(ctx context.Context, p *plan.Plan, root *workspace.Workspace) (*ExecutionResult, error) {
	if p == nil {
		return nil, plan.NewError(plan.ErrCodeValidation, "plan is nil")
	}

	// Structural and referential problems never begin execution.
	if err := validation.ValidateForRun(p); err != nil {
		return nil, err
	}

	rn := &planRun{
		runID: uuid.NewString(),
		plan:  p,
	}
	if root == nil {
		root = workspace.New()
	}

	ctx = logging.WithRunID(logging.WithPlan(ctx, p.Name), rn.runID)

	result := &ExecutionResult{
		RunID:     rn.runID,
		Plan:      p.Name,
		Status:    plan.RunStatusActive,
		StartedAt: time.Now().UTC(),
	}

	e.recordRunStart(ctx, rn, result)
	if err := e.runFSM.Transition(ctx, rn.runID, plan.RunStatusPending, plan.RunStatusActive); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "plan run started", slog.Int("steps", len(p.Steps)))

	// The top-level step list executes as an implicit sequential body, so
	// top-level interval steps run alongside their top-level siblings.
	rootStep := &plan.Step{Name: p.Name, Substeps: p.Steps}
	out, execErr := e.runSubsteps(ctx, rn, rootStep, root, p.Name)

	result.CompletedAt = time.Now().UTC()
	switch {
	case execErr != nil:
		result.Status = plan.RunStatusFailed
		var perr *plan.Error
		if errors.As(execErr, &perr) {
			result.Err = perr
		} else {
			result.Err = plan.NewError(plan.ErrCodeExecution, execErr.Error()).WithCause(execErr)
		}
		e.logger.ErrorContext(ctx, "plan run failed", slog.String("error", execErr.Error()))
	case out == outcomeStopped:
		result.Status = plan.RunStatusStopped
		result.StoppedAt = rn.stoppedStep()
		e.logger.InfoContext(ctx, "plan run stopped early", slog.String("stopped_at", result.StoppedAt))
	default:
		result.Status = plan.RunStatusCompleted
		e.logger.InfoContext(ctx, "plan run completed")
	}

	_ = e.runFSM.Transition(ctx, rn.runID, plan.RunStatusActive, result.Status)
	e.recordRunEnd(ctx, rn, result)

	return result, nil
}

func (e *executorImpl) Shutdown() {
	e.pool.Shutdown()
}

// recordRunStart persists the run record when the event sink is a full store.
func (e *executorImpl) recordRunStart(ctx context.Context, rn *planRun, result *ExecutionResult) {
	rs, ok := e.events.(store.RunStore)
	if !ok {
		return
	}
	_ = rs.CreateRun(ctx, &store.Run{
		ID:        rn.runID,
		PlanName:  rn.plan.Name,
		Status:    plan.RunStatusActive,
		StartedAt: result.StartedAt,
	})
}

// recordRunEnd persists the terminal run state when the event sink is a full store.
func (e *executorImpl) recordRunEnd(ctx context.Context, rn *planRun, result *ExecutionResult) {
	rs, ok := e.events.(store.RunStore)
	if !ok {
		return
	}
	update := store.RunUpdate{
		Status:      result.Status,
		StoppedAt:   result.StoppedAt,
		CompletedAt: &result.CompletedAt,
	}
	if result.Err != nil {
		errJSON, _ := json.Marshal(result.Err)
		update.Error = errJSON
	}
	_ = rs.FinishRun(ctx, rn.runID, update)
}
