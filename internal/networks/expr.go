package networks

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/veyra/planrun/pkg/plan"
	"github.com/veyra/planrun/pkg/workspace"
)

// Expr evaluates an expr-lang program against a snapshot of the workspace and
// writes the result to an output blob. Every blob visible from the step's
// scope is available as a top-level variable; undefined variables evaluate to
// nil rather than failing, so stop-signal expressions can reference blobs
// that do not exist yet.
//
// Thread-safe: the compiled *vm.Program is cached and reused across
// goroutines, so one Expr can serve concurrent step instances.
type Expr struct {
	Program string
	Output  string

	mu       sync.Mutex
	compiled *vm.Program
}

// NewExpr compiles the program eagerly so plan loading reports bad
// expressions before any execution.
func NewExpr(program, output string) (*Expr, error) {
	if program == "" {
		return nil, plan.NewError(plan.ErrCodeValidation, "empty expr program")
	}
	if output == "" {
		return nil, plan.NewError(plan.ErrCodeValidation, "expr network requires an output blob")
	}

	e := &Expr{Program: program, Output: output}
	if _, err := e.getOrCompile(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Expr) Run(_ context.Context, ws *workspace.Workspace) error {
	prg, err := e.getOrCompile()
	if err != nil {
		return err
	}

	out, err := vm.Run(prg, ws.Snapshot())
	if err != nil {
		return plan.NewErrorf(plan.ErrCodeExecution,
			"expr evaluation failed for %q: %s", e.Program, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"program": e.Program})
	}

	ws.Set(e.Output, out)
	return nil
}

func (e *Expr) getOrCompile() (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.compiled != nil {
		return e.compiled, nil
	}

	prg, err := expr.Compile(e.Program,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, plan.NewErrorf(plan.ErrCodeValidation,
			"expr compile error in %q: %s", e.Program, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"program": e.Program})
	}

	e.compiled = prg
	return prg, nil
}

var _ plan.Network = (*Expr)(nil)
