package engine

import (
	"github.com/veyra/planrun/pkg/plan"
	"github.com/veyra/planrun/pkg/workspace"
)

// stopCondition evaluates a step's stop blob after each full body pass.
//
// Policy for an absent blob: the very first evaluation of a step instance
// treats a missing blob as "not stopped", because the instance's own first
// pass is expected to produce the signal before it is ever read. From the
// second evaluation on, a missing blob is a MISSING_SIGNAL error rather than
// a silent false.
type stopCondition struct {
	blob      string
	evaluated bool
}

func newStopCondition(blob string) *stopCondition {
	return &stopCondition{blob: blob}
}

// Evaluate reads the stop blob from the workspace (falling through to parent
// scopes). Returns false when no blob name is configured.
func (c *stopCondition) Evaluate(ws *workspace.Workspace) (bool, error) {
	if c.blob == "" {
		return false, nil
	}

	first := !c.evaluated
	c.evaluated = true

	v, ok := ws.Get(c.blob)
	if !ok {
		if first {
			return false, nil
		}
		return false, plan.NewErrorf(plan.ErrCodeMissingSignal,
			"stop blob %q not found in workspace", c.blob)
	}

	b, ok := v.(bool)
	if !ok {
		return false, plan.NewErrorf(plan.ErrCodeMissingSignal,
			"stop blob %q holds %T, want bool", c.blob, v)
	}
	return b, nil
}
