package networks

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/veyra/planrun/pkg/plan"
	"github.com/veyra/planrun/pkg/workspace"
)

// JQ runs a jq query over an input blob and writes the output to another
// blob. A query producing exactly one value writes it directly; multiple
// values are collected into a slice; zero values write nil.
//
// Thread-safe: the compiled *gojq.Code is cached and reused across
// goroutines.
type JQ struct {
	Query  string
	Input  string
	Output string

	mu       sync.Mutex
	compiled *gojq.Code
}

// NewJQ compiles the query eagerly so plan loading reports bad queries before
// any execution.
func NewJQ(query, input, output string) (*JQ, error) {
	if query == "" {
		return nil, plan.NewError(plan.ErrCodeValidation, "empty jq query")
	}
	if input == "" || output == "" {
		return nil, plan.NewError(plan.ErrCodeValidation, "jq network requires input and output blobs")
	}

	j := &JQ{Query: query, Input: input, Output: output}
	if _, err := j.getOrCompile(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *JQ) Run(ctx context.Context, ws *workspace.Workspace) error {
	code, err := j.getOrCompile()
	if err != nil {
		return err
	}

	in, ok := ws.Get(j.Input)
	if !ok {
		return plan.NewErrorf(plan.ErrCodeExecution,
			"jq input blob %q not found in workspace", j.Input)
	}

	iter := code.RunWithContext(ctx, normalizeForJQ(in))

	var results []any
	for {
		val, hasNext := iter.Next()
		if !hasNext {
			break
		}
		if qerr, isErr := val.(error); isErr {
			return plan.NewErrorf(plan.ErrCodeExecution,
				"jq evaluation failed for %q: %s", j.Query, qerr.Error()).
				WithCause(qerr).
				WithDetails(map[string]any{"query": j.Query})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		ws.Set(j.Output, nil)
	case 1:
		ws.Set(j.Output, results[0])
	default:
		ws.Set(j.Output, results)
	}
	return nil
}

func (j *JQ) getOrCompile() (*gojq.Code, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.compiled != nil {
		return j.compiled, nil
	}

	query, err := gojq.Parse(j.Query)
	if err != nil {
		return nil, plan.NewErrorf(plan.ErrCodeValidation,
			"jq parse error in %q: %s", j.Query, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"query": j.Query})
	}

	code, err := gojq.Compile(query,
		// Sandbox: empty env blocks $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, plan.NewErrorf(plan.ErrCodeValidation,
			"jq compile error in %q: %s", j.Query, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"query": j.Query})
	}

	j.compiled = code
	return code, nil
}

// normalizeForJQ converts Go numeric types to float64, which is jq's native
// number representation. Maps and slices are normalized recursively.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForJQ(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForJQ(item)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ plan.Network = (*JQ)(nil)
