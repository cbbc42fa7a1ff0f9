package networks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyra/planrun/pkg/plan"
	"github.com/veyra/planrun/pkg/workspace"
)

func TestFuncAdapter(t *testing.T) {
	called := false
	n := Func(func(context.Context, *workspace.Workspace) error {
		called = true
		return nil
	})

	require.NoError(t, n.Run(context.Background(), workspace.New()))
	assert.True(t, called)
}

func TestSetWritesBlobs(t *testing.T) {
	ws := workspace.New()
	n := NewSet(map[string]any{"lr": 0.01, "epochs": 10})

	require.NoError(t, n.Run(context.Background(), ws))

	v, ok := ws.Get("lr")
	require.True(t, ok)
	assert.Equal(t, 0.01, v)
	v, _ = ws.Get("epochs")
	assert.Equal(t, 10, v)
}

func TestSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewSleep(time.Hour)
	err := n.Run(ctx, workspace.New())
	require.Error(t, err)

	var perr *plan.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, plan.ErrCodeCancelled, perr.Code)
}

func TestSleepCompletes(t *testing.T) {
	n := NewSleep(time.Millisecond)
	assert.NoError(t, n.Run(context.Background(), workspace.New()))
}

func TestExprEvaluatesAgainstWorkspace(t *testing.T) {
	n, err := NewExpr("loss < 0.1 && epoch > 5", "should_stop")
	require.NoError(t, err)

	ws := workspace.New()
	ws.Set("loss", 0.05)
	ws.Set("epoch", 9)

	require.NoError(t, n.Run(context.Background(), ws))

	v, ok := ws.Get("should_stop")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestExprSeesParentScopeBlobs(t *testing.T) {
	n, err := NewExpr("threshold * 2", "doubled")
	require.NoError(t, err)

	parent := workspace.New()
	parent.Set("threshold", 10)
	child := parent.Child()

	require.NoError(t, n.Run(context.Background(), child))

	v, ok := child.Get("doubled")
	require.True(t, ok)
	assert.Equal(t, 20, v)

	assert.False(t, parent.Has("doubled"), "output lands in the local scope")
}

func TestExprUndefinedVariablesAreNil(t *testing.T) {
	n, err := NewExpr("missing == nil", "check")
	require.NoError(t, err)

	ws := workspace.New()
	require.NoError(t, n.Run(context.Background(), ws))

	v, _ := ws.Get("check")
	assert.Equal(t, true, v)
}

func TestExprCompileErrorSurfacesAtConstruction(t *testing.T) {
	_, err := NewExpr("1 +++ nope(", "out")
	require.Error(t, err)

	var perr *plan.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, plan.ErrCodeValidation, perr.Code)
}

func TestExprRejectsEmptyConfig(t *testing.T) {
	_, err := NewExpr("", "out")
	require.Error(t, err)
	_, err = NewExpr("1 + 1", "")
	require.Error(t, err)
}

func TestJQTransformsInputBlob(t *testing.T) {
	n, err := NewJQ(".metrics | map(.loss) | add / length", "report", "avg_loss")
	require.NoError(t, err)

	ws := workspace.New()
	ws.Set("report", map[string]any{
		"metrics": []any{
			map[string]any{"loss": 0.4},
			map[string]any{"loss": 0.2},
		},
	})

	require.NoError(t, n.Run(context.Background(), ws))

	v, ok := ws.Get("avg_loss")
	require.True(t, ok)
	assert.InDelta(t, 0.3, v.(float64), 1e-9)
}

func TestJQNormalizesGoIntegers(t *testing.T) {
	n, err := NewJQ(". + 1", "count", "next")
	require.NoError(t, err)

	ws := workspace.New()
	ws.Set("count", 41)

	require.NoError(t, n.Run(context.Background(), ws))

	v, _ := ws.Get("next")
	assert.Equal(t, float64(42), v)
}

func TestJQMultipleOutputsCollected(t *testing.T) {
	n, err := NewJQ(".[]", "items", "each")
	require.NoError(t, err)

	ws := workspace.New()
	ws.Set("items", []any{"a", "b"})

	require.NoError(t, n.Run(context.Background(), ws))

	v, _ := ws.Get("each")
	assert.Equal(t, []any{"a", "b"}, v)
}

func TestJQMissingInputFails(t *testing.T) {
	n, err := NewJQ(".", "absent", "out")
	require.NoError(t, err)

	err = n.Run(context.Background(), workspace.New())
	require.Error(t, err)

	var perr *plan.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, plan.ErrCodeExecution, perr.Code)
}

func TestJQParseErrorSurfacesAtConstruction(t *testing.T) {
	_, err := NewJQ(".[unclosed", "in", "out")
	require.Error(t, err)

	var perr *plan.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, plan.ErrCodeValidation, perr.Code)
}
