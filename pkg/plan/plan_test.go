package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyra/planrun/pkg/workspace"
)

type nopNetwork struct{}

func (nopNetwork) Run(context.Context, *workspace.Workspace) error { return nil }

func TestAddNetworkRejectsDuplicates(t *testing.T) {
	p := New("test")

	require.NoError(t, p.AddNetwork("init", nopNetwork{}))

	err := p.AddNetwork("init", nopNetwork{})
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeConflict, perr.Code)
}

func TestAddNetworkRejectsEmptyNameAndNil(t *testing.T) {
	p := New("test")

	err := p.AddNetwork("", nopNetwork{})
	require.Error(t, err)

	err = p.AddNetwork("n", nil)
	require.Error(t, err)
}

func TestAddNetworkOnZeroValuePlan(t *testing.T) {
	p := &Plan{Name: "bare"}

	require.NoError(t, p.AddNetwork("init", nopNetwork{}))
	assert.True(t, p.HasNetwork("init"))
	assert.Equal(t, []string{"init"}, p.NetworkNames())
}

func TestNetworkLookup(t *testing.T) {
	p := New("test")
	require.NoError(t, p.AddNetwork("a", nopNetwork{}))

	n, err := p.Network("a")
	require.NoError(t, err)
	assert.NotNil(t, n)

	_, err = p.Network("ghost")
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeUnknownNetwork, perr.Code)
}

func TestNetworkNamesPreserveRegistrationOrder(t *testing.T) {
	p := New("test")
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, p.AddNetwork(name, nopNetwork{}))
	}
	assert.Equal(t, []string{"c", "a", "b"}, p.NetworkNames())
}

func TestIterations(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want int
	}{
		{"unset defaults to one pass", Step{}, 1},
		{"explicit count", Step{NumIter: 5}, 5},
		{"zero means unset", Step{NumIter: 0}, 1},
		{"only_once with stop blob caps at one", Step{NumIter: 100, OnlyOnce: true, ShouldStopBlob: "done"}, 1},
		{"only_once without stop blob is inert", Step{NumIter: 3, OnlyOnce: true}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.step.Iterations())
		})
	}
}

func TestInstances(t *testing.T) {
	assert.Equal(t, 1, (&Step{}).Instances())
	assert.Equal(t, 1, (&Step{NumConcurrentInstances: 1}).Instances())
	assert.Equal(t, 4, (&Step{NumConcurrentInstances: 4}).Instances())
}

func TestIsInterval(t *testing.T) {
	assert.False(t, (&Step{}).IsInterval())
	assert.True(t, (&Step{RunEvery: 10 * time.Millisecond}).IsInterval())
}

func TestErrorFormatting(t *testing.T) {
	err := NewErrorf(ErrCodeNetworkRun, "boom").WithStep("train.substeps[0]")
	assert.Equal(t, "[NETWORK_RUN_ERROR] step train.substeps[0]: boom", err.Error())

	bare := NewError(ErrCodeValidation, "bad plan")
	assert.Equal(t, "[VALIDATION_ERROR] bad plan", bare.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := NewError(ErrCodeExecution, "inner")
	err := NewError(ErrCodeNetworkRun, "outer").WithCause(cause)

	var inner *Error
	require.ErrorAs(t, err.Unwrap(), &inner)
	assert.Equal(t, ErrCodeExecution, inner.Code)
}
