package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyra/planrun/pkg/plan"
	"github.com/veyra/planrun/pkg/workspace"
)

type nopNetwork struct{}

func (nopNetwork) Run(context.Context, *workspace.Workspace) error { return nil }

func planWith(t *testing.T, steps ...*plan.Step) *plan.Plan {
	t.Helper()
	p := plan.New("test")
	require.NoError(t, p.AddNetwork("init", nopNetwork{}))
	require.NoError(t, p.AddNetwork("train", nopNetwork{}))
	for _, s := range steps {
		p.AddStep(s)
	}
	return p
}

func TestValidatePlan(t *testing.T) {
	tests := []struct {
		name      string
		step      *plan.Step
		wantValid bool
		wantCode  string
		wantPath  string
	}{
		{
			name:      "network body",
			step:      &plan.Step{Name: "a", Networks: []string{"init"}},
			wantValid: true,
		},
		{
			name: "substep body",
			step: &plan.Step{Name: "a", Substeps: []*plan.Step{
				{Networks: []string{"train"}},
			}},
			wantValid: true,
		},
		{
			name: "both bodies set",
			step: &plan.Step{
				Networks: []string{"init"},
				Substeps: []*plan.Step{{Networks: []string{"train"}}},
			},
			wantValid: false,
			wantCode:  plan.ErrCodeInvalidStep,
			wantPath:  "steps[0]",
		},
		{
			name:      "empty body",
			step:      &plan.Step{Name: "empty"},
			wantValid: false,
			wantCode:  plan.ErrCodeInvalidStep,
			wantPath:  "steps[0]",
		},
		{
			name:      "negative num_iter",
			step:      &plan.Step{Networks: []string{"init"}, NumIter: -2},
			wantValid: false,
			wantCode:  plan.ErrCodeInvalidStep,
			wantPath:  "steps[0].num_iter",
		},
		{
			name:      "negative run_every",
			step:      &plan.Step{Networks: []string{"init"}, RunEvery: -1},
			wantValid: false,
			wantCode:  plan.ErrCodeInvalidStep,
			wantPath:  "steps[0].run_every_ms",
		},
		{
			name:      "negative instances",
			step:      &plan.Step{Networks: []string{"init"}, NumConcurrentInstances: -1},
			wantValid: false,
			wantCode:  plan.ErrCodeInvalidStep,
			wantPath:  "steps[0].num_concurrent_instances",
		},
		{
			name:      "unregistered network",
			step:      &plan.Step{Networks: []string{"ghost"}},
			wantValid: false,
			wantCode:  plan.ErrCodeUnknownNetwork,
			wantPath:  "steps[0].networks[0]",
		},
		{
			name:      "empty network name",
			step:      &plan.Step{Networks: []string{""}},
			wantValid: false,
			wantCode:  plan.ErrCodeUnknownNetwork,
			wantPath:  "steps[0].networks[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidatePlan(planWith(t, tt.step))

			if tt.wantValid {
				assert.True(t, result.Valid(), "unexpected errors: %v", result.Errors)
				return
			}

			require.False(t, result.Valid())
			found := false
			for _, issue := range result.Errors {
				if issue.Code == tt.wantCode && issue.Path == tt.wantPath {
					found = true
				}
			}
			assert.True(t, found, "expected %s at %s, got %v", tt.wantCode, tt.wantPath, result.Errors)
		})
	}
}

func TestValidatePlanRecursesIntoSubsteps(t *testing.T) {
	p := planWith(t, &plan.Step{
		Substeps: []*plan.Step{
			{Networks: []string{"init"}},
			{Substeps: []*plan.Step{
				{Networks: []string{"ghost"}},
			}},
		},
	})

	result := ValidatePlan(p)
	require.False(t, result.Valid())
	assert.Equal(t, "steps[0].substeps[1].substeps[0].networks[0]", result.Errors[0].Path)
}

func TestValidatePlanWarnings(t *testing.T) {
	p := planWith(t, &plan.Step{
		Networks:   []string{"init"},
		Concurrent: true,
		OnlyOnce:   true,
	})

	result := ValidatePlan(p)
	assert.True(t, result.Valid(), "warnings must not invalidate the plan")
	assert.Len(t, result.Warnings, 2)
}

func TestValidatePlanNilAndEmpty(t *testing.T) {
	assert.False(t, ValidatePlan(nil).Valid())

	empty := plan.New("empty")
	assert.False(t, ValidatePlan(empty).Valid())
}

func TestValidateForRun(t *testing.T) {
	good := planWith(t, &plan.Step{Networks: []string{"init"}})
	assert.NoError(t, ValidateForRun(good))

	bad := planWith(t, &plan.Step{})
	err := ValidateForRun(bad)
	require.Error(t, err)

	var perr *plan.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, plan.ErrCodeValidation, perr.Code)
}
