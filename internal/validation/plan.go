// Package validation rejects malformed plans before any execution begins.
// Structural problems (step body shape, iteration counts) and referential
// problems (unresolved network names) both surface here, never mid-run.
package validation

import (
	"fmt"

	"github.com/veyra/planrun/pkg/plan"
)

// ValidatePlan runs the full validation pipeline over a plan:
// structural checks on every step in the tree, then referential integrity
// of network names against the plan's registry.
func ValidatePlan(p *plan.Plan) *plan.ValidationResult {
	result := &plan.ValidationResult{}

	if p == nil {
		result.AddError("/", plan.ErrCodeValidation, "plan is nil")
		return result
	}
	if p.Name == "" {
		result.AddWarning("/name", plan.ErrCodeValidation, "plan has no name")
	}
	if len(p.Steps) == 0 {
		result.AddError("/steps", plan.ErrCodeValidation, "plan has no steps")
	}

	for i, s := range p.Steps {
		validateStep(p, s, fmt.Sprintf("steps[%d]", i), result)
	}

	return result
}

// validateStep checks one step and recurses into its substeps.
func validateStep(p *plan.Plan, s *plan.Step, path string, result *plan.ValidationResult) {
	if s == nil {
		result.AddError(path, plan.ErrCodeInvalidStep, "step is nil")
		return
	}

	hasSubsteps := len(s.Substeps) > 0
	hasNetworks := len(s.Networks) > 0

	switch {
	case hasSubsteps && hasNetworks:
		result.AddError(path, plan.ErrCodeInvalidStep,
			"step sets both substeps and networks; the body must be one or the other")
	case !hasSubsteps && !hasNetworks:
		result.AddError(path, plan.ErrCodeInvalidStep,
			"step sets neither substeps nor networks; the body is empty")
	}

	if s.NumIter < 0 {
		result.AddError(path+".num_iter", plan.ErrCodeInvalidStep,
			fmt.Sprintf("num_iter must be non-negative, got %d", s.NumIter))
	}
	if s.RunEvery < 0 {
		result.AddError(path+".run_every_ms", plan.ErrCodeInvalidStep,
			"run_every_ms must be positive when set")
	}
	if s.NumConcurrentInstances < 0 {
		result.AddError(path+".num_concurrent_instances", plan.ErrCodeInvalidStep,
			fmt.Sprintf("num_concurrent_instances must be at least 1, got %d", s.NumConcurrentInstances))
	}
	if s.OnlyOnce && s.ShouldStopBlob == "" {
		result.AddWarning(path+".only_once", plan.ErrCodeValidation,
			"only_once has no effect without should_stop_blob")
	}
	if s.Concurrent && hasNetworks {
		result.AddWarning(path+".concurrent", plan.ErrCodeValidation,
			"concurrent has no effect on a network body; networks always run in order")
	}

	// Referential integrity: every named network must exist in the registry.
	for j, name := range s.Networks {
		if name == "" {
			result.AddError(fmt.Sprintf("%s.networks[%d]", path, j),
				plan.ErrCodeUnknownNetwork, "network name is empty")
			continue
		}
		if !p.HasNetwork(name) {
			result.AddError(fmt.Sprintf("%s.networks[%d]", path, j),
				plan.ErrCodeUnknownNetwork,
				fmt.Sprintf("references unregistered network %q", name))
		}
	}

	for j, sub := range s.Substeps {
		validateStep(p, sub, fmt.Sprintf("%s.substeps[%d]", path, j), result)
	}
}

// ValidateForRun converts validation issues into a single error, used by the
// executor as its pre-flight gate.
func ValidateForRun(p *plan.Plan) error {
	return ValidatePlan(p).ToError()
}
