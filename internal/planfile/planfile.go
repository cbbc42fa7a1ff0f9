// Package planfile loads plan documents (JSON or YAML) into runnable plans.
// Documents are validated against an embedded JSON Schema before networks are
// constructed, so structural errors surface with document paths rather than
// as construction failures.
package planfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/veyra/planrun/internal/networks"
	"github.com/veyra/planrun/internal/validation"
	"github.com/veyra/planrun/pkg/plan"
)

// Document is the on-disk representation of a plan.
type Document struct {
	Name     string       `json:"name" yaml:"name"`
	Networks []NetworkDoc `json:"networks" yaml:"networks"`
	Steps    []*StepDoc   `json:"steps" yaml:"steps"`
}

// NetworkDoc declares a named network built from a registered kind.
type NetworkDoc struct {
	Name   string         `json:"name" yaml:"name"`
	Kind   string         `json:"kind" yaml:"kind"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// StepDoc is the document form of one execution step.
type StepDoc struct {
	Name                   string     `json:"name,omitempty" yaml:"name,omitempty"`
	Substeps               []*StepDoc `json:"substeps,omitempty" yaml:"substeps,omitempty"`
	Networks               []string   `json:"networks,omitempty" yaml:"networks,omitempty"`
	NumIter                int        `json:"num_iter,omitempty" yaml:"num_iter,omitempty"`
	Concurrent             bool       `json:"concurrent,omitempty" yaml:"concurrent,omitempty"`
	RunEveryMS             int64      `json:"run_every_ms,omitempty" yaml:"run_every_ms,omitempty"`
	ShouldStopBlob         string     `json:"should_stop_blob,omitempty" yaml:"should_stop_blob,omitempty"`
	OnlyOnce               bool       `json:"only_once,omitempty" yaml:"only_once,omitempty"`
	CreateWorkspace        bool       `json:"create_workspace,omitempty" yaml:"create_workspace,omitempty"`
	NumConcurrentInstances int        `json:"num_concurrent_instances,omitempty" yaml:"num_concurrent_instances,omitempty"`
}

// Loader parses and validates plan documents. Safe for concurrent use once
// constructed.
type Loader struct {
	registry  *networks.Registry
	docSchema *jsonschema.Schema
}

// NewLoader creates a Loader with the plan document schema pre-compiled. A
// nil registry uses the built-in network kinds.
func NewLoader(reg *networks.Registry) (*Loader, error) {
	if reg == nil {
		reg = networks.NewRegistry()
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	if err := c.AddResource(planSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}
	compiled, err := c.Compile(planSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	return &Loader{registry: reg, docSchema: compiled}, nil
}

// LoadFile loads a plan from a .json, .yaml, or .yml file.
func (l *Loader) LoadFile(path string) (*plan.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, plan.NewErrorf(plan.ErrCodeNotFound, "read plan file: %s", err.Error()).WithCause(err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return l.LoadJSON(data)
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	default:
		return nil, plan.NewErrorf(plan.ErrCodeValidation, "unsupported plan file extension %q", ext)
	}
}

// LoadJSON loads a plan from JSON bytes.
func (l *Loader) LoadJSON(data []byte) (*plan.Plan, error) {
	if err := l.validateDocument(data); err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, plan.NewErrorf(plan.ErrCodeValidation, "decode plan document: %s", err.Error()).WithCause(err)
	}
	return l.build(&doc)
}

// LoadYAML loads a plan from YAML bytes. The document is converted to JSON
// for schema validation, so the same schema governs both formats.
func (l *Loader) LoadYAML(data []byte) (*plan.Plan, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, plan.NewErrorf(plan.ErrCodeValidation, "decode plan document: %s", err.Error()).WithCause(err)
	}

	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, plan.NewErrorf(plan.ErrCodeValidation, "convert plan document: %s", err.Error()).WithCause(err)
	}
	return l.LoadJSON(jsonBytes)
}

// validateDocument checks the raw document against the plan JSON Schema.
func (l *Loader) validateDocument(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return plan.NewErrorf(plan.ErrCodeValidation, "parse plan document: %s", err.Error()).WithCause(err)
	}
	if err := l.docSchema.Validate(doc); err != nil {
		return toPlanError(err)
	}
	return nil
}

// build constructs the plan from a decoded document: networks first (so bad
// expressions fail before any step wiring), then the step tree, then the
// structural validation pass.
func (l *Loader) build(doc *Document) (*plan.Plan, error) {
	p := plan.New(doc.Name)

	for _, nd := range doc.Networks {
		n, err := l.registry.New(nd.Kind, nd.Config)
		if err != nil {
			if perr, ok := err.(*plan.Error); ok {
				return nil, perr.WithDetails(map[string]any{"network": nd.Name})
			}
			return nil, err
		}
		if err := p.AddNetwork(nd.Name, n); err != nil {
			return nil, err
		}
	}

	for _, sd := range doc.Steps {
		p.AddStep(toStep(sd))
	}

	if err := validation.ValidateForRun(p); err != nil {
		return nil, err
	}
	return p, nil
}

func toStep(sd *StepDoc) *plan.Step {
	st := &plan.Step{
		Name:                   sd.Name,
		Networks:               sd.Networks,
		NumIter:                sd.NumIter,
		Concurrent:             sd.Concurrent,
		RunEvery:               time.Duration(sd.RunEveryMS) * time.Millisecond,
		ShouldStopBlob:         sd.ShouldStopBlob,
		OnlyOnce:               sd.OnlyOnce,
		CreateWorkspace:        sd.CreateWorkspace,
		NumConcurrentInstances: sd.NumConcurrentInstances,
	}
	for _, sub := range sd.Substeps {
		st.Substeps = append(st.Substeps, toStep(sub))
	}
	return st
}

// toPlanError flattens a jsonschema.ValidationError tree into one structured
// error carrying every leaf violation with its document path.
func toPlanError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return plan.NewError(plan.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return plan.NewError(plan.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return plan.NewError(plan.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return plan.NewErrorf(plan.ErrCodeValidation, "plan document failed validation with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
