package plan

import (
	"context"
	"time"

	"github.com/veyra/planrun/pkg/workspace"
)

// Network is a named, stateful, runnable computation graph. The scheduler
// treats it as opaque: it must be safely callable repeatedly and must read
// and write blobs only through the supplied workspace.
type Network interface {
	Run(ctx context.Context, ws *workspace.Workspace) error
}

// Step is one node of the execution tree. A step either composes substeps or
// invokes networks by name; setting both (or neither) is rejected at
// validation time, before any execution begins.
type Step struct {
	// Name is an optional label used in diagnostics and events.
	Name string `json:"name,omitempty"`

	// Substeps are nested steps run as this step's body.
	Substeps []*Step `json:"substeps,omitempty"`

	// Networks are names of plan networks invoked in order as the body.
	// Network lists always run sequentially within one step.
	Networks []string `json:"networks,omitempty"`

	// NumIter is the repeat count for the body. Zero means unset (one pass).
	NumIter int `json:"num_iter,omitempty"`

	// Concurrent runs substeps as parallel tasks instead of in order.
	Concurrent bool `json:"concurrent,omitempty"`

	// RunEvery, when positive, turns this step into an interval step: it runs
	// on a repeating timer alongside its non-interval siblings and is
	// guaranteed one final pass after they finish.
	RunEvery time.Duration `json:"run_every_ms,omitempty"`

	// ShouldStopBlob names a boolean workspace blob checked after each full
	// pass of the body. True stops this step's remaining iterations and
	// propagates a stopped outcome upward.
	ShouldStopBlob string `json:"should_stop_blob,omitempty"`

	// OnlyOnce restricts the step to a single pass regardless of NumIter.
	// Meaningful only together with ShouldStopBlob.
	OnlyOnce bool `json:"only_once,omitempty"`

	// CreateWorkspace gives each body pass a fresh child workspace, so state
	// does not persist across iterations.
	CreateWorkspace bool `json:"create_workspace,omitempty"`

	// NumConcurrentInstances runs that many independent parallel copies of
	// this step's subtree, each with its own workspace lineage. Zero or one
	// means a single instance.
	NumConcurrentInstances int `json:"num_concurrent_instances,omitempty"`
}

// Iterations returns the effective iteration bound for the step.
func (s *Step) Iterations() int {
	if s.OnlyOnce && s.ShouldStopBlob != "" {
		return 1
	}
	if s.NumIter <= 0 {
		return 1
	}
	return s.NumIter
}

// Instances returns the effective concurrent-instance fan-out.
func (s *Step) Instances() int {
	if s.NumConcurrentInstances <= 1 {
		return 1
	}
	return s.NumConcurrentInstances
}

// IsInterval reports whether the step runs on a repeating timer.
func (s *Step) IsInterval() bool {
	return s.RunEvery > 0
}

// Plan is the top-level execution unit: an ordered registry of named networks
// plus a tree of execution steps. A Plan is built once and treated as
// immutable after it is handed to the executor.
type Plan struct {
	Name  string
	Steps []*Step

	networks map[string]Network
	order    []string
}

// New creates an empty plan.
func New(name string) *Plan {
	return &Plan{
		Name:     name,
		networks: make(map[string]Network),
	}
}

// AddNetwork registers a network under a unique name.
func (p *Plan) AddNetwork(name string, n Network) error {
	if name == "" {
		return NewError(ErrCodeValidation, "network name is empty")
	}
	if n == nil {
		return NewErrorf(ErrCodeValidation, "network %q is nil", name)
	}
	if _, exists := p.networks[name]; exists {
		return NewErrorf(ErrCodeConflict, "network %q already registered", name)
	}
	// Tolerate zero-value plans built without New.
	if p.networks == nil {
		p.networks = make(map[string]Network)
	}
	p.networks[name] = n
	p.order = append(p.order, name)
	return nil
}

// AddStep appends a top-level step.
func (p *Plan) AddStep(s *Step) *Plan {
	p.Steps = append(p.Steps, s)
	return p
}

// Network resolves a network by name.
func (p *Plan) Network(name string) (Network, error) {
	n, ok := p.networks[name]
	if !ok {
		return nil, NewErrorf(ErrCodeUnknownNetwork, "network %q not registered", name)
	}
	return n, nil
}

// HasNetwork reports whether a network name is registered.
func (p *Plan) HasNetwork(name string) bool {
	_, ok := p.networks[name]
	return ok
}

// NetworkNames returns the registered network names in registration order.
func (p *Plan) NetworkNames() []string {
	names := make([]string, len(p.order))
	copy(names, p.order)
	return names
}
