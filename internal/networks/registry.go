package networks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/veyra/planrun/pkg/plan"
)

// Factory builds a network from its document configuration.
type Factory func(cfg map[string]any) (plan.Network, error)

// Registry maps network kinds to factories. Thread-safe.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	registerBuiltins(r)
	return r
}

// Register adds a factory under a kind. Returns an error on duplicate kind.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" {
		return plan.NewError(plan.ErrCodeValidation, "network kind is empty")
	}
	if f == nil {
		return plan.NewErrorf(plan.ErrCodeValidation, "factory for kind %q is nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return plan.NewErrorf(plan.ErrCodeConflict, "network kind %q already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// New builds a network of the given kind.
func (r *Registry) New(kind string, cfg map[string]any) (plan.Network, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, plan.NewErrorf(plan.ErrCodeNotFound, "network kind %q not registered", kind)
	}
	return f(cfg)
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func registerBuiltins(r *Registry) {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.Register("expr", func(cfg map[string]any) (plan.Network, error) {
		program, err := stringField(cfg, "program")
		if err != nil {
			return nil, err
		}
		output, err := stringField(cfg, "output")
		if err != nil {
			return nil, err
		}
		return NewExpr(program, output)
	}))

	must(r.Register("jq", func(cfg map[string]any) (plan.Network, error) {
		query, err := stringField(cfg, "query")
		if err != nil {
			return nil, err
		}
		input, err := stringField(cfg, "input")
		if err != nil {
			return nil, err
		}
		output, err := stringField(cfg, "output")
		if err != nil {
			return nil, err
		}
		return NewJQ(query, input, output)
	}))

	must(r.Register("set", func(cfg map[string]any) (plan.Network, error) {
		blobs, ok := cfg["blobs"].(map[string]any)
		if !ok || len(blobs) == 0 {
			return nil, plan.NewError(plan.ErrCodeValidation, "set network requires a non-empty blobs map")
		}
		return NewSet(blobs), nil
	}))

	must(r.Register("sleep", func(cfg map[string]any) (plan.Network, error) {
		ms, err := numberField(cfg, "duration_ms")
		if err != nil {
			return nil, err
		}
		if ms < 0 {
			return nil, plan.NewError(plan.ErrCodeValidation, "sleep duration_ms must be non-negative")
		}
		return NewSleep(time.Duration(ms) * time.Millisecond), nil
	}))
}

func stringField(cfg map[string]any, key string) (string, error) {
	v, ok := cfg[key]
	if !ok {
		return "", plan.NewErrorf(plan.ErrCodeValidation, "missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", plan.NewErrorf(plan.ErrCodeValidation, "field %q must be a non-empty string", key)
	}
	return s, nil
}

// numberField accepts the numeric types JSON and YAML decoders produce.
func numberField(cfg map[string]any, key string) (float64, error) {
	v, ok := cfg[key]
	if !ok {
		return 0, plan.NewErrorf(plan.ErrCodeValidation, "missing required field %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, plan.NewErrorf(plan.ErrCodeValidation,
			"field %q must be a number, got %s", key, fmt.Sprintf("%T", v))
	}
}
