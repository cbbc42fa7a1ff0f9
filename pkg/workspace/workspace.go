// Package workspace provides the hierarchical blob store shared by networks
// and the step executor. Lookups read through to the parent scope; writes
// always land in the local scope, so sibling child workspaces never observe
// each other's writes.
package workspace

import "sync"

// Workspace maps blob names to values with an optional parent scope.
// All methods are safe for concurrent use.
type Workspace struct {
	parent *Workspace

	mu    sync.RWMutex
	blobs map[string]any
}

// New creates an empty root workspace.
func New() *Workspace {
	return &Workspace{blobs: make(map[string]any)}
}

// Child creates a new workspace whose lookups fall back to this one.
func (w *Workspace) Child() *Workspace {
	return &Workspace{parent: w, blobs: make(map[string]any)}
}

// Parent returns the enclosing scope, or nil for the root.
func (w *Workspace) Parent() *Workspace {
	return w.parent
}

// Get returns the blob value, falling through to ancestor scopes when the
// name is absent locally.
func (w *Workspace) Get(name string) (any, bool) {
	w.mu.RLock()
	v, ok := w.blobs[name]
	w.mu.RUnlock()
	if ok {
		return v, true
	}
	if w.parent != nil {
		return w.parent.Get(name)
	}
	return nil, false
}

// Set writes a blob into the local scope, shadowing any ancestor value.
func (w *Workspace) Set(name string, value any) {
	w.mu.Lock()
	w.blobs[name] = value
	w.mu.Unlock()
}

// Has reports whether the blob is visible from this scope.
func (w *Workspace) Has(name string) bool {
	_, ok := w.Get(name)
	return ok
}

// Local reports whether the blob exists in this scope, ignoring ancestors.
func (w *Workspace) Local(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.blobs[name]
	return ok
}

// Snapshot returns the merged view of all blobs visible from this scope,
// with local values shadowing ancestor values.
func (w *Workspace) Snapshot() map[string]any {
	var merged map[string]any
	if w.parent != nil {
		merged = w.parent.Snapshot()
	} else {
		merged = make(map[string]any)
	}

	w.mu.RLock()
	for k, v := range w.blobs {
		merged[k] = v
	}
	w.mu.RUnlock()
	return merged
}
