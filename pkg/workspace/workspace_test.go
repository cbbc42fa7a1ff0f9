package workspace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	ws := New()
	ws.Set("x", 42)

	v, ok := ws.Get("x")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = ws.Get("missing")
	assert.False(t, ok)
}

func TestChildReadsThroughToParent(t *testing.T) {
	parent := New()
	parent.Set("shared", "from-parent")

	child := parent.Child()

	v, ok := child.Get("shared")
	require.True(t, ok)
	assert.Equal(t, "from-parent", v)
}

func TestChildWritesStayLocal(t *testing.T) {
	parent := New()
	child := parent.Child()

	child.Set("local", true)

	_, ok := parent.Get("local")
	assert.False(t, ok, "child write must not leak into parent")

	v, ok := child.Get("local")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestChildShadowsParentBlob(t *testing.T) {
	parent := New()
	parent.Set("x", 1)

	child := parent.Child()
	child.Set("x", 2)

	v, _ := child.Get("x")
	assert.Equal(t, 2, v)

	v, _ = parent.Get("x")
	assert.Equal(t, 1, v, "shadowing must not modify the parent")
}

func TestLookupWalksFullChain(t *testing.T) {
	root := New()
	root.Set("depth", 0)

	grandchild := root.Child().Child()

	v, ok := grandchild.Get("depth")
	require.True(t, ok)
	assert.Equal(t, 0, v)
}

func TestHasAndLocal(t *testing.T) {
	parent := New()
	parent.Set("p", 1)

	child := parent.Child()
	child.Set("c", 2)

	assert.True(t, child.Has("p"))
	assert.True(t, child.Has("c"))

	assert.False(t, child.Local("p"), "Local must not fall through to parent")
	assert.True(t, child.Local("c"))
}

func TestSnapshotMergesWithLocalWins(t *testing.T) {
	parent := New()
	parent.Set("a", 1)
	parent.Set("b", 1)

	child := parent.Child()
	child.Set("b", 2)
	child.Set("c", 3)

	snap := child.Snapshot()
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, snap)
}

func TestConcurrentSiblingWritesDoNotRace(t *testing.T) {
	parent := New()
	parent.Set("seed", "s")

	const n = 16
	children := make([]*Workspace, n)
	for i := range children {
		children[i] = parent.Child()
	}

	var wg sync.WaitGroup
	for i, c := range children {
		wg.Add(1)
		go func(idx int, ws *Workspace) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ws.Set("k", idx)
				_, _ = ws.Get("seed")
			}
		}(i, c)
	}
	wg.Wait()

	_, ok := parent.Get("k")
	assert.False(t, ok)
}
