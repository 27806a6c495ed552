package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry()
	a := newMockConnection("a")
	b := newMockConnection("b")

	assert.True(t, r.Register(a))
	assert.False(t, r.Register(a), "registering the same connection twice is a no-op")
	assert.True(t, r.Register(b))
	assert.Equal(t, 2, r.Count())

	assert.True(t, r.Unregister(a))
	assert.False(t, r.Unregister(a), "second unregister is a no-op")
	assert.Equal(t, 1, r.Count())

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Same(t, b, snap[0])
}

func TestRegistry_UnregisterChecksIdentity(t *testing.T) {
	r := NewRegistry()
	original := newMockConnection("same-id")
	impostor := newMockConnection("same-id")
	r.Register(original)

	assert.False(t, r.Unregister(impostor))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_SnapshotIsIndependent(t *testing.T) {
	r := NewRegistry()
	r.Register(newMockConnection("a"))
	r.Register(newMockConnection("b"))

	snap := r.Snapshot()
	r.Register(newMockConnection("c"))

	assert.Len(t, snap, 2)
	assert.Equal(t, 3, r.Count())
}

func TestRegistry_RemoveClosed(t *testing.T) {
	r := NewRegistry()
	open := newMockConnection("open")
	closed := newMockConnection("closed")
	r.Register(open)
	r.Register(closed)
	closed.Close()

	removed := r.RemoveClosed()

	assert.Len(t, removed, 1)
	assert.Equal(t, "closed", removed[0].ID())
	assert.NotContains(t, r.Snapshot(), closed)
	assert.Equal(t, 1, r.Count())
}
