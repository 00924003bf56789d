package app

import (
	"testing"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/core/coretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BindUnbind(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", coretest.NewConn(), nil)
	r.Register("c2", coretest.NewConn(), nil)

	require.True(t, r.Bind("c1", "u1", "A", "room", "ep1"))
	require.True(t, r.Bind("c2", "u2", "B", "room", ""))
	assert.False(t, r.Bind("missing", "u", "X", "room", ""))

	id, ok := r.FindByUserID("room", "u2")
	require.True(t, ok)
	assert.Equal(t, core.ConnID("c2"), id)
	_, ok = r.FindByUserID("other", "u2")
	assert.False(t, ok)

	assert.Len(t, r.ConnectionsInRoom("room"), 2)

	prev, ok := r.Unbind("c1")
	require.True(t, ok)
	assert.Equal(t, "room", string(prev.RoomID))
	c, ok := r.Lookup("c1")
	require.True(t, ok, "unbind keeps the connection registered")
	assert.False(t, c.Bound())
	assert.Equal(t, "ep1", c.EndpointID)
	assert.Len(t, r.ConnectionsInRoom("room"), 1)

	// Idempotent.
	_, ok = r.Unbind("c1")
	assert.True(t, ok)
	assert.Len(t, r.ConnectionsInRoom("room"), 1)
}

func TestRegistry_RebindMovesIndex(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", coretest.NewConn(), nil)
	r.Bind("c1", "u1", "A", "r1", "")
	r.Bind("c1", "u1", "A", "r2", "")
	assert.Empty(t, r.ConnectionsInRoom("r1"))
	assert.Len(t, r.ConnectionsInRoom("r2"), 1)
}

func TestRegistry_UnregisterAndCancel(t *testing.T) {
	r := NewRegistry()
	conn := coretest.NewConn()
	canceled := false
	r.Register("c1", conn, func() { canceled = true })
	r.Bind("c1", "u1", "A", "r1", "")

	assert.True(t, r.Cancel("c1"))
	assert.True(t, canceled)
	assert.True(t, conn.Closed())

	_, ok := r.Unregister("c1")
	assert.True(t, ok)
	_, ok = r.Unregister("c1")
	assert.False(t, ok)
	assert.False(t, r.Cancel("c1"))
	assert.Empty(t, r.ConnectionsInRoom("r1"))
	assert.Zero(t, r.Count())
}

func TestRegistry_UpdateEndpoint(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", coretest.NewConn(), nil)
	assert.True(t, r.UpdateEndpoint("c1", "peer-1"))
	assert.False(t, r.UpdateEndpoint("nope", "peer-1"))
	c, _ := r.Lookup("c1")
	assert.Equal(t, "peer-1", c.EndpointID)
}
