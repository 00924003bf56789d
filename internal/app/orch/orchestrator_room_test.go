package orch

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// checkInvariants verifies the registry and the room store agree: a bound
// connection is seated exactly once in its room, an unbound one nowhere.
func checkInvariants(t *testing.T, o *Orchestrator, conns []core.ConnID) {
	t.Helper()
	for _, info := range o.Rooms.List() {
		seen := map[domain.UserID]int{}
		for _, m := range members(t, o, info.ID) {
			seen[m.UserID]++
		}
		for uid, n := range seen {
			assert.Equal(t, 1, n, "room %s holds user %s %d times", info.ID, uid, n)
		}
	}

	for _, id := range conns {
		c, ok := o.Registry.Lookup(id)
		if !ok {
			continue
		}
		if c.Bound() {
			err := o.Rooms.Do(c.RoomID, false, func(r *core.Room) error {
				conn, ok := r.MemberConn(c.UserID)
				assert.True(t, ok, "bound %s missing from room %s", id, c.RoomID)
				assert.Equal(t, id, conn)
				return nil
			})
			assert.NoError(t, err, "bound %s points at a missing room", id)
			continue
		}
		for _, info := range o.Rooms.List() {
			_ = o.Rooms.Do(info.ID, false, func(r *core.Room) error {
				for _, m := range r.Members() {
					conn, _ := r.MemberConn(m.UserID)
					assert.NotEqual(t, id, conn, "unbound %s still seated in %s", id, info.ID)
				}
				return nil
			})
		}
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "a")
	connect(o, "b")
	join(t, o, "a", "R", "ua", "A")
	join(t, o, "b", "R", "ub", "B")

	o.OnDisconnect("b")
	afterFirst := len(a.Frames())
	snapFirst, _ := o.Rooms.Snapshot("R")

	o.OnDisconnect("b")
	snapSecond, _ := o.Rooms.Snapshot("R")
	assert.Equal(t, afterFirst, len(a.Frames()), "second disconnect must not emit events")
	assert.Equal(t, snapFirst, snapSecond)
	assert.Equal(t, 1, o.Registry.Count())
}

func TestLeave_KeepsConnectionAndConfirms(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "a")
	b := connect(o, "b")
	join(t, o, "a", "R", "ua", "A")
	join(t, o, "b", "R", "ub", "B")
	a.Reset()

	o.Leave("b")
	o.Leave("b")

	left := b.OfType(core.EvRoomLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "R", left[0].RoomID)
	c, ok := o.Registry.Lookup("b")
	require.True(t, ok)
	assert.False(t, c.Bound())

	assert.Equal(t, []string{"user_list_update", "new_message", "peer_list_update"}, a.Types())
	assert.Len(t, members(t, o, "R"), 1)

	// The same connection can come back.
	join(t, o, "b", "R", "ub", "B")
	assert.Len(t, members(t, o, "R"), 2)
}

// captureLog redirects the global logger into a buffer for one test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLeave_LogsOnlyRealDepartures(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "a")
	o.Registry.Bind("a", "ua", "A", "gone", "")
	buf := captureLog(t)

	o.Leave("a")
	assert.Contains(t, buf.String(), "stale room binding")
	assert.NotContains(t, buf.String(), `"left room"`)
	assert.Zero(t, o.Metrics.Get(metrics.MembersLeft))

	join(t, o, "a", "R", "ua", "A")
	buf.Reset()
	o.Leave("a")
	assert.Contains(t, buf.String(), `"left room"`)
}

func TestLeave_LastMemberDeletesRoom(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "a")
	join(t, o, "a", "R", "ua", "A")
	o.Leave("a")
	assert.False(t, o.Rooms.Exists("R"))
}

func TestJoin_SameConnectionTwiceDoesNotDuplicate(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "a")
	join(t, o, "a", "R", "ua", "A")
	require.NoError(t, o.Join("a", JoinRequest{RoomID: "R", UserID: "ua", UserName: "Alice", EndpointID: "peer-a"}))

	ms := members(t, o, "R")
	require.Len(t, ms, 1)
	assert.Equal(t, "Alice", ms[0].Name)
	assert.Equal(t, "peer-a", ms[0].EndpointID)
	assert.True(t, ms[0].IsCreator)
	assert.Empty(t, a.OfType(core.EvNewMessage), "re-join is silent")
}

func TestJoin_SameUserNewConnectionReplacesOld(t *testing.T) {
	o := newTestOrch(t)
	old := connect(o, "old")
	fresh := connect(o, "new")
	connect(o, "b")
	join(t, o, "old", "R", "ua", "A")
	join(t, o, "b", "R", "ub", "B")

	join(t, o, "new", "R", "ua", "A")

	ms := members(t, o, "R")
	require.Len(t, ms, 2)
	e, ok := old.Last(core.EvError)
	require.True(t, ok)
	assert.Equal(t, core.CodeSessionReplaced, e.Code)
	_, ok = fresh.Last(core.EvRoomJoined)
	assert.True(t, ok)

	c, _ := o.Registry.Lookup("old")
	assert.False(t, c.Bound())

	// The stale socket going away must not evict the user.
	o.OnDisconnect("old")
	assert.Len(t, members(t, o, "R"), 2)
	checkInvariants(t, o, []core.ConnID{"old", "new", "b"})
}

func TestJoin_SwitchRoomLeavesPrevious(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "a")
	b := connect(o, "b")
	join(t, o, "a", "R1", "ua", "A")
	join(t, o, "b", "R1", "ub", "B")
	b.Reset()

	join(t, o, "a", "R2", "ua", "A")

	assert.Len(t, members(t, o, "R1"), 1)
	assert.Len(t, members(t, o, "R2"), 1)
	msg, ok := b.Last(core.EvNewMessage)
	require.True(t, ok)
	assert.Equal(t, "A left the room", msg.ChatMessage().Text)
	checkInvariants(t, o, []core.ConnID{"a", "b"})
}

func TestUpdateEndpoint_BroadcastsPeerList(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "a")
	b := connect(o, "b")
	join(t, o, "a", "R", "ua", "A")
	join(t, o, "b", "R", "ub", "B")
	a.Reset()
	b.Reset()

	o.UpdateEndpoint("b", "peer-b")
	o.UpdateEndpoint("a", "peer-a")

	for _, c := range []interface{ Types() []string }{a, b} {
		assert.Equal(t, []string{"peer_list_update", "peer_list_update"}, c.Types())
	}
	last, _ := a.Last(core.EvPeerListUpdate)
	assert.Equal(t, []string{"peer-a", "peer-b"}, last.EndpointIDs, "join order, not update order")
}

func TestUpdateEndpoint_BeforeJoinCarriesOver(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "a")
	o.UpdateEndpoint("a", "peer-a")
	assert.Empty(t, a.Frames())
	join(t, o, "a", "R", "ua", "A")
	ms := members(t, o, "R")
	require.Len(t, ms, 1)
	assert.Equal(t, "peer-a", ms[0].EndpointID)
	pl, ok := a.Last(core.EvPeerListUpdate)
	require.True(t, ok)
	assert.Equal(t, []string{"peer-a"}, pl.EndpointIDs)
}

func TestConcurrentMembership_Invariants(t *testing.T) {
	o := newTestOrch(t)
	const clients = 24
	rooms := []domain.RoomID{"r1", "r2", "r3"}

	ids := make([]core.ConnID, clients)
	for i := range ids {
		ids[i] = core.ConnID(fmt.Sprintf("c%d", i))
		connect(o, ids[i])
	}

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(i), 7))
			// A few clients share a user id to exercise session replacement.
			uid := domain.UserID(fmt.Sprintf("u%d", i%(clients-4)))
			for range 150 {
				room := rooms[rng.IntN(len(rooms))]
				switch rng.IntN(4) {
				case 0, 1:
					if err := o.Join(id, JoinRequest{RoomID: room, UserID: uid, UserName: string(uid)}); err != nil {
						return err
					}
				case 2:
					o.Leave(id)
				case 3:
					_ = o.SendText(id, "hello")
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	checkInvariants(t, o, ids)

	for _, info := range o.Rooms.List() {
		assert.GreaterOrEqual(t, info.MemberCount, 1)
	}

	var g2 errgroup.Group
	for _, id := range ids {
		g2.Go(func() error {
			o.OnDisconnect(id)
			o.OnDisconnect(id)
			return nil
		})
	}
	require.NoError(t, g2.Wait())
	assert.Zero(t, o.Rooms.Len(), "no room survives its last member")
	assert.Zero(t, o.Registry.Count())
}
