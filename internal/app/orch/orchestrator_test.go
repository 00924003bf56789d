package orch

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/core/coretest"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrch(t *testing.T) *Orchestrator {
	t.Helper()
	return New(app.NewRegistry(), core.NewRoomStore(0), app.SimplePolicy{}, DefaultLimits(), metrics.New())
}

func connect(o *Orchestrator, id core.ConnID) *coretest.Conn {
	c := coretest.NewConn()
	o.Connect(id, c, nil)
	return c
}

func join(t *testing.T, o *Orchestrator, id core.ConnID, room domain.RoomID, uid domain.UserID, name string) {
	t.Helper()
	require.NoError(t, o.Join(id, JoinRequest{RoomID: room, UserID: uid, UserName: name}))
}

func members(t *testing.T, o *Orchestrator, room domain.RoomID) []domain.Member {
	t.Helper()
	snap, ok := o.Rooms.Snapshot(room)
	if !ok {
		return nil
	}
	return snap.Members
}

func TestEndToEnd_TwoUsersChatAndLeave(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "conn-a")
	b := connect(o, "conn-b")

	// A creates the room.
	require.NoError(t, o.Join("conn-a", JoinRequest{RoomID: "R", UserID: "ua", UserName: "A", IsCreator: true}))
	snap, ok := o.Rooms.Snapshot("R")
	require.True(t, ok)
	require.Len(t, snap.Members, 1)
	assert.True(t, snap.Members[0].IsCreator)
	assert.Empty(t, snap.Messages, "no system message for the creator")
	assert.Empty(t, a.OfType(core.EvNewMessage))
	a.Reset()

	// B joins.
	join(t, o, "conn-b", "R", "ub", "B")

	joined, ok := b.Last(core.EvRoomJoined)
	require.True(t, ok)
	require.NotNil(t, joined.Room)
	assert.Empty(t, joined.Room.Messages)
	assert.Len(t, joined.Room.Members, 2)

	for _, c := range []*coretest.Conn{a, b} {
		ul, ok := c.Last(core.EvUserListUpdate)
		require.True(t, ok)
		assert.Len(t, ul.Members, 2)
	}
	sys, ok := a.Last(core.EvNewMessage)
	require.True(t, ok)
	assert.Equal(t, domain.MessageSystem, sys.ChatMessage().Kind)
	assert.Equal(t, "B joined the room", sys.ChatMessage().Text)
	assert.Equal(t, domain.SystemSender, sys.ChatMessage().Sender)
	assert.Empty(t, b.OfType(core.EvRoomJoined)[0].Room.Messages)

	// A says hi.
	a.Reset()
	b.Reset()
	require.NoError(t, o.SendText("conn-a", "hi"))
	for _, c := range []*coretest.Conn{a, b} {
		msgs := c.OfType(core.EvNewMessage)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi", msgs[0].ChatMessage().Text)
		assert.Equal(t, domain.Sender{ID: "ua", Name: "A"}, msgs[0].ChatMessage().Sender)
	}

	// B drops.
	a.Reset()
	o.OnDisconnect("conn-b")
	ul, ok := a.Last(core.EvUserListUpdate)
	require.True(t, ok)
	require.Len(t, ul.Members, 1)
	assert.Equal(t, domain.UserID("ua"), ul.Members[0].UserID)
	left, ok := a.Last(core.EvNewMessage)
	require.True(t, ok)
	assert.Equal(t, "B left the room", left.ChatMessage().Text)

	// A drops; the room disappears.
	o.OnDisconnect("conn-a")
	assert.False(t, o.Rooms.Exists("R"))
	assert.Zero(t, o.Registry.Count())
	assert.EqualValues(t, 1, o.Metrics.Get(metrics.RoomsCreated))
	assert.EqualValues(t, 1, o.Metrics.Get(metrics.RoomsDeleted))
}

func TestJoin_EventOrder(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "a")
	b := connect(o, "b")
	join(t, o, "a", "R", "ua", "A")
	join(t, o, "b", "R", "ub", "B")

	assert.Equal(t, []string{"room_joined", "user_list_update", "new_message", "peer_list_update"}, b.Types())
}

func TestJoin_WithoutPeerDiscovery(t *testing.T) {
	o := newTestOrch(t)
	o.Limits.PeerDiscovery = false
	a := connect(o, "a")
	join(t, o, "a", "R", "ua", "A")
	assert.Equal(t, []string{"room_joined", "user_list_update"}, a.Types())
}

func TestJoin_InvalidRequest(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "a")

	err := o.Join("a", JoinRequest{RoomID: "R", UserID: "ua", UserName: ""})
	assert.ErrorIs(t, err, domain.ErrUsernameEmpty)
	err = o.Join("a", JoinRequest{RoomID: "", UserID: "ua", UserName: "A"})
	assert.ErrorIs(t, err, domain.ErrRoomIDEmpty)

	errs := a.OfType(core.EvError)
	require.Len(t, errs, 2)
	assert.Equal(t, core.CodeBadPayload, errs[0].Code)
	assert.Zero(t, o.Rooms.Len())
}

func TestJoin_UnknownConnection(t *testing.T) {
	o := newTestOrch(t)
	err := o.Join("ghost", JoinRequest{RoomID: "R", UserID: "u", UserName: "U"})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.False(t, o.Rooms.Exists("R"))
}

func TestWhoAmIAndPong(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "a")
	o.Pong("a")
	o.WhoAmI("a")
	join(t, o, "a", "R", "ua", "A")
	o.WhoAmI("a")

	assert.Len(t, a.OfType(core.EvPong), 1)
	who := a.OfType(core.EvWhoAmI)
	require.Len(t, who, 2)
	assert.Equal(t, "a", who[0].ConnID)
	assert.Empty(t, who[0].RoomID)
	assert.Equal(t, "R", who[1].RoomID)
	assert.Equal(t, "ua", who[1].UserID)
}

func TestBackpressure_KickPolicy(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "a")
	// Joining fills four slots; the second text overflows.
	slow := &coretest.Conn{Cap: 5}
	canceled := false
	o.Connect("slow", slow, func() { canceled = true })
	join(t, o, "a", "R", "ua", "A")
	join(t, o, "slow", "R", "us", "S")

	for i := range 5 {
		require.NoError(t, o.SendText("a", string(rune('a'+i))))
	}
	assert.True(t, slow.Closed())
	assert.True(t, canceled)
	assert.Positive(t, o.Metrics.Get(metrics.SlowConsumerKicked))

	// The transport reports the disconnect afterwards.
	o.OnDisconnect("slow")
	assert.Len(t, members(t, o, "R"), 1)
}

func TestBackpressure_DropPolicy(t *testing.T) {
	o := newTestOrch(t)
	o.Policy = app.DropPolicy{}
	connect(o, "a")
	slow := &coretest.Conn{Cap: 5}
	o.Connect("slow", slow, nil)
	join(t, o, "a", "R", "ua", "A")
	join(t, o, "slow", "R", "us", "S")

	for range 5 {
		require.NoError(t, o.SendText("a", "x"))
	}
	assert.False(t, slow.Closed())
	assert.Len(t, members(t, o, "R"), 2)
	assert.Positive(t, o.Metrics.Get(metrics.FramesDropped))
}

func TestPayloadForwardedVerbatim(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "a")
	b := connect(o, "b")
	join(t, o, "a", "R", "ua", "A")
	join(t, o, "b", "R", "ub", "B")

	payload := json.RawMessage(`{"type":"offer",  "sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`)
	require.NoError(t, o.RelayDirected("a", "ub", core.EvOffer, payload))

	got, ok := b.Last(core.EvOffer)
	require.True(t, ok)
	assert.Equal(t, string(payload), string(got.Payload))
	assert.JSONEq(t, `"ua"`, string(got.From))
	assert.Equal(t, "A", got.FromName)
}
