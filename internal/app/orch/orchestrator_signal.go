package orch

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

// RelayDirected forwards an offer, answer or ICE candidate to one member of
// the sender's room. The target is a user id, or a connection handle bound
// to the same room. Unknown targets are dropped without telling the sender.
// Signaling never mutates a room, so it resolves through the registry and
// does not take the room lock.
func (o *Orchestrator) RelayDirected(id core.ConnID, to string, kind core.EventType, payload json.RawMessage) error {
	if !core.IsDirectedKind(kind) {
		return fmt.Errorf("relay %q: %w", kind, core.ErrMalformedEnvelope)
	}
	c, ok := o.bound(id)
	if !ok {
		return core.ErrNotInRoom
	}
	frame, err := core.Encode(core.DirectedSignal{Type: kind, From: c.UserID, FromName: c.Name, Payload: payload})
	if err != nil {
		return err
	}

	target, ok := o.resolveTarget(c, to)
	if ok {
		err = o.Fanout.Unicast(target, frame)
		switch {
		case err == nil:
		case isClosed(err):
			// The target left between lookup and send.
			ok = false
		default:
			o.applyPolicy(c.RoomID, core.PublishResult{Dropped: []core.ConnID{target}})
		}
	}
	if !ok {
		o.Metrics.Inc(metrics.DropInvalidTarget)
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("to", to).Str("type", string(kind)).Msg("signal target not in room")
		return core.ErrInvalidTarget
	}
	o.Metrics.Inc(metrics.SignalsDirected)
	return nil
}

// resolveTarget maps a user id, or a connection handle bound to the sender's
// room, to the connection currently bound for it. The sender itself is never
// a valid target.
func (o *Orchestrator) resolveTarget(from app.Connection, to string) (core.ConnID, bool) {
	if to == "" {
		return "", false
	}
	if conn, ok := o.Registry.FindByUserID(from.RoomID, domain.UserID(to)); ok {
		return conn, conn != from.ID
	}
	c, ok := o.Registry.Lookup(core.ConnID(to))
	if !ok || c.RoomID != from.RoomID || c.ID == from.ID {
		return "", false
	}
	return c.ID, true
}

// RelayRoomWide forwards a call invite, accept or reject to every other
// member of the sender's room.
func (o *Orchestrator) RelayRoomWide(id core.ConnID, kind core.EventType, payload json.RawMessage) error {
	if !core.IsCallKind(kind) {
		return fmt.Errorf("relay %q: %w", kind, core.ErrMalformedEnvelope)
	}
	c, ok := o.bound(id)
	if !ok {
		return core.ErrNotInRoom
	}
	res := o.broadcast(c.RoomID, core.CallSignal{Type: kind, From: senderOf(c), Payload: payload}, id)
	o.applyPolicy(c.RoomID, res)
	o.Metrics.Inc(metrics.SignalsRoomWide)
	return nil
}

// JoinCall adds the caller to its room's call and announces the new
// participant set to every member, the caller included. Joining twice is a
// no-op.
func (o *Orchestrator) JoinCall(id core.ConnID) error {
	c, ok := o.bound(id)
	if !ok {
		o.SendError(id, core.CodeNotInRoom, "join a room before joining the call")
		return core.ErrNotInRoom
	}
	return o.inRoom(c, func(room *core.Room) core.PublishResult {
		if !room.JoinCall(c.UserID) {
			return core.PublishResult{}
		}
		o.Metrics.Inc(metrics.CallsJoined)
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(c.RoomID)).Msg("joined call")
		return o.broadcast(room.ID(), core.VoiceUserJoined{UserID: c.UserID, UserName: c.Name, Participants: room.CallParticipants()}, "")
	})
}

// LeaveCall takes the caller out of its room's call. Leaving the room does
// the same implicitly.
func (o *Orchestrator) LeaveCall(id core.ConnID) error {
	c, ok := o.bound(id)
	if !ok {
		return core.ErrNotInRoom
	}
	return o.inRoom(c, func(room *core.Room) core.PublishResult {
		if !room.LeaveCall(c.UserID) {
			return core.PublishResult{}
		}
		o.Metrics.Inc(metrics.CallsLeft)
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(c.RoomID)).Msg("left call")
		return o.broadcast(room.ID(), core.VoiceUserLeft{UserID: c.UserID, Participants: room.CallParticipants()}, "")
	})
}
