package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

// JoinRequest carries the identity a connection claims when entering a room.
type JoinRequest struct {
	RoomID     domain.RoomID
	UserID     domain.UserID
	UserName   string
	IsCreator  bool
	EndpointID string
}

func (r JoinRequest) Validate() error {
	if err := domain.ValidateRoomID(r.RoomID); err != nil {
		return fmt.Errorf("roomId: %w", err)
	}
	if err := domain.ValidateUserID(r.UserID); err != nil {
		return fmt.Errorf("userId: %w", err)
	}
	if err := domain.ValidateUsername(r.UserName); err != nil {
		return fmt.Errorf("userName: %w", err)
	}
	return nil
}

// Join binds the connection to a room, creating the room on first join.
// A connection already bound elsewhere leaves its old room first.
func (o *Orchestrator) Join(id core.ConnID, req JoinRequest) error {
	if err := req.Validate(); err != nil {
		o.SendError(id, core.CodeBadPayload, err.Error())
		return err
	}
	c, ok := o.Registry.Lookup(id)
	if !ok {
		return core.ErrNotFound
	}
	if c.Bound() && (c.RoomID != req.RoomID || c.UserID != req.UserID) {
		o.leave(id)
	}
	// An endpoint announced before joining carries over.
	if req.EndpointID == "" {
		req.EndpointID = c.EndpointID
	}

	var (
		res      core.PublishResult
		replaced core.ConnID
	)
	err := o.Rooms.Do(req.RoomID, true, func(room *core.Room) error {
		first := room.MemberCount() == 0
		_, rejoin := room.Member(req.UserID)

		if rejoin {
			prev, _ := room.UpdateMember(req.UserID, req.UserName, req.EndpointID, id)
			if prev != id {
				replaced = prev
				o.Registry.Unbind(prev)
			}
		} else {
			room.AddMember(*domain.NewMember(req.UserID, req.UserName, req.IsCreator || first, req.EndpointID), id)
		}
		o.Registry.Bind(id, req.UserID, req.UserName, req.RoomID, req.EndpointID)

		res.Merge(o.unicast(id, core.RoomJoined{Room: room.Snapshot()}))

		var joined *domain.Message
		if !first && !rejoin {
			msg := domain.NewSystemMessage(domain.JoinedText(req.UserName))
			room.AppendMessage(msg)
			joined = &msg
		}
		res.Merge(o.broadcast(room.ID(), core.UserListUpdate{Members: room.Members()}, ""))
		if joined != nil {
			res.Merge(o.broadcast(room.ID(), core.NewMessage{Message: *joined}, ""))
		}
		if o.Limits.PeerDiscovery {
			res.Merge(o.broadcast(room.ID(), core.PeerListUpdate{EndpointIDs: room.EndpointIDs()}, ""))
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.Metrics.Inc(metrics.MembersJoined)
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("user", string(req.UserID)).Str("room", string(req.RoomID)).Msg("joined room")

	if replaced != "" {
		o.Metrics.Inc(metrics.DropSessionReplaced)
		o.SendError(replaced, core.CodeSessionReplaced, "joined from another connection")
	}
	o.applyPolicy(req.RoomID, res)
	return nil
}

// Leave takes the connection out of its room and confirms with room_left.
// The connection stays open and may join again.
func (o *Orchestrator) Leave(id core.ConnID) {
	if roomID, ok := o.leave(id); ok {
		o.send(id, core.RoomLeft{RoomID: roomID})
	}
}

// leave is the shared membership teardown of Leave and OnDisconnect. It
// reports the room the connection was bound to.
func (o *Orchestrator) leave(id core.ConnID) (domain.RoomID, bool) {
	c, ok := o.Registry.Lookup(id)
	if !ok || !c.Bound() {
		return "", false
	}

	var res core.PublishResult
	err := o.Rooms.Do(c.RoomID, false, func(room *core.Room) error {
		if cur, ok := o.Registry.Lookup(id); ok && cur.RoomID == room.ID() {
			o.Registry.Unbind(id)
		}
		// A newer connection of the same user keeps the seat.
		if conn, ok := room.MemberConn(c.UserID); !ok || conn != id {
			return nil
		}
		inCall := room.InCall(c.UserID)
		m, _ := room.RemoveMember(c.UserID)
		o.Metrics.Inc(metrics.MembersLeft)
		if inCall {
			o.Metrics.Inc(metrics.CallsLeft)
		}
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("user", string(c.UserID)).Str("room", string(c.RoomID)).Msg("left room")
		if room.MemberCount() == 0 {
			return nil
		}

		if inCall {
			res.Merge(o.broadcast(room.ID(), core.VoiceUserLeft{UserID: c.UserID, Participants: room.CallParticipants()}, ""))
		}
		msg := domain.NewSystemMessage(domain.LeftText(m.Name))
		room.AppendMessage(msg)
		res.Merge(o.broadcast(room.ID(), core.UserListUpdate{Members: room.Members()}, ""))
		res.Merge(o.broadcast(room.ID(), core.NewMessage{Message: msg}, ""))
		if o.Limits.PeerDiscovery {
			res.Merge(o.broadcast(room.ID(), core.PeerListUpdate{EndpointIDs: room.EndpointIDs()}, ""))
		}
		return nil
	})
	if errors.Is(err, core.ErrRoomNotFound) {
		o.Registry.Unbind(id)
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("room", string(c.RoomID)).Msg("leave: stale room binding")
	}

	o.applyPolicy(c.RoomID, res)
	return c.RoomID, true
}

// UpdateEndpoint records a new negotiation endpoint id for the connection and
// republishes the room's peer list.
func (o *Orchestrator) UpdateEndpoint(id core.ConnID, endpointID string) {
	c, ok := o.Registry.Lookup(id)
	if !ok {
		return
	}
	o.Registry.UpdateEndpoint(id, endpointID)
	if !c.Bound() {
		return
	}

	var res core.PublishResult
	err := o.Rooms.Do(c.RoomID, false, func(room *core.Room) error {
		if conn, ok := room.MemberConn(c.UserID); !ok || conn != id {
			return core.ErrNotInRoom
		}
		room.SetEndpoint(c.UserID, endpointID)
		res = o.broadcast(room.ID(), core.PeerListUpdate{EndpointIDs: room.EndpointIDs()}, "")
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(id)).Str("room", string(c.RoomID)).Msg("update endpoint: stale binding")
		return
	}
	o.applyPolicy(c.RoomID, res)
}
