package core

import (
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type memberEntry struct {
	member domain.Member
	conn   ConnID
	inCall bool
}

// Room is an in-memory room guarded by its own mutex.
// Mutators and readers below assume the caller runs inside RoomStore.Do,
// which holds the lock for the whole critical section.
type Room struct {
	id        domain.RoomID
	createdAt time.Time
	limit     int

	mu      sync.Mutex
	closed  bool
	members []*memberEntry
	log     []domain.Message
}

func newRoom(id domain.RoomID, historyLimit int) *Room {
	return &Room{
		id:        id,
		createdAt: time.Now().UTC(),
		limit:     historyLimit,
	}
}

func (r *Room) ID() domain.RoomID    { return r.id }
func (r *Room) CreatedAt() time.Time { return r.createdAt }
func (r *Room) MemberCount() int     { return len(r.members) }

func (r *Room) find(uid domain.UserID) int {
	return slices.IndexFunc(r.members, func(e *memberEntry) bool { return e.member.UserID == uid })
}

// AddMember appends a new member in join order. It returns false without
// changes if the user id is already present.
func (r *Room) AddMember(m domain.Member, conn ConnID) bool {
	if r.find(m.UserID) >= 0 {
		return false
	}
	r.members = append(r.members, &memberEntry{member: m, conn: conn})
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(m.UserID)).Str("conn", string(conn)).Msg("member added")
	return true
}

// UpdateMember refreshes name, endpoint id and the representing connection of
// an existing member. Join order and creator flag are kept. It returns the
// connection that represented the member before the update.
func (r *Room) UpdateMember(uid domain.UserID, name, endpointID string, conn ConnID) (ConnID, bool) {
	i := r.find(uid)
	if i < 0 {
		return "", false
	}
	e := r.members[i]
	prev := e.conn
	e.member.Name = name
	if endpointID != "" {
		e.member.EndpointID = endpointID
	}
	e.conn = conn
	return prev, true
}

// SetEndpoint updates the negotiation endpoint id of a member in place.
func (r *Room) SetEndpoint(uid domain.UserID, endpointID string) bool {
	i := r.find(uid)
	if i < 0 {
		return false
	}
	r.members[i].member.EndpointID = endpointID
	return true
}

// RemoveMember is idempotent: removing an absent user id is a no-op.
func (r *Room) RemoveMember(uid domain.UserID) (domain.Member, bool) {
	i := r.find(uid)
	if i < 0 {
		return domain.Member{}, false
	}
	m := r.members[i].member
	r.members = slices.Delete(r.members, i, i+1)
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(uid)).Msg("member removed")
	return m, true
}

// JoinCall marks uid as a participant of the room's call. It returns false
// if uid is not a member or already participates.
func (r *Room) JoinCall(uid domain.UserID) bool {
	i := r.find(uid)
	if i < 0 || r.members[i].inCall {
		return false
	}
	r.members[i].inCall = true
	return true
}

// LeaveCall is idempotent and reports whether uid was participating.
// Removing a member takes it out of the call as well.
func (r *Room) LeaveCall(uid domain.UserID) bool {
	i := r.find(uid)
	if i < 0 || !r.members[i].inCall {
		return false
	}
	r.members[i].inCall = false
	return true
}

func (r *Room) InCall(uid domain.UserID) bool {
	i := r.find(uid)
	return i >= 0 && r.members[i].inCall
}

// CallParticipants lists call participants in join order.
func (r *Room) CallParticipants() []domain.UserID {
	out := make([]domain.UserID, 0, len(r.members))
	for _, e := range r.members {
		if e.inCall {
			out = append(out, e.member.UserID)
		}
	}
	return out
}

func (r *Room) Member(uid domain.UserID) (domain.Member, bool) {
	i := r.find(uid)
	if i < 0 {
		return domain.Member{}, false
	}
	return r.members[i].member, true
}

// MemberConn returns the connection currently representing uid.
func (r *Room) MemberConn(uid domain.UserID) (ConnID, bool) {
	i := r.find(uid)
	if i < 0 {
		return "", false
	}
	return r.members[i].conn, true
}

// AppendMessage adds msg at the end of the log, dropping the oldest entries
// beyond the history limit. A limit of zero keeps everything.
func (r *Room) AppendMessage(msg domain.Message) {
	r.log = append(r.log, msg)
	if r.limit > 0 && len(r.log) > r.limit {
		r.log = slices.Clone(r.log[len(r.log)-r.limit:])
	}
}

func (r *Room) Members() []domain.Member {
	out := make([]domain.Member, 0, len(r.members))
	for _, e := range r.members {
		out = append(out, e.member)
	}
	return out
}

func (r *Room) Messages() []domain.Message {
	out := make([]domain.Message, len(r.log))
	copy(out, r.log)
	return out
}

// EndpointIDs lists the non-empty endpoint ids in join order.
func (r *Room) EndpointIDs() []string {
	out := make([]string, 0, len(r.members))
	for _, e := range r.members {
		if e.member.EndpointID != "" {
			out = append(out, e.member.EndpointID)
		}
	}
	return out
}

func (r *Room) Snapshot() RoomSnapshot {
	return RoomSnapshot{
		ID:        r.id,
		Members:   r.Members(),
		Messages:  r.Messages(),
		InCall:    r.CallParticipants(),
		CreatedAt: r.createdAt,
	}
}
