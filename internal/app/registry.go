package app

import (
	"context"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Connection is the registry view of one live socket. RoomID is empty while
// the connection is not bound to a room.
type Connection struct {
	ID         core.ConnID
	UserID     domain.UserID
	Name       string
	RoomID     domain.RoomID
	EndpointID string
	Signal     core.SignalConnection
	Cancel     context.CancelFunc
}

// Bound reports whether the connection currently belongs to a room.
func (c Connection) Bound() bool { return c.RoomID != "" }

// Registry is the only place that translates transport handles into users
// and rooms.
type Registry struct {
	mu     sync.RWMutex
	conns  map[core.ConnID]*Connection
	byRoom map[domain.RoomID]map[core.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[core.ConnID]*Connection),
		byRoom: make(map[domain.RoomID]map[core.ConnID]struct{}),
	}
}

func (r *Registry) Register(id core.ConnID, sig core.SignalConnection, cancel context.CancelFunc) Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Connection{ID: id, Signal: sig, Cancel: cancel}
	r.conns[id] = c
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("registered connection")
	return *c
}

// Bind attaches the connection to a room under the given identity.
func (r *Registry) Bind(id core.ConnID, uid domain.UserID, name string, roomID domain.RoomID, endpointID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	if c.RoomID != "" && c.RoomID != roomID {
		r.dropIndex(c.RoomID, id)
	}
	c.UserID = uid
	c.Name = name
	c.RoomID = roomID
	if endpointID != "" {
		c.EndpointID = endpointID
	}
	set, ok := r.byRoom[roomID]
	if !ok {
		set = make(map[core.ConnID]struct{})
		r.byRoom[roomID] = set
	}
	set[id] = struct{}{}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(uid)).Str("room", string(roomID)).Msg("bound connection")
	return true
}

// Unbind clears the room binding and returns the state it had before.
// The connection stays registered.
func (r *Registry) Unbind(id core.ConnID) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	prev := *c
	if c.RoomID != "" {
		r.dropIndex(c.RoomID, id)
		c.RoomID = ""
		log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(prev.RoomID)).Msg("unbound connection")
	}
	return prev, true
}

func (r *Registry) Unregister(id core.ConnID) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	if c.RoomID != "" {
		r.dropIndex(c.RoomID, id)
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unregistered connection")
	return *c, true
}

// dropIndex must be called with mu held.
func (r *Registry) dropIndex(roomID domain.RoomID, id core.ConnID) {
	set, ok := r.byRoom[roomID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.byRoom, roomID)
	}
}

func (r *Registry) Lookup(id core.ConnID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// FindByUserID returns the connection bound to roomID under uid.
func (r *Registry) FindByUserID(roomID domain.RoomID, uid domain.UserID) (core.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.byRoom[roomID] {
		if r.conns[id].UserID == uid {
			return id, true
		}
	}
	return "", false
}

func (r *Registry) ConnectionsInRoom(roomID domain.RoomID) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byRoom[roomID]
	out := make([]Connection, 0, len(set))
	for id := range set {
		out = append(out, *r.conns[id])
	}
	return out
}

func (r *Registry) UpdateEndpoint(id core.ConnID, endpointID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.EndpointID = endpointID
	return true
}

// Cancel tears down the transport of a connection. The adapter then runs the
// disconnect path on its own goroutine.
func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if c.Cancel != nil {
		c.Cancel()
	}
	if c.Signal != nil {
		c.Signal.Close()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
