package core

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomStore maps room ids to rooms. The map lock is held only for lookups
// and insert/delete; room state is guarded per room.
type RoomStore struct {
	mu           sync.RWMutex
	rooms        map[domain.RoomID]*Room
	historyLimit int

	// OnCreate and OnDelete are optional hooks, called with the room lock held.
	OnCreate func(domain.RoomID)
	OnDelete func(domain.RoomID)
}

func NewRoomStore(historyLimit int) *RoomStore {
	return &RoomStore{
		rooms:        make(map[domain.RoomID]*Room),
		historyLimit: historyLimit,
	}
}

// GetOrCreate returns the live room for id, creating an empty one if absent.
func (s *RoomStore) GetOrCreate(id domain.RoomID) *Room {
	s.mu.RLock()
	room, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok {
		return room
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok = s.rooms[id]; ok {
		return room
	}
	room = newRoom(id, s.historyLimit)
	s.rooms[id] = room
	log.Info().Str("module", "core.room").Str("room", string(id)).Msg("room created")
	return room
}

func (s *RoomStore) Get(id domain.RoomID) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	return room, ok
}

func (s *RoomStore) Exists(id domain.RoomID) bool {
	_, ok := s.Get(id)
	return ok
}

// DeleteIfEmpty removes room from the store when it has no members.
// The caller must hold the room lock (i.e. run inside Do).
func (s *RoomStore) DeleteIfEmpty(room *Room) bool {
	if room.closed || len(room.members) > 0 {
		return false
	}
	room.closed = true
	s.mu.Lock()
	if cur, ok := s.rooms[room.id]; ok && cur == room {
		delete(s.rooms, room.id)
	}
	s.mu.Unlock()
	log.Info().Str("module", "core.room").Str("room", string(room.id)).Msg("room deleted")
	if s.OnDelete != nil {
		s.OnDelete(room.id)
	}
	return true
}

// Do runs fn as one atomic unit with respect to every other Do on the same
// room id. With create set a missing room is created first; otherwise a
// missing room yields ErrRoomNotFound. A room left empty by fn is deleted
// before the lock is released.
func (s *RoomStore) Do(id domain.RoomID, create bool, fn func(*Room) error) error {
	for {
		var room *Room
		if create {
			room = s.GetOrCreate(id)
		} else {
			var ok bool
			if room, ok = s.Get(id); !ok {
				return ErrRoomNotFound
			}
		}
		if done, err := s.do(id, room, create, fn); done {
			return err
		}
	}
}

// do runs one attempt of Do. It reports false when room was closed by a
// concurrent delete and the caller should look it up again.
func (s *RoomStore) do(id domain.RoomID, room *Room, create bool, fn func(*Room) error) (bool, error) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		// Lost a race with the last member leaving.
		if !create {
			return true, ErrRoomNotFound
		}
		return false, nil
	}
	fresh := create && len(room.members) == 0 && len(room.log) == 0
	defer s.DeleteIfEmpty(room)
	err := fn(room)
	if fresh && len(room.members) > 0 && s.OnCreate != nil {
		s.OnCreate(id)
	}
	return true, err
}

// Snapshot returns a consistent copy of the room, or false if it does not
// exist or has no members yet.
func (s *RoomStore) Snapshot(id domain.RoomID) (RoomSnapshot, bool) {
	room, ok := s.Get(id)
	if !ok {
		return RoomSnapshot{}, false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed || len(room.members) == 0 {
		return RoomSnapshot{}, false
	}
	return room.Snapshot(), true
}

// List reports the rooms that currently have members, ordered by id.
func (s *RoomStore) List() []RoomInfo {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed && len(r.members) > 0 {
			out = append(out, RoomInfo{ID: r.id, MemberCount: len(r.members), CreatedAt: r.createdAt})
		}
		r.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// Len counts rooms in the map, including ones still being populated.
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
