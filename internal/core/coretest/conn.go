// Package coretest provides an in-memory SignalConnection for tests.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// Conn records every frame it accepts. With Cap > 0 it reports
// backpressure once Cap frames are queued.
type Conn struct {
	Cap int

	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func NewConn() *Conn { return &Conn{} }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.Cap > 0 && len(c.frames) >= c.Cap {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Reset forgets recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// Event is a decoded outbound frame with the union of all event fields.
type Event struct {
	Type         string             `json:"type"`
	Room         *core.RoomSnapshot `json:"room"`
	RoomID       string             `json:"roomId"`
	Message      json.RawMessage    `json:"message"`
	Members      []domain.Member    `json:"members"`
	EndpointIDs  []string           `json:"endpointIds"`
	Participants []string           `json:"participants"`
	UserID       string             `json:"userId"`
	UserName     string             `json:"userName"`
	IsTyping     bool               `json:"isTyping"`
	IsVideoOn    bool               `json:"isVideoOn"`
	Code         string             `json:"code"`
	ConnID       string             `json:"connId"`
	From         json.RawMessage    `json:"from"`
	FromName     string             `json:"fromName"`
	Payload      json.RawMessage    `json:"payload"`
}

// ChatMessage decodes the message object of a new_message event. It
// returns nil when the field is absent or is not a chat message.
func (ev Event) ChatMessage() *domain.Message {
	if len(ev.Message) == 0 || ev.Message[0] != '{' {
		return nil
	}
	var m domain.Message
	if err := json.Unmarshal(ev.Message, &m); err != nil {
		return nil
	}
	return &m
}

// ErrorText returns the human readable text of an error event.
func (ev Event) ErrorText() string {
	var s string
	if err := json.Unmarshal(ev.Message, &s); err != nil {
		return ""
	}
	return s
}

// Events decodes every recorded frame. Undecodable frames panic.
func (c *Conn) Events() []Event {
	frames := c.Frames()
	out := make([]Event, 0, len(frames))
	for _, f := range frames {
		var ev Event
		if err := json.Unmarshal(f, &ev); err != nil {
			panic(err)
		}
		out = append(out, ev)
	}
	return out
}

// Types lists the type tags of recorded frames in order.
func (c *Conn) Types() []string {
	evs := c.Events()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

// OfType returns the recorded events with the given tag, in order.
func (c *Conn) OfType(typ core.EventType) []Event {
	var out []Event
	for _, ev := range c.Events() {
		if ev.Type == string(typ) {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the latest event with the given tag.
func (c *Conn) Last(typ core.EventType) (Event, bool) {
	evs := c.OfType(typ)
	if len(evs) == 0 {
		return Event{}, false
	}
	return evs[len(evs)-1], true
}
