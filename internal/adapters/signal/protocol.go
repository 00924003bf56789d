package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// Inbound is the closed set of frames a client may send.
type Inbound interface {
	inbound()
}

type JoinRoom struct {
	RoomID     string `json:"roomId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	IsCreator  bool   `json:"isCreator"`
	EndpointID string `json:"endpointId"`
	PeerID     string `json:"peerId"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type SendMessage struct {
	Text string `json:"text"`
}

type SendFile struct {
	File domain.FileMeta `json:"file"`
}

type UserTyping struct {
	IsTyping bool `json:"isTyping"`
}

type EndpointUpdate struct {
	EndpointID string `json:"endpointId"`
	PeerID     string `json:"peerId"`
}

// DirectedSignal is an offer, answer or ICE candidate for one peer.
type DirectedSignal struct {
	Kind    core.EventType  `json:"-"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`

	// Older clients put the body under its own name.
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

// CallSignal is a call invite, accept or reject for the whole room.
type CallSignal struct {
	Kind    core.EventType  `json:"-"`
	Payload json.RawMessage `json:"payload"`
}

type VideoState struct {
	IsVideoOn bool `json:"isVideoOn"`
}

// VoiceJoin and VoiceLeave enter and leave the room's call.
type VoiceJoin struct{}

type VoiceLeave struct{}

type Ping struct{}

type WhoAmI struct{}

func (JoinRoom) inbound()       {}
func (LeaveRoom) inbound()      {}
func (SendMessage) inbound()    {}
func (SendFile) inbound()       {}
func (UserTyping) inbound()     {}
func (EndpointUpdate) inbound() {}
func (DirectedSignal) inbound() {}
func (CallSignal) inbound()     {}
func (VideoState) inbound()     {}
func (VoiceJoin) inbound()      {}
func (VoiceLeave) inbound()     {}
func (Ping) inbound()           {}
func (WhoAmI) inbound()         {}

// Endpoint returns the endpoint id, accepting the peerId alias.
func (j JoinRoom) Endpoint() string {
	if j.EndpointID != "" {
		return j.EndpointID
	}
	return j.PeerID
}

func (e EndpointUpdate) Endpoint() string {
	if e.EndpointID != "" {
		return e.EndpointID
	}
	return e.PeerID
}

// Body returns the opaque negotiation payload.
func (d DirectedSignal) Body() json.RawMessage {
	for _, b := range []json.RawMessage{d.Payload, d.Offer, d.Answer, d.Candidate} {
		if len(b) > 0 && string(b) != "null" {
			return b
		}
	}
	return nil
}

// Decode parses one text frame. Unknown types and undecodable frames yield
// an error wrapping core.ErrMalformedEnvelope.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedEnvelope, err)
	}

	var msg Inbound
	switch t := strings.TrimSpace(env.Type); t {
	case "join_room":
		msg = &JoinRoom{}
	case "leave_room":
		msg = &LeaveRoom{}
	case "send_message":
		msg = &SendMessage{}
	case "send_file":
		msg = &SendFile{}
	case "user_typing":
		msg = &UserTyping{}
	case "endpoint_id", "peer_id":
		msg = &EndpointUpdate{}
	case "offer", "answer", "ice_candidate":
		msg = &DirectedSignal{Kind: core.EventType(t)}
	case "call_invite", "group_call_invite", "call_accept", "call_reject":
		kind := core.EventType(t)
		if t == "group_call_invite" {
			kind = core.EvCallInvite
		}
		msg = &CallSignal{Kind: kind}
	case "video_state_changed":
		msg = &VideoState{}
	case "voice_join", "voice-join":
		return VoiceJoin{}, nil
	case "voice_leave", "voice-leave":
		return VoiceLeave{}, nil
	case "ping":
		return Ping{}, nil
	case "whoami":
		return WhoAmI{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", core.ErrMalformedEnvelope, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrMalformedEnvelope, env.Type, err)
	}
	return deref(msg), nil
}

func deref(msg Inbound) Inbound {
	switch m := msg.(type) {
	case *JoinRoom:
		return *m
	case *LeaveRoom:
		return *m
	case *SendMessage:
		return *m
	case *SendFile:
		return *m
	case *UserTyping:
		return *m
	case *EndpointUpdate:
		return *m
	case *DirectedSignal:
		return *m
	case *CallSignal:
		return *m
	case *VideoState:
		return *m
	}
	return msg
}
