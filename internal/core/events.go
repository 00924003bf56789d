package core

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
)

// EventType is the "type" tag of an outbound frame.
type EventType string

const (
	EvRoomJoined        EventType = "room_joined"
	EvRoomLeft          EventType = "room_left"
	EvNewMessage        EventType = "new_message"
	EvUserListUpdate    EventType = "user_list_update"
	EvUserTyping        EventType = "user_typing"
	EvPeerListUpdate    EventType = "peer_list_update"
	EvVideoStateChanged EventType = "video_state_changed"
	EvError             EventType = "error"
	EvPong              EventType = "pong"
	EvWhoAmI            EventType = "whoami"

	EvOffer        EventType = "offer"
	EvAnswer       EventType = "answer"
	EvICECandidate EventType = "ice_candidate"

	EvCallInvite EventType = "call_invite"
	EvCallAccept EventType = "call_accept"
	EvCallReject EventType = "call_reject"

	EvVoiceUserJoined EventType = "voice_user_joined"
	EvVoiceUserLeft   EventType = "voice_user_left"
)

// Error codes carried by ErrorEvent.
const (
	CodeBadPayload      = "bad_payload"
	CodeMessageTooLong  = "message_too_long"
	CodeFileTooLarge    = "file_too_large"
	CodeNotInRoom       = "not_in_room"
	CodeRateLimited     = "rate_limited"
	CodeSessionReplaced = "session_replaced"
)

// Event is the closed set of frames the server emits.
type Event interface {
	Kind() EventType
	outbound()
}

type RoomJoined struct {
	Room RoomSnapshot `json:"room"`
}

type RoomLeft struct {
	RoomID domain.RoomID `json:"roomId"`
}

type NewMessage struct {
	Message domain.Message `json:"message"`
}

type UserListUpdate struct {
	Members []domain.Member `json:"members"`
}

type UserTyping struct {
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName"`
	IsTyping bool          `json:"isTyping"`
}

type PeerListUpdate struct {
	EndpointIDs []string `json:"endpointIds"`
}

type VideoStateChanged struct {
	UserID    domain.UserID `json:"userId"`
	IsVideoOn bool          `json:"isVideoOn"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Pong struct{}

type WhoAmI struct {
	ConnID   ConnID        `json:"connId"`
	UserID   domain.UserID `json:"userId,omitempty"`
	UserName string        `json:"userName,omitempty"`
	RoomID   domain.RoomID `json:"roomId,omitempty"`
}

// DirectedSignal is an offer, answer or ICE candidate delivered to one peer.
// Payload is forwarded untouched.
// VoiceUserJoined announces a new call participant. Participants is the
// full set after the change.
type VoiceUserJoined struct {
	UserID       domain.UserID   `json:"userId"`
	UserName     string          `json:"userName"`
	Participants []domain.UserID `json:"participants"`
}

type VoiceUserLeft struct {
	UserID       domain.UserID   `json:"userId"`
	Participants []domain.UserID `json:"participants"`
}

type DirectedSignal struct {
	Type     EventType       `json:"-"`
	From     domain.UserID   `json:"from"`
	FromName string          `json:"fromName"`
	Payload  json.RawMessage `json:"-"`
}

// CallSignal is a call invite, accept or reject fanned out to the room.
type CallSignal struct {
	Type    EventType       `json:"-"`
	From    domain.Sender   `json:"from"`
	Payload json.RawMessage `json:"-"`
}

func (RoomJoined) Kind() EventType        { return EvRoomJoined }
func (RoomLeft) Kind() EventType          { return EvRoomLeft }
func (NewMessage) Kind() EventType        { return EvNewMessage }
func (UserListUpdate) Kind() EventType    { return EvUserListUpdate }
func (UserTyping) Kind() EventType        { return EvUserTyping }
func (PeerListUpdate) Kind() EventType    { return EvPeerListUpdate }
func (VideoStateChanged) Kind() EventType { return EvVideoStateChanged }
func (ErrorEvent) Kind() EventType        { return EvError }
func (Pong) Kind() EventType              { return EvPong }
func (WhoAmI) Kind() EventType            { return EvWhoAmI }
func (VoiceUserJoined) Kind() EventType   { return EvVoiceUserJoined }
func (VoiceUserLeft) Kind() EventType     { return EvVoiceUserLeft }
func (e DirectedSignal) Kind() EventType  { return e.Type }
func (e CallSignal) Kind() EventType      { return e.Type }

func (RoomJoined) outbound()        {}
func (RoomLeft) outbound()          {}
func (NewMessage) outbound()        {}
func (UserListUpdate) outbound()    {}
func (UserTyping) outbound()        {}
func (PeerListUpdate) outbound()    {}
func (VideoStateChanged) outbound() {}
func (ErrorEvent) outbound()        {}
func (Pong) outbound()              {}
func (WhoAmI) outbound()            {}
func (VoiceUserJoined) outbound()   {}
func (VoiceUserLeft) outbound()     {}
func (DirectedSignal) outbound()    {}
func (CallSignal) outbound()        {}

// rawPayload exposes a client payload that is spliced into the frame as is.
func (e DirectedSignal) rawPayload() json.RawMessage { return e.Payload }
func (e CallSignal) rawPayload() json.RawMessage     { return e.Payload }

// IsDirectedKind reports whether t is relayed to a single peer.
func IsDirectedKind(t EventType) bool {
	return t == EvOffer || t == EvAnswer || t == EvICECandidate
}

// IsCallKind reports whether t is relayed to the whole room.
func IsCallKind(t EventType) bool {
	return t == EvCallInvite || t == EvCallAccept || t == EvCallReject
}

// Encode renders ev as a JSON object with the "type" tag first. Relayed
// payloads are copied verbatim, never re-encoded.
func Encode(ev Event) (Frame, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	tag, err := json.Marshal(ev.Kind())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	if rp, ok := ev.(interface{ rawPayload() json.RawMessage }); ok {
		if raw := bytes.TrimSpace(rp.rawPayload()); len(raw) > 0 {
			if !json.Valid(raw) {
				return nil, fmt.Errorf("encode %s: payload: %w", ev.Kind(), ErrMalformedEnvelope)
			}
			buf.WriteString(`,"payload":`)
			buf.Write(raw)
		}
	}
	buf.WriteByte('}')
	return Frame(buf.Bytes()), nil
}
