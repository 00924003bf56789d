package core

import "errors"

var (
	// ErrNotFound is returned for a handle or member that is not registered.
	ErrNotFound = errors.New("not found")
	// ErrRoomNotFound is returned when a room id is not in the store.
	ErrRoomNotFound = errors.New("room not found")
	// ErrOversized is returned for payloads above a policy limit.
	ErrOversized = errors.New("payload exceeds limit")
	// ErrInvalidTarget is returned for directed signals to a non-member.
	ErrInvalidTarget = errors.New("target is not a member of the sender's room")
	// ErrMalformedEnvelope is returned for frames that cannot be decoded.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrNotInRoom is returned when the sender has no room binding.
	ErrNotInRoom = errors.New("connection is not in a room")

	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)
