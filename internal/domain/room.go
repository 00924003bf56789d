package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxRoomIDLen = 64
	// RoomIDLen is the length of ids handed out by NewRoomID.
	RoomIDLen = 8
)

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
	ErrRoomIDInvalid = errors.New("room id contains invalid characters")
)

type RoomID string

func ValidateRoomID(id RoomID) error {
	if len(id) == 0 {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	if strings.ContainsAny(string(id), " \t\r\n/") {
		return ErrRoomIDInvalid
	}
	return nil
}

// NewRoomID returns a short shareable id.
func NewRoomID() RoomID {
	return RoomID(strings.ReplaceAll(uuid.NewString(), "-", "")[:RoomIDLen])
}
