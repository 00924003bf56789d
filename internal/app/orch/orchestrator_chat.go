package orch

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

// bound returns the caller's registry entry if it is in a room.
func (o *Orchestrator) bound(id core.ConnID) (app.Connection, bool) {
	c, ok := o.Registry.Lookup(id)
	if !ok || !c.Bound() {
		o.Metrics.Inc(metrics.DropNotInRoom)
		log.Debug().Str("module", "orch").Str("conn", string(id)).Msg("not in a room, dropped")
		return app.Connection{}, false
	}
	return c, true
}

func senderOf(c app.Connection) domain.Sender {
	return domain.Sender{ID: c.UserID, Name: c.Name}
}

// inRoom runs fn inside the critical section of the caller's room, after
// checking the room still seats the caller under this connection.
func (o *Orchestrator) inRoom(c app.Connection, fn func(*core.Room) core.PublishResult) error {
	var res core.PublishResult
	err := o.Rooms.Do(c.RoomID, false, func(room *core.Room) error {
		if conn, ok := room.MemberConn(c.UserID); !ok || conn != c.ID {
			return core.ErrNotInRoom
		}
		res = fn(room)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(c.ID)).Str("room", string(c.RoomID)).Msg("stale room binding")
		return err
	}
	o.applyPolicy(c.RoomID, res)
	return nil
}

// SendText appends a chat message and delivers it to every member, the
// sender included.
func (o *Orchestrator) SendText(id core.ConnID, text string) error {
	c, ok := o.bound(id)
	if !ok {
		return core.ErrNotInRoom
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if o.Limits.MaxTextLength > 0 && utf8.RuneCountInString(text) > o.Limits.MaxTextLength {
		o.Metrics.Inc(metrics.DropOversized)
		o.SendError(id, core.CodeMessageTooLong, fmt.Sprintf("message exceeds %d characters", o.Limits.MaxTextLength))
		return core.ErrOversized
	}
	err := o.inRoom(c, func(room *core.Room) core.PublishResult {
		msg := domain.NewTextMessage(senderOf(c), text)
		room.AppendMessage(msg)
		return o.broadcast(room.ID(), core.NewMessage{Message: msg}, "")
	})
	if err == nil {
		o.Metrics.Inc(metrics.MessagesText)
	}
	return err
}

// SendFile shares a file with the room. Files above the size limit are
// rejected and never stored.
func (o *Orchestrator) SendFile(id core.ConnID, file domain.FileMeta) error {
	c, ok := o.bound(id)
	if !ok {
		return core.ErrNotInRoom
	}
	if size := file.PayloadSize(); o.Limits.MaxFileSize > 0 && size > o.Limits.MaxFileSize {
		o.Metrics.Inc(metrics.DropOversized)
		o.SendError(id, core.CodeFileTooLarge, fmt.Sprintf("file is %d bytes, limit is %d", size, o.Limits.MaxFileSize))
		return fmt.Errorf("file %q: %w", file.Name, core.ErrOversized)
	}
	if file.Size < int64(len(file.Content)) {
		file.Size = int64(len(file.Content))
	}
	err := o.inRoom(c, func(room *core.Room) core.PublishResult {
		msg := domain.NewFileMessage(senderOf(c), file)
		room.AppendMessage(msg)
		return o.broadcast(room.ID(), core.NewMessage{Message: msg}, "")
	})
	if err == nil {
		o.Metrics.Inc(metrics.MessagesFile)
	}
	return err
}

// Typing tells the other members the caller started or stopped typing.
func (o *Orchestrator) Typing(id core.ConnID, isTyping bool) {
	c, ok := o.bound(id)
	if !ok {
		return
	}
	_ = o.inRoom(c, func(room *core.Room) core.PublishResult {
		return o.broadcast(room.ID(), core.UserTyping{UserID: c.UserID, UserName: c.Name, IsTyping: isTyping}, id)
	})
}

// MediaState tells the other members whether the caller's camera is on.
func (o *Orchestrator) MediaState(id core.ConnID, isVideoOn bool) {
	c, ok := o.bound(id)
	if !ok {
		return
	}
	_ = o.inRoom(c, func(room *core.Room) core.PublishResult {
		return o.broadcast(room.ID(), core.VideoStateChanged{UserID: c.UserID, IsVideoOn: isVideoOn}, id)
	})
}
