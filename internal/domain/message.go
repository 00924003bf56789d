package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// Sender identifies who produced a message.
type Sender struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// SystemSender marks messages produced by the relay itself.
var SystemSender = Sender{ID: "system", Name: "System"}

// FileMeta is a file shared in the room. Content is opaque to the relay
// (usually a data URL built by the browser).
type FileMeta struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
}

// PayloadSize is the number of bytes the file occupies in the room log.
// A declared size larger than the actual content still counts.
func (f FileMeta) PayloadSize() int64 {
	n := int64(len(f.Content))
	if f.Size > n {
		return f.Size
	}
	return n
}

// Message is an entry of a room log. Never mutated once appended.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"type"`
	Sender    Sender      `json:"sender"`
	Text      string      `json:"text,omitempty"`
	File      *FileMeta   `json:"file,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func newMessage(kind MessageKind, sender Sender) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
	}
}

func NewTextMessage(sender Sender, text string) Message {
	m := newMessage(MessageText, sender)
	m.Text = text
	return m
}

func NewFileMessage(sender Sender, file FileMeta) Message {
	m := newMessage(MessageFile, sender)
	m.File = &file
	return m
}

func NewSystemMessage(text string) Message {
	m := newMessage(MessageSystem, SystemSender)
	m.Text = text
	return m
}

func JoinedText(name string) string { return fmt.Sprintf("%s joined the room", name) }
func LeftText(name string) string   { return fmt.Sprintf("%s left the room", name) }
