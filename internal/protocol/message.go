// Package protocol defines the typed JSON frames exchanged between the sync
// agent and the relay hub. Every frame is a single JSON object carrying a
// "type" discriminator; unknown or malformed frames decode to a typed error
// instead of being dropped silently.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/0xDVC/neaut/internal/notes"
)

// Type discriminates wire messages.
type Type string

const (
	// Client to hub.
	TypeJoinNote      Type = "join-note"
	TypeNoteUpdate    Type = "note-update"
	TypeNoteDelete    Type = "note-delete"
	TypeCursorUpdate  Type = "cursor-update"
	TypeReplicaUpdate Type = "replica-update"

	// Hub to client.
	TypeDocumentState Type = "document-state"
	TypeNoteUpdated   Type = "note-updated"
	TypeNoteDeleted   Type = "note-deleted"
	TypeUserJoined    Type = "user-joined"
	TypeUserLeft      Type = "user-left"
	TypeError         Type = "error"
)

var (
	// ErrMalformedFrame indicates that a frame is not a JSON object.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrMissingType indicates that a frame carries no type discriminator.
	ErrMissingType = errors.New("protocol: missing message type")
	// ErrUnknownType indicates a type discriminator this protocol version does not define.
	ErrUnknownType = errors.New("protocol: unknown message type")
	// ErrMissingNoteID indicates that a message requiring a note id lacks one.
	ErrMissingNoteID = errors.New("protocol: missing note id")
	// ErrEmptyReplicaPayload indicates a replica update without binary content.
	ErrEmptyReplicaPayload = errors.New("protocol: empty replica payload")
)

// Message is implemented by every wire frame.
type Message interface {
	MessageType() Type
}

// JoinNote subscribes the sending session to a note's broadcast group.
type JoinNote struct {
	NoteID   string `json:"noteId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// MessageType implements Message.
func (JoinNote) MessageType() Type { return TypeJoinNote }

// Validate checks required fields.
func (m JoinNote) Validate() error {
	if m.NoteID == "" {
		return fmt.Errorf("%w: join-note", ErrMissingNoteID)
	}
	return nil
}

// NoteUpdate carries a full note snapshot from a client.
type NoteUpdate struct {
	Note notes.Note `json:"note"`
}

// MessageType implements Message.
func (NoteUpdate) MessageType() Type { return TypeNoteUpdate }

// Validate checks required fields.
func (m NoteUpdate) Validate() error {
	if m.Note.ID == "" {
		return fmt.Errorf("%w: note-update", ErrMissingNoteID)
	}
	return nil
}

// NoteDelete requests deletion of a note everywhere.
type NoteDelete struct {
	NoteID string `json:"noteId"`
}

// MessageType implements Message.
func (NoteDelete) MessageType() Type { return TypeNoteDelete }

// Validate checks required fields.
func (m NoteDelete) Validate() error {
	if m.NoteID == "" {
		return fmt.Errorf("%w: note-delete", ErrMissingNoteID)
	}
	return nil
}

// CursorUpdate carries ephemeral caret state. The hub stamps the sender's
// identity before fanning out; the Timestamp is set hub-side only.
type CursorUpdate struct {
	Cursor    notes.CursorPosition `json:"cursor"`
	Timestamp *time.Time           `json:"timestamp,omitempty"`
}

// MessageType implements Message.
func (CursorUpdate) MessageType() Type { return TypeCursorUpdate }

// ReplicaUpdate carries an opaque replicated-document delta. The hub forwards
// the payload verbatim and never inspects it.
type ReplicaUpdate struct {
	Payload []byte `json:"payload"`
	UserID  string `json:"userId,omitempty"`
}

// MessageType implements Message.
func (ReplicaUpdate) MessageType() Type { return TypeReplicaUpdate }

// Validate checks the payload is non-empty.
func (m ReplicaUpdate) Validate() error {
	if len(m.Payload) == 0 {
		return ErrEmptyReplicaPayload
	}
	return nil
}

// DocumentState replays the hub's cached snapshot to a late joiner.
type DocumentState struct {
	State notes.Note `json:"state"`
}

// MessageType implements Message.
func (DocumentState) MessageType() Type { return TypeDocumentState }

// NoteUpdated fans a peer's snapshot out to other subscribers.
type NoteUpdated struct {
	Note      notes.Note `json:"note"`
	UserID    string     `json:"userId"`
	Timestamp time.Time  `json:"timestamp"`
}

// MessageType implements Message.
func (NoteUpdated) MessageType() Type { return TypeNoteUpdated }

// NoteDeleted informs every subscriber, the deleter included, that a note is gone.
type NoteDeleted struct {
	NoteID    string    `json:"noteId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageType implements Message.
func (NoteDeleted) MessageType() Type { return TypeNoteDeleted }

// UserJoined announces a new subscriber to existing peers.
type UserJoined struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageType implements Message.
func (UserJoined) MessageType() Type { return TypeUserJoined }

// UserLeft announces a disconnected subscriber to remaining peers.
type UserLeft struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageType implements Message.
func (UserLeft) MessageType() Type { return TypeUserLeft }

// ErrorReply answers the offending sender only; it is never broadcast.
type ErrorReply struct {
	Message string `json:"message"`
}

// MessageType implements Message.
func (ErrorReply) MessageType() Type { return TypeError }
