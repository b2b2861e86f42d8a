package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Permission enumerates collaborator access levels.
type Permission string

const (
	// PermissionRead grants viewing only.
	PermissionRead Permission = "read"
	// PermissionWrite grants editing.
	PermissionWrite Permission = "write"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
	// ErrInvalidShareID indicates that a share identifier is malformed.
	ErrInvalidShareID = errors.New("notes: invalid share id")
	// ErrShareStateMismatch indicates that shareId and isShared disagree.
	ErrShareStateMismatch = errors.New("notes: share id must be present iff note is shared")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// CursorPosition carries a collaborator's ephemeral caret state. Never persisted.
type CursorPosition struct {
	UserID    string          `json:"userId"`
	UserName  string          `json:"userName"`
	Position  int             `json:"position"`
	Selection *SelectionRange `json:"selection,omitempty"`
	Color     string          `json:"color"`
}

// SelectionRange marks a half-open [Start, End) selection in the document text.
type SelectionRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// TextChange describes a single attributed edit inside a version or merge result.
type TextChange struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Position int    `json:"position"`
	Text     string `json:"text"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Color    string `json:"color,omitempty"`
}

const (
	// TextChangeInsert marks content added by one side.
	TextChangeInsert = "insert"
	// TextChangeDelete marks content removed by one side.
	TextChangeDelete = "delete"
	// TextChangeUpdate marks a line rewritten by a word-level merge.
	TextChangeUpdate = "update"
)

// CollaboratorPresence tracks one collaborator on a shared note. Liveness is
// maintained by the presence channel, not by the stored record.
type CollaboratorPresence struct {
	UserID     string     `json:"userId"`
	UserName   string     `json:"userName"`
	Color      string     `json:"color"`
	Permission Permission `json:"permission"`
	IsActive   bool       `json:"isActive"`
	LastSeen   time.Time  `json:"lastSeen"`
}

// VersionEntry is an immutable snapshot checkpoint in a note's history.
type VersionEntry struct {
	ID        string       `json:"id"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
	UserID    string       `json:"userId"`
	UserName  string       `json:"userName"`
	Changes   []TextChange `json:"changes"`
}

// Note is the durable unit of content exchanged between devices.
type Note struct {
	ID                string                 `json:"id"`
	Content           string                 `json:"content"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
	IsShared          bool                   `json:"isShared"`
	ShareID           string                 `json:"shareId,omitempty"`
	Collaborators     []CollaboratorPresence `json:"collaborators"`
	Versions          []VersionEntry         `json:"versions"`
	DefaultPermission Permission             `json:"defaultPermission"`
}

// Validate checks structural invariants on the note.
func (n Note) Validate() error {
	if _, err := NewNoteID(n.ID); err != nil {
		return err
	}
	if n.IsShared != (strings.TrimSpace(n.ShareID) != "") {
		return ErrShareStateMismatch
	}
	return nil
}

// Touch advances UpdatedAt without ever moving it backwards.
func (n *Note) Touch(now time.Time) {
	if now.After(n.UpdatedAt) {
		n.UpdatedAt = now
	}
}

// Checkpoint appends an immutable version entry capturing the current content.
func (n *Note) Checkpoint(versionID string, at time.Time, userID UserID, userName string, changes []TextChange) VersionEntry {
	entry := VersionEntry{
		ID:        versionID,
		Content:   n.Content,
		Timestamp: at,
		UserID:    userID.String(),
		UserName:  userName,
		Changes:   changes,
	}
	n.Versions = append(n.Versions, entry)
	return entry
}

// UpsertCollaborator records presence for a user, preserving insertion order.
func (n *Note) UpsertCollaborator(presence CollaboratorPresence) {
	for i := range n.Collaborators {
		if n.Collaborators[i].UserID == presence.UserID {
			n.Collaborators[i] = presence
			return
		}
	}
	n.Collaborators = append(n.Collaborators, presence)
}

// NewNote builds a fresh unshared note with defaults applied.
func NewNote(id NoteID, content string, now time.Time) Note {
	return Note{
		ID:                id.String(),
		Content:           content,
		CreatedAt:         now,
		UpdatedAt:         now,
		Collaborators:     []CollaboratorPresence{},
		Versions:          []VersionEntry{},
		DefaultPermission: PermissionWrite,
	}
}
