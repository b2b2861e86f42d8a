// Package document owns one replicated text buffer and one ephemeral
// presence map per actively-shared note. Merge semantics come from automerge;
// this package never resolves concurrent edits itself.
package document

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xDVC/neaut/internal/notes"
	"github.com/automerge/automerge-go"
)

const contentKey = "content"

var (
	// ErrInvalidSnapshot indicates a saved document that automerge cannot load.
	ErrInvalidSnapshot = errors.New("document: invalid snapshot")
	// ErrInvalidDelta indicates a remote delta that automerge cannot apply.
	ErrInvalidDelta = errors.New("document: invalid delta")
)

// PresenceState is one peer's last published cursor, keyed by the peer's own
// user id. Each peer only writes its own key, so merge is per-key
// last-write-wins with no cross-peer conflicts.
type PresenceState struct {
	Cursor    notes.CursorPosition
	UpdatedAt time.Time
	Active    bool
}

// Document wraps a replicated text buffer for one note.
type Document struct {
	noteID string

	mu           sync.Mutex
	doc          *automerge.Doc
	lastText     string
	observers    map[int64]func(text string)
	nextObserver int64
	presence     map[string]PresenceState
}

func newDocument(noteID string, doc *automerge.Doc) (*Document, error) {
	d := &Document{
		noteID:    noteID,
		doc:       doc,
		observers: make(map[int64]func(string)),
		presence:  make(map[string]PresenceState),
	}
	text, err := d.textLocked()
	if err != nil {
		return nil, err
	}
	d.lastText = text
	return d, nil
}

// NoteID returns the note this document replicates.
func (d *Document) NoteID() string {
	return d.noteID
}

// Text returns the buffer's current visible text.
func (d *Document) Text() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textLocked()
}

func (d *Document) textLocked() (string, error) {
	text, err := d.doc.Path(contentKey).Text().Get()
	if err != nil {
		return "", fmt.Errorf("document: read text: %w", err)
	}
	return text, nil
}

// SetText applies a local edit as a coarse full replace: the prior range is
// deleted and the new text inserted. O(length) per edit, but correct without
// a diff pass. Returns whether the buffer changed.
func (d *Document) SetText(content string) (bool, error) {
	d.mu.Lock()
	current, err := d.textLocked()
	if err != nil {
		d.mu.Unlock()
		return false, err
	}
	if current == content {
		d.mu.Unlock()
		return false, nil
	}

	text := d.doc.Path(contentKey).Text()
	if length := len([]rune(current)); length > 0 {
		if err := text.Delete(0, length); err != nil {
			d.mu.Unlock()
			return false, fmt.Errorf("document: delete range: %w", err)
		}
	}
	if content != "" {
		if err := text.Insert(0, content); err != nil {
			d.mu.Unlock()
			return false, fmt.Errorf("document: insert text: %w", err)
		}
	}
	d.doc.Commit("local edit")

	observers, newText := d.snapshotObserversLocked(content)
	d.mu.Unlock()

	notifyAll(observers, newText)
	return true, nil
}

// ApplyRemote merges a peer's incremental delta into the buffer. Applying the
// same delta twice has no additional effect.
func (d *Document) ApplyRemote(delta []byte) error {
	d.mu.Lock()
	if err := d.doc.LoadIncremental(delta); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}

	text, err := d.textLocked()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if text == d.lastText {
		d.mu.Unlock()
		return nil
	}

	observers, newText := d.snapshotObserversLocked(text)
	d.mu.Unlock()

	notifyAll(observers, newText)
	return nil
}

// TakeLocalDelta returns the changes made since the last call, for broadcast
// to peers. Empty when nothing changed.
func (d *Document) TakeLocalDelta() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.SaveIncremental()
}

// Snapshot serializes the full document for persistence or late joiners.
func (d *Document) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Save()
}

// Observe registers a callback invoked whenever the visible text changes,
// whether from a local or remote edit. The returned function cancels the
// subscription.
func (d *Document) Observe(observer func(text string)) func() {
	d.mu.Lock()
	d.nextObserver++
	id := d.nextObserver
	d.observers[id] = observer
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

func (d *Document) snapshotObserversLocked(text string) ([]func(string), string) {
	d.lastText = text
	observers := make([]func(string), 0, len(d.observers))
	for _, observer := range d.observers {
		observers = append(observers, observer)
	}
	return observers, text
}

func notifyAll(observers []func(string), text string) {
	for _, observer := range observers {
		observer(text)
	}
}

// ApplyPresence records a peer's published cursor under that peer's key.
func (d *Document) ApplyPresence(cursor notes.CursorPosition, at time.Time) {
	if cursor.UserID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.presence[cursor.UserID]
	if ok && existing.UpdatedAt.After(at) {
		return
	}
	d.presence[cursor.UserID] = PresenceState{Cursor: cursor, UpdatedAt: at, Active: true}
}

// SetLocalPresence records this device's own cursor alongside the peers'.
// The local cursor always wins over any stale echo of itself.
func (d *Document) SetLocalPresence(cursor notes.CursorPosition, at time.Time) {
	if cursor.UserID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presence[cursor.UserID] = PresenceState{Cursor: cursor, UpdatedAt: at, Active: true}
}

// MarkDeparted drops a peer whose backing connection closed.
func (d *Document) MarkDeparted(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.presence, userID)
}

// Presence lists the currently known peer cursors.
func (d *Document) Presence() []PresenceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	states := make([]PresenceState, 0, len(d.presence))
	for _, state := range d.presence {
		states = append(states, state)
	}
	return states
}
