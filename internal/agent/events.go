package agent

import (
	"sync"

	"github.com/0xDVC/neaut/internal/notes"
	"go.uber.org/zap"
)

// Status describes the agent's connectivity as seen by consumers.
type Status string

const (
	// StatusOnline means a relay connection is open.
	StatusOnline Status = "online"
	// StatusOffline means the device is offline or reconnection gave up.
	StatusOffline Status = "offline"
	// StatusConnecting means the device is online but no connection is open yet.
	StatusConnecting Status = "connecting"
)

// EventType discriminates sync events.
type EventType string

const (
	// EventNoteUpdated fires when a note changed locally or was adopted from a peer.
	EventNoteUpdated EventType = "note-updated"
	// EventNoteDeleted fires when a note was removed locally or by a peer.
	EventNoteDeleted EventType = "note-deleted"
	// EventSyncStatus fires on connectivity transitions.
	EventSyncStatus EventType = "sync-status"
)

// Event is the in-process notification fanned out to subscribers. It is
// never persisted or transmitted.
type Event struct {
	Type   EventType
	NoteID string
	Note   *notes.Note
	Status Status
}

// feed is a synchronous listener registry. Delivery order across listeners is
// unspecified; a listener that panics must not prevent delivery to the rest.
type feed struct {
	mu        sync.Mutex
	listeners map[int64]func(Event)
	nextID    int64
	logger    *zap.Logger
}

func newFeed(logger *zap.Logger) *feed {
	return &feed{listeners: make(map[int64]func(Event)), logger: logger}
}

func (f *feed) subscribe(listener func(Event)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = listener
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *feed) emit(event Event) {
	f.mu.Lock()
	listeners := make([]func(Event), 0, len(f.listeners))
	for _, listener := range f.listeners {
		listeners = append(listeners, listener)
	}
	f.mu.Unlock()

	for _, listener := range listeners {
		f.deliver(listener, event)
	}
}

func (f *feed) deliver(listener func(Event), event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			f.logger.Error("sync event listener panicked", zap.Any("panic", recovered))
		}
	}()
	listener(event)
}

func (f *feed) clear() {
	f.mu.Lock()
	f.listeners = make(map[int64]func(Event))
	f.mu.Unlock()
}
