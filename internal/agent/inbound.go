package agent

import (
	"context"
	"errors"

	"github.com/0xDVC/neaut/internal/document"
	"github.com/0xDVC/neaut/internal/notes"
	"github.com/0xDVC/neaut/internal/protocol"
	"github.com/0xDVC/neaut/internal/store"
	"go.uber.org/zap"
)

func (a *Agent) handleInbound(ctx context.Context, frame []byte) {
	message, err := protocol.Decode(frame)
	if err != nil {
		a.logger.Warn("dropped undecodable frame", zap.Error(err))
		return
	}

	switch m := message.(type) {
	case protocol.NoteUpdated:
		a.reconcileRemoteNote(ctx, m.Note)
	case protocol.DocumentState:
		a.reconcileRemoteNote(ctx, m.State)
	case protocol.NoteDeleted:
		a.applyRemoteDelete(ctx, m.NoteID)
	case protocol.ReplicaUpdate:
		a.applyRemoteReplica(m)
	case protocol.CursorUpdate:
		a.applyRemoteCursor(m)
	case protocol.UserJoined:
		a.markPeerJoined(m)
	case protocol.UserLeft:
		a.markPeerDeparted(m.UserID)
	case protocol.ErrorReply:
		a.logger.Warn("relay reported error", zap.String("message", m.Message))
	default:
		a.logger.Warn("ignoring unexpected inbound message",
			zap.String("type", string(message.MessageType())))
	}
}

// reconcileRemoteNote adopts an inbound snapshot only when it is strictly
// newer than the local record; stale snapshots are discarded silently.
// Deletes, by contrast, are never conflict-checked.
func (a *Agent) reconcileRemoteNote(ctx context.Context, remote notes.Note) {
	if remote.ID == "" {
		return
	}
	noteID := notes.NoteID(remote.ID)

	adopt := false
	local, err := a.store.GetNote(ctx, noteID)
	switch {
	case errors.Is(err, store.ErrNoteNotFound):
		adopt = true
	case err != nil:
		a.logger.Error("reconcile read failed", zap.String("note_id", remote.ID), zap.Error(err))
		return
	case remote.UpdatedAt.After(local.UpdatedAt):
		adopt = true
	}

	if !adopt {
		return
	}

	if err := a.store.SaveNote(ctx, remote); err != nil {
		a.logger.Error("reconcile save failed", zap.String("note_id", remote.ID), zap.Error(err))
		return
	}

	if doc, ok := a.documents.Get(noteID); ok {
		if _, err := doc.SetText(remote.Content); err != nil {
			a.logger.Warn("failed to refresh open document", zap.String("note_id", remote.ID), zap.Error(err))
		}
	}

	adopted := remote
	a.feed.emit(Event{Type: EventNoteUpdated, NoteID: remote.ID, Note: &adopted})
}

func (a *Agent) applyRemoteDelete(ctx context.Context, noteID string) {
	if noteID == "" {
		return
	}
	if err := a.store.DeleteNote(ctx, notes.NoteID(noteID)); err != nil {
		a.logger.Error("remote delete failed", zap.String("note_id", noteID), zap.Error(err))
		return
	}
	a.documents.Destroy(notes.NoteID(noteID))
	a.feed.emit(Event{Type: EventNoteDeleted, NoteID: noteID})
}

func (a *Agent) applyRemoteReplica(m protocol.ReplicaUpdate) {
	doc, ok := a.currentDocument()
	if !ok {
		return
	}
	if err := doc.ApplyRemote(m.Payload); err != nil {
		a.logger.Warn("replica merge failed",
			zap.String("note_id", doc.NoteID()),
			zap.Error(err))
	}
}

func (a *Agent) applyRemoteCursor(m protocol.CursorUpdate) {
	doc, ok := a.currentDocument()
	if !ok {
		return
	}
	at := a.clock().UTC()
	if m.Timestamp != nil {
		at = *m.Timestamp
	}
	doc.ApplyPresence(m.Cursor, at)
}

// markPeerJoined seeds presence for an announced peer so it is visible
// before its first cursor update. The position stays unknown until then.
func (a *Agent) markPeerJoined(m protocol.UserJoined) {
	doc, ok := a.currentDocument()
	if !ok {
		return
	}
	at := m.Timestamp
	if at.IsZero() {
		at = a.clock().UTC()
	}
	doc.ApplyPresence(notes.CursorPosition{
		UserID:   m.UserID,
		UserName: m.UserName,
		Color:    notes.ColorForUser(m.UserID),
	}, at)
	a.logger.Debug("peer joined", zap.String("user_name", m.UserName))
}

func (a *Agent) markPeerDeparted(userID string) {
	if doc, ok := a.currentDocument(); ok {
		doc.MarkDeparted(userID)
	}
}

func (a *Agent) currentDocument() (*document.Document, bool) {
	a.mu.Lock()
	current := a.currentNoteID
	a.mu.Unlock()
	if current == "" {
		return nil, false
	}
	return a.documents.Get(notes.NoteID(current))
}
