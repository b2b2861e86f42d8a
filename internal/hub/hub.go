// Package hub implements the single-process relay that routes typed messages
// between sessions subscribed to the same note. All shared state is mutated
// on one event loop goroutine; safety comes from serialization, not locks.
package hub

import (
	"sync"
	"time"

	"github.com/0xDVC/neaut/internal/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const anonymousUserName = "Anonymous"

// Sender delivers one encoded frame to a connected client. Implementations
// must be safe to call from the hub's event loop goroutine.
type Sender interface {
	Send(frame []byte) error
}

type session struct {
	id       int64
	conn     Sender
	noteID   string
	userID   string
	userName string
	joined   bool
}

// Stats is the liveness snapshot served by the health endpoint.
type Stats struct {
	Connections int
	Documents   int
}

// Config describes hub dependencies.
type Config struct {
	Logger *zap.Logger
	Clock  func() time.Time
}

// Hub tracks sessions, per-note subscriber sets and the last accepted note
// snapshot per note. It holds no durable state.
type Hub struct {
	logger *zap.Logger
	clock  func() time.Time

	commands chan func()
	stopped  chan struct{}

	closeMu sync.Mutex
	closed  bool

	nextConnID  int64
	sessions    map[int64]*session
	subscribers map[string]map[int64]*session
	documents   map[string][]byte
}

// New constructs a hub and starts its event loop.
func New(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	h := &Hub{
		logger:      logger,
		clock:       clock,
		commands:    make(chan func(), 64),
		stopped:     make(chan struct{}),
		sessions:    make(map[int64]*session),
		subscribers: make(map[string]map[int64]*session),
		documents:   make(map[string][]byte),
	}
	go h.loop()
	return h
}

func (h *Hub) loop() {
	for command := range h.commands {
		command()
	}
	close(h.stopped)
}

// Close stops the event loop after draining pending commands. Calls arriving
// after Close are no-ops; connection handlers may still be unwinding while
// the process shuts down.
func (h *Hub) Close() {
	h.closeMu.Lock()
	if h.closed {
		h.closeMu.Unlock()
		<-h.stopped
		return
	}
	h.closed = true
	close(h.commands)
	h.closeMu.Unlock()
	<-h.stopped
}

// run posts work to the event loop and waits for it to complete.
func (h *Hub) run(command func()) {
	done := make(chan struct{})
	h.closeMu.Lock()
	if h.closed {
		h.closeMu.Unlock()
		return
	}
	h.commands <- func() {
		command()
		close(done)
	}
	h.closeMu.Unlock()
	<-done
}

// Connect registers a new session for the given connection and returns its id.
func (h *Hub) Connect(conn Sender) int64 {
	var id int64
	h.run(func() {
		h.nextConnID++
		id = h.nextConnID
		h.sessions[id] = &session{id: id, conn: conn}
	})
	h.logger.Debug("session connected", zap.Int64("conn_id", id))
	return id
}

// Disconnect removes a session, cleans its subscription and notifies peers.
func (h *Hub) Disconnect(connID int64) {
	h.run(func() {
		h.disconnectLocked(connID)
	})
}

func (h *Hub) disconnectLocked(connID int64) {
	sess, ok := h.sessions[connID]
	if !ok {
		return
	}
	delete(h.sessions, connID)
	if !sess.joined {
		return
	}

	group := h.subscribers[sess.noteID]
	if group == nil {
		return
	}
	delete(group, connID)
	if len(group) == 0 {
		// document cache is retained for future joiners
		delete(h.subscribers, sess.noteID)
		return
	}

	h.broadcast(sess.noteID, protocol.UserLeft{
		UserID:    sess.userID,
		UserName:  sess.userName,
		Timestamp: h.clock().UTC(),
	}, 0)
	h.logger.Info("user left note",
		zap.String("note_id", sess.noteID),
		zap.String("user_name", sess.userName))
}

// HandleFrame processes one inbound frame from a session. Malformed input
// produces an error reply to the sender only; it never affects other
// sessions.
func (h *Hub) HandleFrame(connID int64, frame []byte) {
	h.run(func() {
		sess, ok := h.sessions[connID]
		if !ok {
			return
		}

		message, err := protocol.Decode(frame)
		if err != nil {
			h.logger.Warn("rejected frame",
				zap.Int64("conn_id", connID),
				zap.Error(err))
			h.reply(sess, protocol.ErrorReply{Message: "Invalid message format"})
			return
		}

		switch m := message.(type) {
		case protocol.JoinNote:
			h.handleJoin(sess, m)
		case protocol.NoteUpdate:
			h.handleNoteUpdate(sess, m)
		case protocol.NoteDelete:
			h.handleNoteDelete(sess, m)
		case protocol.CursorUpdate:
			h.handleCursorUpdate(sess, m)
		case protocol.ReplicaUpdate:
			h.handleReplicaUpdate(sess, m)
		default:
			h.reply(sess, protocol.ErrorReply{Message: "Unsupported message type"})
		}
	})
}

func (h *Hub) handleJoin(sess *session, m protocol.JoinNote) {
	sess.noteID = m.NoteID
	sess.userID = m.UserID
	if sess.userID == "" {
		sess.userID = uuid.NewString()
	}
	sess.userName = m.UserName
	if sess.userName == "" {
		sess.userName = anonymousUserName
	}
	sess.joined = true

	group, ok := h.subscribers[m.NoteID]
	if !ok {
		group = make(map[int64]*session)
		h.subscribers[m.NoteID] = group
	}
	group[sess.id] = sess

	h.logger.Info("user joined note",
		zap.String("note_id", m.NoteID),
		zap.String("user_name", sess.userName))

	if cached, ok := h.documents[m.NoteID]; ok {
		if err := sess.conn.Send(cached); err != nil {
			h.logger.Warn("document state replay failed",
				zap.Int64("conn_id", sess.id),
				zap.Error(err))
		}
	}

	h.broadcast(m.NoteID, protocol.UserJoined{
		UserID:    sess.userID,
		UserName:  sess.userName,
		Timestamp: h.clock().UTC(),
	}, sess.id)
}

func (h *Hub) handleNoteUpdate(sess *session, m protocol.NoteUpdate) {
	if !sess.joined {
		h.reply(sess, protocol.ErrorReply{Message: "Join a note before sending updates"})
		return
	}

	// last write wins at the relay; no merge happens here
	snapshot, err := protocol.Encode(protocol.DocumentState{State: m.Note})
	if err != nil {
		h.reply(sess, protocol.ErrorReply{Message: "Invalid note data"})
		return
	}
	h.documents[sess.noteID] = snapshot

	h.broadcast(sess.noteID, protocol.NoteUpdated{
		Note:      m.Note,
		UserID:    sess.userID,
		Timestamp: h.clock().UTC(),
	}, sess.id)
}

func (h *Hub) handleNoteDelete(sess *session, m protocol.NoteDelete) {
	if !sess.joined {
		h.reply(sess, protocol.ErrorReply{Message: "Join a note before sending deletes"})
		return
	}

	delete(h.documents, m.NoteID)

	// deletes go to every subscriber, the sender included
	h.broadcast(m.NoteID, protocol.NoteDeleted{
		NoteID:    m.NoteID,
		UserID:    sess.userID,
		Timestamp: h.clock().UTC(),
	}, 0)

	// the whole subscriber set is discarded; late joiners see no peers
	delete(h.subscribers, m.NoteID)

	h.logger.Info("note deleted",
		zap.String("note_id", m.NoteID),
		zap.String("user_name", sess.userName))
}

func (h *Hub) handleCursorUpdate(sess *session, m protocol.CursorUpdate) {
	if !sess.joined {
		return
	}

	// the hub stamps the sender's identity; cursors are never cached
	cursor := m.Cursor
	cursor.UserID = sess.userID
	cursor.UserName = sess.userName
	now := h.clock().UTC()

	h.broadcast(sess.noteID, protocol.CursorUpdate{
		Cursor:    cursor,
		Timestamp: &now,
	}, sess.id)
}

func (h *Hub) handleReplicaUpdate(sess *session, m protocol.ReplicaUpdate) {
	if !sess.joined {
		return
	}

	// forwarded verbatim; the hub never inspects replica payloads
	h.broadcast(sess.noteID, protocol.ReplicaUpdate{
		Payload: m.Payload,
		UserID:  sess.userID,
	}, sess.id)
}

// broadcast fans a message out to a note's subscribers, skipping excludeID
// when non-zero. A failed send evicts that session from the group, so the
// group is copied before iteration.
func (h *Hub) broadcast(noteID string, message protocol.Message, excludeID int64) {
	group, ok := h.subscribers[noteID]
	if !ok {
		return
	}

	frame, err := protocol.Encode(message)
	if err != nil {
		h.logger.Error("broadcast encode failed", zap.Error(err))
		return
	}

	targets := make([]*session, 0, len(group))
	for _, sess := range group {
		if sess.id != excludeID {
			targets = append(targets, sess)
		}
	}

	for _, sess := range targets {
		if err := sess.conn.Send(frame); err != nil {
			h.logger.Warn("broadcast send failed, evicting session",
				zap.Int64("conn_id", sess.id),
				zap.Error(err))
			delete(group, sess.id)
		}
	}
}

func (h *Hub) reply(sess *session, message protocol.Message) {
	frame, err := protocol.Encode(message)
	if err != nil {
		h.logger.Error("reply encode failed", zap.Error(err))
		return
	}
	if err := sess.conn.Send(frame); err != nil {
		h.logger.Warn("reply send failed", zap.Int64("conn_id", sess.id), zap.Error(err))
	}
}

// Stats reports subscriber-group and cached-document counts for liveness.
func (h *Hub) Stats() Stats {
	var stats Stats
	h.run(func() {
		stats = Stats{
			Connections: len(h.subscribers),
			Documents:   len(h.documents),
		}
	})
	return stats
}
