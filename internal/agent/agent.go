// Package agent owns the device's single relay connection. It persists edits
// locally before making them visible on the network, queues outbound traffic
// while offline, reconnects with bounded exponential backoff, and reconciles
// inbound snapshots by last-write-wins on update time.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xDVC/neaut/internal/document"
	"github.com/0xDVC/neaut/internal/notes"
	"github.com/0xDVC/neaut/internal/protocol"
	"github.com/0xDVC/neaut/internal/store"
	"go.uber.org/zap"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 5

	metadataLastConnected = "last_connected_at"
)

var (
	errMissingStore     = errors.New("agent: note store is required")
	errMissingDocuments = errors.New("agent: document manager is required")
	errMissingDialer    = errors.New("agent: dialer is required when a relay url is set")
)

// Config describes the dependencies of an Agent.
type Config struct {
	Store     *store.NoteStore
	Documents *document.Manager
	Dialer    Dialer

	// RelayURL is the relay endpoint. Empty disables sync entirely; the
	// agent then runs offline-only against the local store.
	RelayURL string

	UserID   string
	UserName string

	BaseDelay   time.Duration
	MaxAttempts int

	Clock      func() time.Time
	IDProvider notes.IDProvider
	Logger     *zap.Logger
}

// Agent is the process-wide sync coordinator. Construct one per device
// session and share it; it owns at most one relay connection.
type Agent struct {
	store     *store.NoteStore
	documents *document.Manager
	dialer    Dialer
	relayURL  string

	userID   string
	userName string

	baseDelay   time.Duration
	maxAttempts int
	clock       func() time.Time
	ids         notes.IDProvider
	logger      *zap.Logger
	feed        *feed

	mu             sync.Mutex
	conn           Conn
	attempts       int
	online         bool
	closed         bool
	queue          [][]byte
	reconnectTimer *time.Timer
	currentNoteID  string
}

// New validates the configuration and returns an Agent. The agent starts
// online but unconnected; call Connect to reach the relay.
func New(cfg Config) (*Agent, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Documents == nil {
		return nil, errMissingDocuments
	}
	if cfg.RelayURL != "" && cfg.Dialer == nil {
		return nil, errMissingDialer
	}

	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = notes.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Agent{
		store:       cfg.Store,
		documents:   cfg.Documents,
		dialer:      cfg.Dialer,
		relayURL:    cfg.RelayURL,
		userID:      cfg.UserID,
		userName:    cfg.UserName,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		clock:       clock,
		ids:         ids,
		logger:      logger,
		feed:        newFeed(logger),
		online:      true,
	}, nil
}

// Subscribe registers a listener on the sync event feed. The returned
// function cancels the subscription.
func (a *Agent) Subscribe(listener func(Event)) func() {
	return a.feed.subscribe(listener)
}

// Status reports connectivity as consumers should display it.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.relayURL == "" || !a.online {
		return StatusOffline
	}
	if a.conn != nil {
		return StatusOnline
	}
	return StatusConnecting
}

// Connect dials the relay if sync is enabled and no connection is open. On
// success the attempt counter resets and the outbound queue flushes in FIFO
// order. Dial failures schedule a backoff retry.
func (a *Agent) Connect(ctx context.Context) error {
	if a.relayURL == "" {
		return nil
	}

	a.mu.Lock()
	if a.closed || !a.online || a.conn != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	a.feed.emit(Event{Type: EventSyncStatus, Status: StatusConnecting})

	conn, err := a.dialer.Dial(ctx, a.relayURL)
	if err != nil {
		a.logger.Warn("relay dial failed", zap.String("url", a.relayURL), zap.Error(err))
		a.scheduleReconnect()
		return fmt.Errorf("agent: dial relay: %w", err)
	}

	a.mu.Lock()
	// re-checked after the dial: a concurrent Connect may have won the race
	if a.closed || !a.online || a.conn != nil {
		a.mu.Unlock()
		conn.Close() //nolint:errcheck
		return nil
	}
	a.conn = conn
	a.attempts = 0
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	currentNote := a.currentNoteID
	a.mu.Unlock()

	a.logger.Info("connected to relay", zap.String("url", a.relayURL))
	a.feed.emit(Event{Type: EventSyncStatus, Status: StatusOnline})

	if err := a.store.SetMetadata(ctx, metadataLastConnected, a.clock().UTC().Unix()); err != nil {
		a.logger.Warn("failed to record connection time", zap.Error(err))
	}

	if currentNote != "" {
		a.rejoin(ctx, conn, currentNote)
	}
	a.flushQueue(ctx, conn)

	go a.readLoop(conn)
	return nil
}

func (a *Agent) rejoin(ctx context.Context, conn Conn, noteID string) {
	frame, err := protocol.Encode(protocol.JoinNote{
		NoteID:   noteID,
		UserID:   a.userID,
		UserName: a.userName,
	})
	if err != nil {
		a.logger.Error("rejoin encode failed", zap.Error(err))
		return
	}
	if err := conn.Send(ctx, frame); err != nil {
		a.connectionLost(conn)
	}
}

func (a *Agent) flushQueue(ctx context.Context, conn Conn) {
	for {
		a.mu.Lock()
		if a.conn != conn || len(a.queue) == 0 {
			a.mu.Unlock()
			return
		}
		frame := a.queue[0]
		a.queue = a.queue[1:]
		a.mu.Unlock()

		if err := conn.Send(ctx, frame); err != nil {
			a.mu.Lock()
			a.queue = append([][]byte{frame}, a.queue...)
			a.mu.Unlock()
			a.connectionLost(conn)
			return
		}
	}
}

func (a *Agent) readLoop(conn Conn) {
	ctx := context.Background()
	for {
		frame, err := conn.Receive(ctx)
		if err != nil {
			a.connectionLost(conn)
			return
		}
		a.handleInbound(ctx, frame)
	}
}

func (a *Agent) connectionLost(conn Conn) {
	a.mu.Lock()
	if a.conn != conn {
		a.mu.Unlock()
		return
	}
	a.conn = nil
	closed := a.closed
	a.mu.Unlock()

	conn.Close() //nolint:errcheck
	if closed {
		return
	}

	a.logger.Info("relay connection lost")
	a.feed.emit(Event{Type: EventSyncStatus, Status: StatusOffline})
	a.scheduleReconnect()
}

// scheduleReconnect arms a single retry timer at base*2^attempt. After the
// configured maximum attempt count no further automatic attempts occur until
// a manual trigger.
func (a *Agent) scheduleReconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || !a.online || a.conn != nil || a.reconnectTimer != nil {
		return
	}
	if a.attempts >= a.maxAttempts {
		a.logger.Warn("reconnect attempts exhausted, waiting for manual trigger",
			zap.Int("attempts", a.attempts))
		return
	}

	delay := a.backoffDelay(a.attempts)
	a.attempts++
	a.reconnectTimer = time.AfterFunc(delay, func() {
		a.mu.Lock()
		a.reconnectTimer = nil
		a.mu.Unlock()
		a.Connect(context.Background()) //nolint:errcheck
	})
}

func (a *Agent) backoffDelay(attempt int) time.Duration {
	return a.baseDelay << attempt
}

// SetOnline feeds the platform's connectivity signal into the agent. The
// transition to online resets the attempt counter and is the manual
// reconnect trigger once automatic attempts are exhausted.
func (a *Agent) SetOnline(online bool) {
	a.mu.Lock()
	if a.online == online {
		a.mu.Unlock()
		return
	}
	a.online = online
	conn := a.conn
	if !online {
		a.conn = nil
		if a.reconnectTimer != nil {
			a.reconnectTimer.Stop()
			a.reconnectTimer = nil
		}
	} else {
		a.attempts = 0
	}
	a.mu.Unlock()

	if !online {
		if conn != nil {
			conn.Close() //nolint:errcheck
		}
		a.feed.emit(Event{Type: EventSyncStatus, Status: StatusOffline})
		return
	}

	a.Connect(context.Background()) //nolint:errcheck
}

// SyncNote persists the note locally first, then sends or queues a
// note-update. The local note-updated event fires regardless of network
// outcome.
func (a *Agent) SyncNote(ctx context.Context, note notes.Note) error {
	if err := a.store.SaveNote(ctx, note); err != nil {
		return err
	}

	if a.relayURL != "" {
		frame, err := protocol.Encode(protocol.NoteUpdate{Note: note})
		if err != nil {
			return err
		}
		a.sendOrQueue(ctx, frame)
	}

	adopted := note
	a.feed.emit(Event{Type: EventNoteUpdated, NoteID: note.ID, Note: &adopted})
	return nil
}

// DeleteNote removes the note locally, releases its replicated document and
// sends or queues the delete.
func (a *Agent) DeleteNote(ctx context.Context, noteID notes.NoteID) error {
	if err := a.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}
	a.documents.Destroy(noteID)

	if a.relayURL != "" {
		frame, err := protocol.Encode(protocol.NoteDelete{NoteID: noteID.String()})
		if err != nil {
			return err
		}
		a.sendOrQueue(ctx, frame)
	}

	a.feed.emit(Event{Type: EventNoteDeleted, NoteID: noteID.String()})
	return nil
}

// JoinNote subscribes this device to a note's broadcast group. One note is
// active at a time; joining another re-targets the session. Joins are never
// queued: while disconnected only the target is recorded, and the next
// Connect announces it exactly once via rejoin.
func (a *Agent) JoinNote(ctx context.Context, noteID notes.NoteID) error {
	a.mu.Lock()
	a.currentNoteID = noteID.String()
	conn := a.conn
	a.mu.Unlock()

	if a.relayURL == "" || conn == nil {
		return nil
	}
	frame, err := protocol.Encode(protocol.JoinNote{
		NoteID:   noteID.String(),
		UserID:   a.userID,
		UserName: a.userName,
	})
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, frame); err != nil {
		a.connectionLost(conn)
	}
	return nil
}

// PublishCursor broadcasts the local caret. Cursors are ephemeral: when no
// connection is open they are dropped, never queued.
func (a *Agent) PublishCursor(ctx context.Context, position int, selection *notes.SelectionRange) {
	cursor := notes.CursorPosition{
		UserID:    a.userID,
		UserName:  a.userName,
		Position:  position,
		Selection: selection,
		Color:     notes.ColorForUser(a.userID),
	}
	if doc, ok := a.currentDocument(); ok {
		doc.SetLocalPresence(cursor, a.clock().UTC())
	}

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}

	frame, err := protocol.Encode(protocol.CursorUpdate{Cursor: cursor})
	if err != nil {
		a.logger.Error("cursor encode failed", zap.Error(err))
		return
	}
	if err := conn.Send(ctx, frame); err != nil {
		a.connectionLost(conn)
	}
}

// PushReplicaUpdates drains the open document's pending local delta and
// sends or queues it for peers.
func (a *Agent) PushReplicaUpdates(ctx context.Context, noteID notes.NoteID) error {
	if a.relayURL == "" {
		return nil
	}
	doc, ok := a.documents.Get(noteID)
	if !ok {
		return nil
	}
	delta := doc.TakeLocalDelta()
	if len(delta) == 0 {
		return nil
	}
	frame, err := protocol.Encode(protocol.ReplicaUpdate{Payload: delta})
	if err != nil {
		return err
	}
	a.sendOrQueue(ctx, frame)
	return nil
}

// LoadOrCreate loads a note from the local store, falling back to a fresh
// default note when loading fails for any reason.
func (a *Agent) LoadOrCreate(ctx context.Context, noteID notes.NoteID) (notes.Note, error) {
	note, err := a.store.GetNote(ctx, noteID)
	if err == nil {
		return note, nil
	}
	if !errors.Is(err, store.ErrNoteNotFound) {
		a.logger.Warn("note load failed, creating fresh note",
			zap.String("note_id", noteID.String()),
			zap.Error(err))
	}

	fresh := notes.NewNote(noteID, "", a.clock().UTC())
	if err := a.store.SaveNote(ctx, fresh); err != nil {
		return fresh, err
	}
	return fresh, nil
}

// Close tears the agent down: timer cancelled, connection closed, documents
// released, listeners cleared.
func (a *Agent) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	conn := a.conn
	a.conn = nil
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	a.mu.Unlock()

	if conn != nil {
		conn.Close() //nolint:errcheck
	}
	a.documents.Shutdown()
	a.feed.clear()
}

func (a *Agent) sendOrQueue(ctx context.Context, frame []byte) {
	a.mu.Lock()
	conn := a.conn
	if !a.online || conn == nil {
		a.queue = append(a.queue, frame)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if err := conn.Send(ctx, frame); err != nil {
		a.mu.Lock()
		a.queue = append(a.queue, frame)
		a.mu.Unlock()
		a.connectionLost(conn)
	}
}
