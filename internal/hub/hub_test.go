package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/0xDVC/neaut/internal/notes"
	"github.com/0xDVC/neaut/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection closed")
	}
	copied := make([]byte, len(frame))
	copy(copied, frame)
	c.frames = append(c.frames, copied)
	return nil
}

func (c *fakeConn) messages(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	decoded := make([]protocol.Message, 0, len(c.frames))
	for _, frame := range c.frames {
		message, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("undecodable frame %q: %v", frame, err)
		}
		decoded = append(decoded, message)
	}
	return decoded
}

func (c *fakeConn) lastMessage(t *testing.T) protocol.Message {
	t.Helper()
	messages := c.messages(t)
	if len(messages) == 0 {
		t.Fatal("expected at least one frame")
	}
	return messages[len(messages)-1]
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := New(Config{Clock: func() time.Time {
		return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	}})
	t.Cleanup(h.Close)
	return h
}

func join(t *testing.T, h *Hub, conn Sender, noteID, userID, userName string) int64 {
	t.Helper()
	connID := h.Connect(conn)
	frame, err := protocol.Encode(protocol.JoinNote{NoteID: noteID, UserID: userID, UserName: userName})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	h.HandleFrame(connID, frame)
	return connID
}

func send(t *testing.T, h *Hub, connID int64, message protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(message)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	h.HandleFrame(connID, frame)
}

func countByType(messages []protocol.Message, messageType protocol.Type) int {
	count := 0
	for _, message := range messages {
		if message.MessageType() == messageType {
			count++
		}
	}
	return count
}

func TestJoinBroadcastsToOthersOnly(t *testing.T) {
	h := newTestHub(t)

	connA := &fakeConn{}
	join(t, h, connA, "n1", "user-a", "Ada")

	connB := &fakeConn{}
	join(t, h, connB, "n1", "user-b", "Bob")

	joinedA := connA.lastMessage(t)
	userJoined, ok := joinedA.(protocol.UserJoined)
	if !ok {
		t.Fatalf("expected UserJoined on existing peer, got %T", joinedA)
	}
	if userJoined.UserID != "user-b" || userJoined.UserName != "Bob" {
		t.Fatalf("unexpected join announcement: %+v", userJoined)
	}

	if got := countByType(connB.messages(t), protocol.TypeUserJoined); got != 0 {
		t.Fatalf("joiner must not receive its own join, got %d", got)
	}
}

func TestNoteUpdateExcludesSenderAndCaches(t *testing.T) {
	h := newTestHub(t)

	connA := &fakeConn{}
	connAID := join(t, h, connA, "n1", "user-a", "Ada")

	connB := &fakeConn{}
	join(t, h, connB, "n1", "user-b", "Bob")

	note := notes.NewNote("n1", "hello from ada", time.Now().UTC())
	send(t, h, connAID, protocol.NoteUpdate{Note: note})

	updated, ok := connB.lastMessage(t).(protocol.NoteUpdated)
	if !ok {
		t.Fatalf("expected NoteUpdated on peer, got %T", connB.lastMessage(t))
	}
	if updated.Note.Content != "hello from ada" || updated.UserID != "user-a" {
		t.Fatalf("unexpected broadcast: %+v", updated)
	}

	if got := countByType(connA.messages(t), protocol.TypeNoteUpdated); got != 0 {
		t.Fatalf("sender must not receive its own update, got %d", got)
	}

	// a late joiner replays the cached snapshot
	connC := &fakeConn{}
	join(t, h, connC, "n1", "user-c", "Cid")
	var sawState bool
	for _, message := range connC.messages(t) {
		if state, ok := message.(protocol.DocumentState); ok {
			sawState = true
			if state.State.Content != "hello from ada" {
				t.Fatalf("unexpected cached state: %+v", state.State)
			}
		}
	}
	if !sawState {
		t.Fatal("expected document-state replay for late joiner")
	}
}

func TestNoteUpdateWithoutIDGetsErrorReply(t *testing.T) {
	h := newTestHub(t)

	connA := &fakeConn{}
	connAID := join(t, h, connA, "n1", "user-a", "Ada")
	connB := &fakeConn{}
	join(t, h, connB, "n1", "user-b", "Bob")

	h.HandleFrame(connAID, []byte(`{"type":"note-update","note":{"content":"missing id"}}`))

	if _, ok := connA.lastMessage(t).(protocol.ErrorReply); !ok {
		t.Fatalf("expected error reply to sender, got %T", connA.lastMessage(t))
	}
	if got := countByType(connB.messages(t), protocol.TypeNoteUpdated); got != 0 {
		t.Fatalf("peer must not see rejected update, got %d", got)
	}
}

func TestNoteDeleteIncludesSenderAndDropsGroup(t *testing.T) {
	h := newTestHub(t)

	connA := &fakeConn{}
	connAID := join(t, h, connA, "n1", "user-a", "Ada")
	connB := &fakeConn{}
	join(t, h, connB, "n1", "user-b", "Bob")

	send(t, h, connAID, protocol.NoteUpdate{Note: notes.NewNote("n1", "content", time.Now().UTC())})
	send(t, h, connAID, protocol.NoteDelete{NoteID: "n1"})

	for name, conn := range map[string]*fakeConn{"sender": connA, "peer": connB} {
		if got := countByType(conn.messages(t), protocol.TypeNoteDeleted); got != 1 {
			t.Fatalf("expected %s to receive exactly one delete, got %d", name, got)
		}
	}

	// late joiner sees neither cached state nor existing peers
	connC := &fakeConn{}
	join(t, h, connC, "n1", "user-c", "Cid")
	if got := countByType(connC.messages(t), protocol.TypeDocumentState); got != 0 {
		t.Fatalf("expected no cached state after delete, got %d", got)
	}
	if got := countByType(connA.messages(t), protocol.TypeUserJoined); got != 1 {
		t.Fatalf("expected pre-delete group to be discarded, got %d join announcements", got)
	}
}

func TestCursorUpdateStampsIdentityAndExcludesSender(t *testing.T) {
	h := newTestHub(t)

	connA := &fakeConn{}
	connAID := join(t, h, connA, "n1", "user-a", "Ada")
	connB := &fakeConn{}
	join(t, h, connB, "n1", "user-b", "Bob")

	send(t, h, connAID, protocol.CursorUpdate{
		Cursor: notes.CursorPosition{UserID: "spoofed", UserName: "Mallory", Position: 4},
	})

	cursor, ok := connB.lastMessage(t).(protocol.CursorUpdate)
	if !ok {
		t.Fatalf("expected CursorUpdate on peer, got %T", connB.lastMessage(t))
	}
	if cursor.Cursor.UserID != "user-a" || cursor.Cursor.UserName != "Ada" {
		t.Fatalf("expected sender identity stamped, got %+v", cursor.Cursor)
	}
	if cursor.Cursor.Position != 4 {
		t.Fatalf("expected position preserved, got %d", cursor.Cursor.Position)
	}
	if cursor.Timestamp == nil {
		t.Fatal("expected hub-side timestamp")
	}

	if got := countByType(connA.messages(t), protocol.TypeCursorUpdate); got != 0 {
		t.Fatalf("sender must not receive its own cursor, got %d", got)
	}
}

func TestReplicaUpdateForwardedVerbatim(t *testing.T) {
	h := newTestHub(t)

	connA := &fakeConn{}
	connAID := join(t, h, connA, "n1", "user-a", "Ada")
	connB := &fakeConn{}
	join(t, h, connB, "n1", "user-b", "Bob")

	payload := []byte{0x01, 0x02, 0x03}
	send(t, h, connAID, protocol.ReplicaUpdate{Payload: payload})

	replica, ok := connB.lastMessage(t).(protocol.ReplicaUpdate)
	if !ok {
		t.Fatalf("expected ReplicaUpdate on peer, got %T", connB.lastMessage(t))
	}
	if len(replica.Payload) != 3 || replica.Payload[0] != 0x01 {
		t.Fatalf("expected verbatim payload, got %v", replica.Payload)
	}
	if replica.UserID != "user-a" {
		t.Fatalf("expected sender id attached, got %q", replica.UserID)
	}

	if got := countByType(connA.messages(t), protocol.TypeReplicaUpdate); got != 0 {
		t.Fatalf("sender must not receive its own replica update, got %d", got)
	}
}

func TestMalformedFrameIsolatedToSender(t *testing.T) {
	h := newTestHub(t)

	connA := &fakeConn{}
	connAID := join(t, h, connA, "n1", "user-a", "Ada")
	connB := &fakeConn{}
	join(t, h, connB, "n1", "user-b", "Bob")

	h.HandleFrame(connAID, []byte("not json at all"))

	if _, ok := connA.lastMessage(t).(protocol.ErrorReply); !ok {
		t.Fatalf("expected error reply, got %T", connA.lastMessage(t))
	}
	if got := countByType(connB.messages(t), protocol.TypeError); got != 0 {
		t.Fatalf("peer must not observe another session's protocol error, got %d", got)
	}

	// the hub keeps serving the offending session afterwards
	send(t, h, connAID, protocol.NoteUpdate{Note: notes.NewNote("n1", "still alive", time.Now().UTC())})
	if got := countByType(connB.messages(t), protocol.TypeNoteUpdated); got != 1 {
		t.Fatalf("expected hub to keep routing after bad frame, got %d", got)
	}
}

func TestDisconnectNotifiesRemainingPeersAndKeepsCache(t *testing.T) {
	h := newTestHub(t)

	connA := &fakeConn{}
	connAID := join(t, h, connA, "n1", "user-a", "Ada")
	connB := &fakeConn{}
	join(t, h, connB, "n1", "user-b", "Bob")

	send(t, h, connAID, protocol.NoteUpdate{Note: notes.NewNote("n1", "kept", time.Now().UTC())})
	h.Disconnect(connAID)

	left, ok := connB.lastMessage(t).(protocol.UserLeft)
	if !ok {
		t.Fatalf("expected UserLeft, got %T", connB.lastMessage(t))
	}
	if left.UserID != "user-a" {
		t.Fatalf("unexpected departure: %+v", left)
	}

	// cache survives even when the last subscriber leaves
	h.Disconnect(h.Connect(&fakeConn{}))
	connC := &fakeConn{}
	join(t, h, connC, "n1", "user-c", "Cid")
	if got := countByType(connC.messages(t), protocol.TypeDocumentState); got != 1 {
		t.Fatalf("expected cached state after disconnects, got %d", got)
	}
}

func TestFailedSendEvictsSubscriber(t *testing.T) {
	h := newTestHub(t)

	connA := &fakeConn{}
	connAID := join(t, h, connA, "n1", "user-a", "Ada")
	broken := &fakeConn{fail: true}
	join(t, h, broken, "n1", "user-b", "Bob")

	send(t, h, connAID, protocol.NoteUpdate{Note: notes.NewNote("n1", "one", time.Now().UTC())})
	send(t, h, connAID, protocol.NoteUpdate{Note: notes.NewNote("n1", "two", time.Now().UTC())})

	stats := h.Stats()
	if stats.Connections != 1 {
		t.Fatalf("expected 1 subscriber group, got %d", stats.Connections)
	}
	if stats.Documents != 1 {
		t.Fatalf("expected 1 cached document, got %d", stats.Documents)
	}
}

func TestAnonymousJoinGetsGeneratedIdentity(t *testing.T) {
	h := newTestHub(t)

	connA := &fakeConn{}
	join(t, h, connA, "n1", "user-a", "Ada")
	connB := &fakeConn{}
	connBID := h.Connect(connB)
	send(t, h, connBID, protocol.JoinNote{NoteID: "n1"})

	joined, ok := connA.lastMessage(t).(protocol.UserJoined)
	if !ok {
		t.Fatalf("expected UserJoined, got %T", connA.lastMessage(t))
	}
	if joined.UserID == "" || joined.UserName != "Anonymous" {
		t.Fatalf("expected generated identity, got %+v", joined)
	}
}

func TestCallsAfterCloseAreNoOps(t *testing.T) {
	h := New(Config{})

	connA := &fakeConn{}
	connAID := join(t, h, connA, "n1", "user-a", "Ada")

	h.Close()

	// handlers unwinding during shutdown still call these
	h.Disconnect(connAID)
	send(t, h, connAID, protocol.NoteUpdate{Note: notes.NewNote("n1", "late", time.Now().UTC())})
	if h.Connect(&fakeConn{}) != 0 {
		t.Fatal("expected no session after close")
	}
	if stats := h.Stats(); stats.Connections != 0 || stats.Documents != 0 {
		t.Fatalf("expected zero stats after close, got %+v", stats)
	}

	h.Close()
}
