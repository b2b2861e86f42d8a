package integration

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/0xDVC/neaut/internal/agent"
	"github.com/0xDVC/neaut/internal/document"
	"github.com/0xDVC/neaut/internal/hub"
	"github.com/0xDVC/neaut/internal/notes"
	"github.com/0xDVC/neaut/internal/store"
)

// hubSide is the relay's handle on one client: frames broadcast by the hub
// land in the client's inbound channel.
type hubSide struct {
	inbound chan []byte
}

func (s *hubSide) Send(frame []byte) error {
	select {
	case s.inbound <- frame:
		return nil
	default:
		return errors.New("client too slow")
	}
}

// relayConn is the agent's side of an in-process connection to the hub.
type relayConn struct {
	relay   *hub.Hub
	id      int64
	inbound chan []byte

	once   sync.Once
	closed chan struct{}
}

func (c *relayConn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.relay.HandleFrame(c.id, frame)
	return nil
}

func (c *relayConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *relayConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.relay.Disconnect(c.id)
	})
	return nil
}

type relayDialer struct {
	relay *hub.Hub
}

func (d *relayDialer) Dial(ctx context.Context, url string) (agent.Conn, error) {
	inbound := make(chan []byte, 64)
	conn := &relayConn{
		relay:   d.relay,
		inbound: inbound,
		closed:  make(chan struct{}),
	}
	conn.id = d.relay.Connect(&hubSide{inbound: inbound})
	return conn, nil
}

type device struct {
	agent     *agent.Agent
	store     *store.NoteStore
	documents *document.Manager
}

func newDevice(t *testing.T, relay *hub.Hub, userID, userName string) *device {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "device.db"), nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	noteStore, err := store.New(store.Config{Database: db})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	documents := document.NewManager(document.ManagerConfig{})

	a, err := agent.New(agent.Config{
		Store:     noteStore,
		Documents: documents,
		Dialer:    &relayDialer{relay: relay},
		RelayURL:  "ws://in-process/ws",
		UserID:    userID,
		UserName:  userName,
	})
	if err != nil {
		t.Fatalf("unexpected agent error: %v", err)
	}
	t.Cleanup(a.Close)

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	return &device{agent: a, store: noteStore, documents: documents}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTwoDevicesConvergeThroughRelay(t *testing.T) {
	relay := hub.New(hub.Config{})
	defer relay.Close()
	ctx := context.Background()

	alice := newDevice(t, relay, "user-alice", "Alice")
	bob := newDevice(t, relay, "user-bob", "Bob")

	const noteID = notes.NoteID("shared-note")
	if err := alice.agent.JoinNote(ctx, noteID); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := bob.agent.JoinNote(ctx, noteID); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	// Alice writes; Bob has no local copy, so he adopts it.
	t1 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	original := notes.NewNote(noteID, "hello from alice", t1)
	if err := alice.agent.SyncNote(ctx, original); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	waitFor(t, "bob to adopt alice's note", func() bool {
		note, err := bob.store.GetNote(ctx, noteID)
		return err == nil && note.Content == "hello from alice"
	})

	// Bob answers with a strictly newer revision; Alice adopts it.
	revised, err := bob.store.GetNote(ctx, noteID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	revised.Content = "hello from alice\nand bob"
	revised.Touch(t1.Add(time.Minute))
	if err := bob.agent.SyncNote(ctx, revised); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	waitFor(t, "alice to adopt bob's revision", func() bool {
		note, err := alice.store.GetNote(ctx, noteID)
		return err == nil && note.Content == "hello from alice\nand bob"
	})

	// A stale revision from Alice leaves Bob's newer copy untouched.
	stale := original
	stale.Content = "stale resend"
	if err := alice.agent.SyncNote(ctx, stale); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	note, err := bob.store.GetNote(ctx, noteID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if note.Content != "hello from alice\nand bob" {
		t.Fatalf("expected stale revision discarded, got %q", note.Content)
	}
}

func TestLateJoinerReceivesDocumentState(t *testing.T) {
	relay := hub.New(hub.Config{})
	defer relay.Close()
	ctx := context.Background()

	alice := newDevice(t, relay, "user-alice", "Alice")
	const noteID = notes.NoteID("replayed-note")
	if err := alice.agent.JoinNote(ctx, noteID); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	note := notes.NewNote(noteID, "written before carol arrived", time.Now().UTC())
	if err := alice.agent.SyncNote(ctx, note); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}

	carol := newDevice(t, relay, "user-carol", "Carol")
	if err := carol.agent.JoinNote(ctx, noteID); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	waitFor(t, "carol to receive the replayed snapshot", func() bool {
		got, err := carol.store.GetNote(ctx, noteID)
		return err == nil && got.Content == "written before carol arrived"
	})
}

func TestRemoteDeleteReachesAllSubscribers(t *testing.T) {
	relay := hub.New(hub.Config{})
	defer relay.Close()
	ctx := context.Background()

	alice := newDevice(t, relay, "user-alice", "Alice")
	bob := newDevice(t, relay, "user-bob", "Bob")

	const noteID = notes.NoteID("doomed-note")
	if err := alice.agent.JoinNote(ctx, noteID); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := bob.agent.JoinNote(ctx, noteID); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	if err := alice.agent.SyncNote(ctx, notes.NewNote(noteID, "short lived", time.Now().UTC())); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	waitFor(t, "bob to adopt the note", func() bool {
		_, err := bob.store.GetNote(ctx, noteID)
		return err == nil
	})

	if err := bob.agent.DeleteNote(ctx, noteID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	waitFor(t, "alice to drop the deleted note", func() bool {
		_, err := alice.store.GetNote(ctx, noteID)
		return errors.Is(err, store.ErrNoteNotFound)
	})
}

func TestReplicaDeltasConvergeOpenDocuments(t *testing.T) {
	relay := hub.New(hub.Config{})
	defer relay.Close()
	ctx := context.Background()

	alice := newDevice(t, relay, "user-alice", "Alice")
	bob := newDevice(t, relay, "user-bob", "Bob")

	const noteID = notes.NoteID("live-note")
	if err := alice.agent.JoinNote(ctx, noteID); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := bob.agent.JoinNote(ctx, noteID); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	aliceDoc, err := alice.documents.Open(noteID, "")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	bobDoc, err := bob.documents.OpenFromSnapshot(noteID, aliceDoc.Snapshot())
	if err != nil {
		t.Fatalf("unexpected snapshot error: %v", err)
	}
	bobDoc.TakeLocalDelta()

	if _, err := aliceDoc.SetText("typed live by alice"); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if err := alice.agent.PushReplicaUpdates(ctx, noteID); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}

	waitFor(t, "bob's replica to converge", func() bool {
		text, err := bobDoc.Text()
		return err == nil && text == "typed live by alice"
	})
}
