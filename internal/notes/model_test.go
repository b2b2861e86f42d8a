package notes

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewNoteIDRejectsEmptyInput(t *testing.T) {
	if _, err := NewNoteID("   "); !errors.Is(err, ErrInvalidNoteID) {
		t.Fatalf("expected ErrInvalidNoteID, got %v", err)
	}
}

func TestNewNoteIDRejectsOversizedInput(t *testing.T) {
	if _, err := NewNoteID(strings.Repeat("a", maxIdentifierLength+1)); !errors.Is(err, ErrInvalidNoteID) {
		t.Fatalf("expected ErrInvalidNoteID, got %v", err)
	}
}

func TestNewUserIDTrimsWhitespace(t *testing.T) {
	id, err := NewUserID("  user-1  ")
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	if id.String() != "user-1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
}

func TestNoteValidateShareInvariant(t *testing.T) {
	now := time.Now().UTC()

	shared := NewNote("n1", "hello", now)
	shared.IsShared = true
	if err := shared.Validate(); !errors.Is(err, ErrShareStateMismatch) {
		t.Fatalf("expected ErrShareStateMismatch for shared note without share id, got %v", err)
	}

	shared.ShareID = "share-1"
	if err := shared.Validate(); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}

	orphan := NewNote("n2", "", now)
	orphan.ShareID = "share-2"
	if err := orphan.Validate(); !errors.Is(err, ErrShareStateMismatch) {
		t.Fatalf("expected ErrShareStateMismatch for share id without flag, got %v", err)
	}
}

func TestTouchNeverMovesUpdatedAtBackwards(t *testing.T) {
	now := time.Now().UTC()
	note := NewNote("n1", "hello", now)

	note.Touch(now.Add(-time.Hour))
	if !note.UpdatedAt.Equal(now) {
		t.Fatalf("expected updatedAt unchanged, got %v", note.UpdatedAt)
	}

	later := now.Add(time.Minute)
	note.Touch(later)
	if !note.UpdatedAt.Equal(later) {
		t.Fatalf("expected updatedAt advanced to %v, got %v", later, note.UpdatedAt)
	}
}

func TestCheckpointAppendsImmutableEntry(t *testing.T) {
	now := time.Now().UTC()
	note := NewNote("n1", "draft one", now)

	entry := note.Checkpoint("v1", now, "user-1", "Ada", nil)
	note.Content = "draft two"

	if len(note.Versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(note.Versions))
	}
	if note.Versions[0].Content != "draft one" {
		t.Fatalf("expected version snapshot to keep original content, got %q", note.Versions[0].Content)
	}
	if entry.ID != "v1" || entry.UserName != "Ada" {
		t.Fatalf("unexpected version entry: %+v", entry)
	}
}

func TestUpsertCollaboratorPreservesInsertionOrder(t *testing.T) {
	note := NewNote("n1", "", time.Now().UTC())
	note.UpsertCollaborator(CollaboratorPresence{UserID: "a", UserName: "Ada"})
	note.UpsertCollaborator(CollaboratorPresence{UserID: "b", UserName: "Bob"})
	note.UpsertCollaborator(CollaboratorPresence{UserID: "a", UserName: "Ada L.", IsActive: true})

	if len(note.Collaborators) != 2 {
		t.Fatalf("expected 2 collaborators, got %d", len(note.Collaborators))
	}
	if note.Collaborators[0].UserName != "Ada L." || !note.Collaborators[0].IsActive {
		t.Fatalf("expected first slot updated in place, got %+v", note.Collaborators[0])
	}
	if note.Collaborators[1].UserID != "b" {
		t.Fatalf("expected insertion order preserved, got %+v", note.Collaborators[1])
	}
}

func TestColorForUserIsDeterministic(t *testing.T) {
	first := ColorForUser("user-42")
	second := ColorForUser("user-42")
	if first != second {
		t.Fatalf("expected stable color, got %q and %q", first, second)
	}
	if !strings.HasPrefix(first, "#") {
		t.Fatalf("expected hex color, got %q", first)
	}
}

func TestTitleAndPreview(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		title   string
		preview string
	}{
		{name: "empty", content: "", title: "New Note", preview: "No additional text"},
		{name: "single line", content: "Groceries", title: "Groceries", preview: "No additional text"},
		{name: "two lines", content: "Groceries\nmilk and eggs", title: "Groceries", preview: "milk and eggs"},
		{name: "blank first line", content: "\nbody", title: "New Note", preview: "body"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			note := NewNote("n1", testCase.content, time.Now().UTC())
			if got := note.Title(); got != testCase.title {
				t.Fatalf("expected title %q, got %q", testCase.title, got)
			}
			if got := note.Preview(); got != testCase.preview {
				t.Fatalf("expected preview %q, got %q", testCase.preview, got)
			}
		})
	}
}
