package document

import (
	"fmt"
	"sync"

	"github.com/0xDVC/neaut/internal/notes"
	"github.com/automerge/automerge-go"
	"go.uber.org/zap"
)

// ManagerConfig describes the dependencies of a Manager.
type ManagerConfig struct {
	Logger *zap.Logger
}

// Manager is the registry of open replicated documents, one per
// actively-shared note. Documents are a derived, rebuildable view; the
// durable source of truth stays in the local store.
type Manager struct {
	mu     sync.Mutex
	docs   map[string]*Document
	logger *zap.Logger
}

// NewManager returns an empty document registry.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		docs:   make(map[string]*Document),
		logger: logger,
	}
}

// Open creates the replicated document for a note, seeding it with the given
// content. Repeated calls for the same note return the existing instance
// untouched.
func (m *Manager) Open(noteID notes.NoteID, initialContent string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.docs[noteID.String()]; ok {
		return existing, nil
	}

	doc := automerge.New()
	if initialContent != "" {
		if err := doc.Path(contentKey).Text().Insert(0, initialContent); err != nil {
			return nil, fmt.Errorf("document: seed text: %w", err)
		}
		doc.Commit("seed content")
	}

	created, err := newDocument(noteID.String(), doc)
	if err != nil {
		return nil, err
	}
	m.docs[noteID.String()] = created
	m.logger.Debug("replicated document opened", zap.String("note_id", noteID.String()))
	return created, nil
}

// OpenFromSnapshot restores a previously saved document. Idempotent like Open.
func (m *Manager) OpenFromSnapshot(noteID notes.NoteID, snapshot []byte) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.docs[noteID.String()]; ok {
		return existing, nil
	}

	doc, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	created, err := newDocument(noteID.String(), doc)
	if err != nil {
		return nil, err
	}
	m.docs[noteID.String()] = created
	return created, nil
}

// Get returns the open document for a note, if any.
func (m *Manager) Get(noteID notes.NoteID) (*Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[noteID.String()]
	return doc, ok
}

// Destroy releases the document for a note and removes it from the registry.
func (m *Manager) Destroy(noteID notes.NoteID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[noteID.String()]; ok {
		delete(m.docs, noteID.String())
		m.logger.Debug("replicated document destroyed", zap.String("note_id", noteID.String()))
	}
}

// Shutdown destroys every open document.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for noteID := range m.docs {
		delete(m.docs, noteID)
	}
}
