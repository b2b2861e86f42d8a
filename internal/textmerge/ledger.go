package textmerge

import (
	"errors"
	"fmt"
	"sync"
)

// Resolution selects which side of a conflict the caller applied.
type Resolution string

const (
	// ResolutionLocal keeps the local line.
	ResolutionLocal Resolution = "local"
	// ResolutionRemote keeps the remote line.
	ResolutionRemote Resolution = "remote"
	// ResolutionBoth keeps both lines.
	ResolutionBoth Resolution = "both"
)

var (
	// ErrConflictNotFound indicates an id absent from the pending set.
	ErrConflictNotFound = errors.New("textmerge: conflict not found")
	// ErrInvalidResolution indicates an unrecognized resolution choice.
	ErrInvalidResolution = errors.New("textmerge: invalid resolution")
)

// Ledger tracks unresolved conflicts across merge passes. Applying a chosen
// resolution to the live document is the caller's responsibility; the ledger
// only tracks what is still pending.
type Ledger struct {
	mu      sync.Mutex
	pending map[string]Conflict
}

// NewLedger returns an empty conflict ledger.
func NewLedger() *Ledger {
	return &Ledger{pending: make(map[string]Conflict)}
}

// Record adds the conflicts from one merge pass to the pending set.
func (l *Ledger) Record(conflicts []Conflict) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, conflict := range conflicts {
		l.pending[conflict.ID] = conflict
	}
}

// Pending returns the unresolved conflicts in unspecified order.
func (l *Ledger) Pending() []Conflict {
	l.mu.Lock()
	defer l.mu.Unlock()
	conflicts := make([]Conflict, 0, len(l.pending))
	for _, conflict := range l.pending {
		conflicts = append(conflicts, conflict)
	}
	return conflicts
}

// Resolve removes the conflict after the caller applied the chosen text.
func (l *Ledger) Resolve(conflictID string, resolution Resolution) (Conflict, error) {
	switch resolution {
	case ResolutionLocal, ResolutionRemote, ResolutionBoth:
	default:
		return Conflict{}, fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}
	return l.remove(conflictID)
}

// Dismiss removes the conflict without applying either side.
func (l *Ledger) Dismiss(conflictID string) (Conflict, error) {
	return l.remove(conflictID)
}

func (l *Ledger) remove(conflictID string) (Conflict, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conflict, ok := l.pending[conflictID]
	if !ok {
		return Conflict{}, fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	}
	delete(l.pending, conflictID)
	return conflict, nil
}
