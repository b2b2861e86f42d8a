package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/0xDVC/neaut/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrNoteNotFound indicates that no record exists for the requested note id.
	ErrNoteNotFound = errors.New("store: note not found")
	// ErrMetadataNotFound indicates that no record exists for the requested key.
	ErrMetadataNotFound = errors.New("store: metadata not found")

	noOpLogger = zap.NewNop()
)

const (
	opStoreNew    = "store.new"
	opSaveNote    = "store.save_note"
	opGetNote     = "store.get_note"
	opListNotes   = "store.list_notes"
	opDeleteNote  = "store.delete_note"
	opSetMetadata = "store.set_metadata"
	opGetMetadata = "store.get_metadata"
)

// StoreError wraps a failed store operation with a dotted code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Config describes the dependencies of a NoteStore.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NoteStore is the device-local durable owner of note records.
type NoteStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// New validates the configuration and returns a NoteStore.
func New(cfg Config) (*NoteStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &NoteStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// SaveNote upserts the note record, serializing the full payload.
func (s *NoteStore) SaveNote(ctx context.Context, note notes.Note) error {
	if err := note.Validate(); err != nil {
		return newStoreError(opSaveNote, "invalid_note", err)
	}

	payload, err := json.Marshal(note)
	if err != nil {
		return newStoreError(opSaveNote, "marshal_failed", err)
	}

	record := NoteRecord{
		NoteID:           note.ID,
		PayloadJSON:      string(payload),
		CreatedAtSeconds: note.CreatedAt.Unix(),
		UpdatedAtSeconds: note.UpdatedAt.Unix(),
	}

	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logger.Error("note save failed", zap.String("note_id", note.ID), zap.Error(err))
		return newStoreError(opSaveNote, "write_failed", err)
	}
	return nil
}

// GetNote loads one note by id. Returns ErrNoteNotFound when absent.
func (s *NoteStore) GetNote(ctx context.Context, id notes.NoteID) (notes.Note, error) {
	var record NoteRecord
	err := s.db.WithContext(ctx).Where("note_id = ?", id.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notes.Note{}, fmt.Errorf("%w: %s", ErrNoteNotFound, id.String())
	}
	if err != nil {
		s.logger.Error("note read failed", zap.String("note_id", id.String()), zap.Error(err))
		return notes.Note{}, newStoreError(opGetNote, "read_failed", err)
	}
	return decodeNote(record)
}

// ListNotes returns all persisted notes ordered by update time descending.
func (s *NoteStore) ListNotes(ctx context.Context) ([]notes.Note, error) {
	var records []NoteRecord
	if err := s.db.WithContext(ctx).
		Order("updated_at_s DESC").
		Find(&records).Error; err != nil {
		s.logger.Error("note list failed", zap.Error(err))
		return nil, newStoreError(opListNotes, "query_failed", err)
	}

	result := make([]notes.Note, 0, len(records))
	for _, record := range records {
		note, err := decodeNote(record)
		if err != nil {
			return nil, err
		}
		result = append(result, note)
	}
	return result, nil
}

// DeleteNote removes the record for the given id. Deleting an absent note is
// not an error.
func (s *NoteStore) DeleteNote(ctx context.Context, id notes.NoteID) error {
	if err := s.db.WithContext(ctx).
		Where("note_id = ?", id.String()).
		Delete(&NoteRecord{}).Error; err != nil {
		s.logger.Error("note delete failed", zap.String("note_id", id.String()), zap.Error(err))
		return newStoreError(opDeleteNote, "delete_failed", err)
	}
	return nil
}

// SetMetadata upserts a sync bookkeeping value under the given key.
func (s *NoteStore) SetMetadata(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return newStoreError(opSetMetadata, "marshal_failed", err)
	}
	record := MetadataRecord{
		Key:              key,
		ValueJSON:        string(payload),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return newStoreError(opSetMetadata, "write_failed", err)
	}
	return nil
}

// GetMetadata loads a sync bookkeeping value into out. Returns
// ErrMetadataNotFound when the key has never been written.
func (s *NoteStore) GetMetadata(ctx context.Context, key string, out any) error {
	var record MetadataRecord
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrMetadataNotFound, key)
	}
	if err != nil {
		return newStoreError(opGetMetadata, "read_failed", err)
	}
	if err := json.Unmarshal([]byte(record.ValueJSON), out); err != nil {
		return newStoreError(opGetMetadata, "unmarshal_failed", err)
	}
	return nil
}

func decodeNote(record NoteRecord) (notes.Note, error) {
	var note notes.Note
	if err := json.Unmarshal([]byte(record.PayloadJSON), &note); err != nil {
		return notes.Note{}, newStoreError(opGetNote, "unmarshal_failed", err)
	}
	return note, nil
}
