package store

// NoteRecord persists one note as serialized JSON, with secondary orderings
// by creation and update time.
type NoteRecord struct {
	NoteID           string `gorm:"column:note_id;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_notes_created"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_notes_updated"`
}

// TableName provides the explicit table binding for GORM.
func (NoteRecord) TableName() string {
	return "notes"
}

// MetadataRecord persists sync bookkeeping keyed by an arbitrary string.
type MetadataRecord struct {
	Key              string `gorm:"column:key;primaryKey;size:190;not null"`
	ValueJSON        string `gorm:"column:value_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MetadataRecord) TableName() string {
	return "sync_metadata"
}
