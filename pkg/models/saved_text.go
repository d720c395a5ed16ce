package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/encryption"
)

// SavedText is a user-saved snippet (notes, talking points, drafts)
// referenced by the request enricher. The content is encrypted at rest;
// only the owning user's requests decrypt it.
type SavedText struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	OwnerID string `gorm:"type:varchar(255);not null;index:idx_saved_texts_owner" json:"ownerId"`
	Title   string `gorm:"type:varchar(500);not null" json:"title"`

	// Content is the AES-256-GCM envelope of the text.
	Content EncryptedField `gorm:"type:jsonb;not null" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name.
func (SavedText) TableName() string {
	return "saved_texts"
}

// EncryptedField stores an encryption envelope in a JSONB column.
type EncryptedField struct {
	E string `json:"e"`
	I string `json:"i"`
	A string `json:"a"`
}

// Scan implements the sql.Scanner interface.
func (f *EncryptedField) Scan(value interface{}) error {
	if value == nil {
		*f = EncryptedField{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal encrypted field: unsupported type %T", value)
	}

	return json.Unmarshal(bytes, f)
}

// Value implements the driver.Valuer interface.
func (f EncryptedField) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Envelope converts the stored field into an encryption envelope.
func (f EncryptedField) Envelope() *encryption.Envelope {
	return &encryption.Envelope{E: f.E, I: f.I, A: f.A}
}

// NewEncryptedField wraps an encryption envelope for storage.
func NewEncryptedField(env *encryption.Envelope) EncryptedField {
	return EncryptedField{E: env.E, I: env.I, A: env.A}
}

// IsZero reports whether the field holds no ciphertext.
func (f EncryptedField) IsZero() bool {
	return f.E == "" && f.I == "" && f.A == ""
}

// Create validates and inserts the saved text.
func (st *SavedText) Create(db *gorm.DB) error {
	if err := validation.ValidateStruct(st,
		validation.Field(&st.OwnerID, validation.Required),
		validation.Field(&st.Title, validation.Required),
	); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if st.Content.IsZero() {
		return fmt.Errorf("validation error: content is required")
	}

	return db.Create(&st).Error
}

// GetSavedTextForOwner retrieves a saved text scoped to its owner.
func GetSavedTextForOwner(db *gorm.DB, ownerID string, id uint) (*SavedText, error) {
	var st SavedText
	err := db.Where("id = ? AND owner_id = ?", id, ownerID).First(&st).Error
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetSavedTextsForOwner retrieves multiple saved texts scoped to their
// owner, preserving the requested order. Missing ids are skipped.
func GetSavedTextsForOwner(db *gorm.DB, ownerID string, ids []uint) ([]SavedText, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []SavedText
	err := db.Where("owner_id = ? AND id IN ?", ownerID, ids).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byID := make(map[uint]SavedText, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	ordered := make([]SavedText, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// ListSavedTexts walks all saved texts in batches. Used by key
// rotation, which must touch every encrypted row.
func ListSavedTexts(db *gorm.DB, batchSize int, fn func([]SavedText) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	var batch []SavedText
	return db.Model(&SavedText{}).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}
