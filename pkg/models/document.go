package models

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document is the metadata row for an ingested document. The text
// itself lives as chunks in the vector index; this row carries
// ownership, lifecycle status, and display metadata.
type Document struct {
	// ID is the stable document identifier (UUID v4).
	ID string `gorm:"type:uuid;primaryKey" json:"id"`

	// OwnerID scopes the document to one user. Retrieval only ever
	// sees documents whose owner matches the caller.
	OwnerID string `gorm:"type:varchar(255);not null;index:idx_documents_owner" json:"ownerId"`

	Title    string `gorm:"type:varchar(500);not null" json:"title"`
	Filename string `gorm:"type:varchar(500)" json:"filename,omitempty"`

	// SourceType records how the document entered the system.
	SourceType string `gorm:"type:varchar(50);not null;default:'upload';index:idx_documents_source_type" json:"sourceType"`

	// Status is the ingestion lifecycle state.
	Status string `gorm:"type:varchar(50);not null;default:'pending';index:idx_documents_status" json:"status"`

	// VectorCount is the number of chunks upserted into the vector
	// index. Equals the chunk count on completed documents.
	VectorCount int `gorm:"not null;default:0" json:"vectorCount"`

	// FileSize is the original payload size in bytes.
	FileSize int64 `gorm:"not null;default:0" json:"fileSize"`

	// ProcessingError holds the failure reason for failed documents.
	ProcessingError string `gorm:"type:text" json:"processingError,omitempty"`

	// Metadata is opaque side-metadata: extraction method, original
	// URL, word count, content preview.
	Metadata JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name.
func (Document) TableName() string {
	return "documents"
}

// Document status constants.
const (
	DocumentStatusPending              = "pending"
	DocumentStatusProcessing           = "processing"
	DocumentStatusProcessingEmbeddings = "processing_embeddings"
	DocumentStatusCompleted            = "completed"
	DocumentStatusFailed               = "failed"
)

// Document source type constants.
const (
	SourceTypeUpload     = "upload"
	SourceTypeManualText = "manual_text"
	SourceTypeURLCrawl   = "url_crawl"
	SourceTypeGrundsatz  = "grundsatz"
)

// ValidSourceTypes returns all recognized source types.
func ValidSourceTypes() []interface{} {
	return []interface{}{
		SourceTypeUpload,
		SourceTypeManualText,
		SourceTypeURLCrawl,
		SourceTypeGrundsatz,
	}
}

// BeforeCreate assigns an ID and defaults.
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DocumentStatusPending
	}
	if d.SourceType == "" {
		d.SourceType = SourceTypeUpload
	}
	return nil
}

// Create validates and inserts the document.
func (d *Document) Create(db *gorm.DB) error {
	if err := validation.ValidateStruct(d,
		validation.Field(&d.OwnerID, validation.Required),
		validation.Field(&d.Title, validation.Required),
		validation.Field(&d.SourceType, validation.In(append(ValidSourceTypes(), "")...)),
	); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	return db.Create(&d).Error
}

// GetDocument retrieves a document by ID regardless of owner. Internal
// use only; owner-facing paths go through GetDocumentForOwner.
func GetDocument(db *gorm.DB, id string) (*Document, error) {
	var doc Document
	if err := db.Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocumentForOwner retrieves a document scoped to its owner.
// Returns gorm.ErrRecordNotFound both for absent rows and for rows
// owned by someone else.
func GetDocumentForOwner(db *gorm.DB, ownerID, id string) (*Document, error) {
	var doc Document
	err := db.Where("id = ? AND owner_id = ?", id, ownerID).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocumentsForOwner returns the owner's documents, newest first.
func ListDocumentsForOwner(db *gorm.DB, ownerID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	var docs []Document
	err := db.
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&docs).Error
	return docs, err
}

// SetDocumentStatus advances the lifecycle status of a document.
func SetDocumentStatus(db *gorm.DB, id, status string) error {
	return db.Model(&Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// CompleteDocument marks a document completed with its final chunk
// count and metadata.
func CompleteDocument(db *gorm.DB, id string, vectorCount int, metadata JSONMap) error {
	updates := map[string]interface{}{
		"status":           DocumentStatusCompleted,
		"vector_count":     vectorCount,
		"processing_error": "",
		"updated_at":       time.Now(),
	}
	if metadata != nil {
		updates["metadata"] = metadata
	}
	return db.Model(&Document{}).Where("id = ?", id).Updates(updates).Error
}

// FailDocument marks a document failed with a reason.
func FailDocument(db *gorm.DB, id, reason string) error {
	return db.Model(&Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           DocumentStatusFailed,
			"processing_error": reason,
			"updated_at":       time.Now(),
		}).Error
}

// DeleteDocumentForOwner removes a document row scoped to its owner.
// Returns the number of rows removed so callers can distinguish
// not-found from success.
func DeleteDocumentForOwner(db *gorm.DB, ownerID, id string) (int64, error) {
	result := db.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&Document{})
	return result.RowsAffected, result.Error
}

// IsCompleted reports whether the document is visible to retrieval.
func (d *Document) IsCompleted() bool {
	return d.Status == DocumentStatusCompleted
}

// IsTerminal reports whether the ingestion lifecycle has ended.
func (d *Document) IsTerminal() bool {
	return d.Status == DocumentStatusCompleted || d.Status == DocumentStatusFailed
}
