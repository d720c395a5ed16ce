package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DocumentEvent stores document lifecycle events for reliable delivery
// to the message bus. Implements the transactional outbox pattern: the
// event row is written in the same transaction as the status change,
// and a relay publishes pending rows asynchronously.
type DocumentEvent struct {
	ID uint `gorm:"primaryKey" json:"id"`

	DocumentID string `gorm:"type:uuid;not null;index:idx_document_events_document" json:"documentId"`
	OwnerID    string `gorm:"type:varchar(255);not null" json:"ownerId"`

	// EventType names the lifecycle transition, e.g. "document.completed".
	EventType string `gorm:"type:varchar(50);not null" json:"eventType"`

	// Payload carries the event body published to the bus.
	Payload map[string]interface{} `gorm:"serializer:json;type:jsonb;not null" json:"payload"`

	// Outbox state
	Status          string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_document_events_pending,where:status = 'pending'" json:"status"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	PublishAttempts int        `gorm:"default:0" json:"publishAttempts"`
	LastError       string     `gorm:"type:text" json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name.
func (DocumentEvent) TableName() string {
	return "document_events"
}

// Document event type constants.
const (
	DocumentEventPending    = "document.pending"
	DocumentEventProcessing = "document.processing"
	DocumentEventEmbedding  = "document.processing_embeddings"
	DocumentEventCompleted  = "document.completed"
	DocumentEventFailed     = "document.failed"
	DocumentEventDeleted    = "document.deleted"
)

// Outbox status constants.
const (
	EventStatusPending   = "pending"
	EventStatusPublished = "published"
	EventStatusFailed    = "failed"
)

// EventTypeForStatus maps a document status to its event type.
func EventTypeForStatus(status string) string {
	return "document." + status
}

// BeforeCreate hook to ensure required fields.
func (e *DocumentEvent) BeforeCreate(tx *gorm.DB) error {
	if e.DocumentID == "" {
		return fmt.Errorf("document_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Payload == nil {
		return fmt.Errorf("payload is required")
	}
	if e.Status == "" {
		e.Status = EventStatusPending
	}
	return nil
}

// NewDocumentEvent builds an outbox entry for a document transition.
func NewDocumentEvent(doc *Document, eventType string) *DocumentEvent {
	payload := map[string]interface{}{
		"document_id":  doc.ID,
		"owner_id":     doc.OwnerID,
		"title":        doc.Title,
		"source_type":  doc.SourceType,
		"status":       doc.Status,
		"vector_count": doc.VectorCount,
	}
	if doc.ProcessingError != "" {
		payload["error"] = doc.ProcessingError
	}

	return &DocumentEvent{
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		EventType:  eventType,
		Payload:    payload,
		Status:     EventStatusPending,
	}
}

// FindPendingDocumentEvents retrieves pending outbox entries for
// publishing, oldest first.
func FindPendingDocumentEvents(db *gorm.DB, limit int) ([]DocumentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []DocumentEvent
	err := db.
		Where("status = ?", EventStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkAsPublished marks the event as successfully published.
func (e *DocumentEvent) MarkAsPublished(db *gorm.DB) error {
	now := time.Now()
	return db.Model(e).Updates(map[string]interface{}{
		"status":       EventStatusPublished,
		"published_at": now,
		"updated_at":   now,
	}).Error
}

// MarkAsFailed records a publish failure.
func (e *DocumentEvent) MarkAsFailed(db *gorm.DB, err error) error {
	e.PublishAttempts++
	return db.Model(e).Updates(map[string]interface{}{
		"status":           EventStatusFailed,
		"publish_attempts": e.PublishAttempts,
		"last_error":       err.Error(),
		"updated_at":       time.Now(),
	}).Error
}

// Retry resets a failed event to pending.
func (e *DocumentEvent) Retry(db *gorm.DB) error {
	return db.Model(e).Updates(map[string]interface{}{
		"status":     EventStatusPending,
		"last_error": "",
		"updated_at": time.Now(),
	}).Error
}

// FindFailedDocumentEvents retrieves failed outbox entries, oldest
// first, for manual republishing.
func FindFailedDocumentEvents(db *gorm.DB, limit int) ([]DocumentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []DocumentEvent
	err := db.
		Where("status = ?", EventStatusFailed).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// CountDocumentEventsByStatus counts outbox entries in one state.
func CountDocumentEventsByStatus(db *gorm.DB, status string) (int64, error) {
	var n int64
	err := db.Model(&DocumentEvent{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

// DeleteOldPublishedEvents removes published entries older than the
// given age to keep the outbox bounded.
func DeleteOldPublishedEvents(db *gorm.DB, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := db.
		Where("status = ? AND published_at < ?", EventStatusPublished, cutoff).
		Delete(&DocumentEvent{})
	return result.RowsAffected, result.Error
}
