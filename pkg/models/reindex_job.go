package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReindexJob is a batch maintenance run over the document corpus:
// re-embedding after a model or dimension change, or re-encrypting
// saved texts after a key rotation. The row is the job's checkpoint;
// an interrupted job resumes from Cursor.
type ReindexJob struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	JobUUID string `gorm:"type:uuid;not null;uniqueIndex" json:"jobUuid"`

	// Kind is "reembed" or "rotate_key".
	Kind string `gorm:"type:varchar(20);not null" json:"kind"`

	Status string `gorm:"type:varchar(20);not null;default:'pending';index:idx_reindex_jobs_status" json:"status"`

	// TargetCollection receives re-embedded chunks. Empty rewrites the
	// source collection in place.
	TargetCollection string `gorm:"type:varchar(255)" json:"targetCollection,omitempty"`

	TotalItems     int `gorm:"not null;default:0" json:"totalItems"`
	ProcessedItems int `gorm:"not null;default:0" json:"processedItems"`
	FailedItems    int `gorm:"not null;default:0" json:"failedItems"`

	// Cursor is the last fully processed item id, in scan order.
	Cursor string `gorm:"type:varchar(255)" json:"cursor,omitempty"`

	LastError string `gorm:"type:text" json:"lastError,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name.
func (ReindexJob) TableName() string {
	return "reindex_jobs"
}

// Reindex job kinds.
const (
	ReindexKindReembed   = "reembed"
	ReindexKindRotateKey = "rotate_key"
)

// Reindex job statuses.
const (
	ReindexStatusPending   = "pending"
	ReindexStatusRunning   = "running"
	ReindexStatusCompleted = "completed"
	ReindexStatusFailed    = "failed"
)

// BeforeCreate assigns the job UUID.
func (j *ReindexJob) BeforeCreate(tx *gorm.DB) error {
	if j.JobUUID == "" {
		j.JobUUID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = ReindexStatusPending
	}
	return nil
}

// IsTerminal reports whether the job has finished.
func (j *ReindexJob) IsTerminal() bool {
	return j.Status == ReindexStatusCompleted || j.Status == ReindexStatusFailed
}

// GetResumableReindexJob returns the most recent unfinished job of the
// given kind, or nil when none exists.
func GetResumableReindexJob(db *gorm.DB, kind string) (*ReindexJob, error) {
	var job ReindexJob
	err := db.Where("kind = ? AND status IN ?", kind,
		[]string{ReindexStatusPending, ReindexStatusRunning}).
		Order("id DESC").First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
