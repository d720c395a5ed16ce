// Package reindex runs batch maintenance jobs over the document
// corpus: re-embedding every completed document's chunks after an
// embedding model change, and re-encrypting saved texts after a key
// rotation.
//
// Jobs checkpoint their progress in a reindex_jobs row after every
// batch, so an interrupted run resumes where it stopped instead of
// starting over. Per-item failures are counted and aggregated; they do
// not stop the job.
package reindex

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/embedding"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/encryption"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

// Defaults applied by New.
const (
	DefaultWorkers   = 4
	DefaultBatchSize = 10
)

// Config wires a reindex Service.
type Config struct {
	// DB holds document rows, saved texts, and job records. Required.
	DB *gorm.DB

	// Index is the vector index chunks are read from and written to.
	// Required for re-embedding.
	Index vectorindex.Index

	// Embedder produces the new vectors. Required for re-embedding.
	Embedder embedding.Provider

	// Collection is the source chunk collection.
	Collection string

	// Workers bounds concurrently processed documents.
	Workers int

	// BatchSize is the number of chunk texts per embedding call.
	BatchSize int

	Logger hclog.Logger
}

// Service runs reindex jobs.
type Service struct {
	db         *gorm.DB
	index      vectorindex.Index
	embedder   embedding.Provider
	collection string
	workers    int
	batchSize  int
	logger     hclog.Logger
}

// New builds a Service, filling config defaults.
func New(cfg Config) (*Service, error) {
	const op = "reindex.New"

	if cfg.DB == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "DB is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Service{
		db:         cfg.DB,
		index:      cfg.Index,
		embedder:   cfg.Embedder,
		collection: cfg.Collection,
		workers:    cfg.Workers,
		batchSize:  cfg.BatchSize,
		logger:     cfg.Logger.Named("reindex"),
	}, nil
}

// Report is the outcome of a finished job.
type Report struct {
	JobUUID   string `json:"job_uuid"`
	Kind      string `json:"kind"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Resumed   bool   `json:"resumed"`

	// Errors aggregates the per-item failures.
	Errors error `json:"-"`
}

// Progress is a point-in-time view of a running job.
type Progress struct {
	JobUUID    string  `json:"job_uuid"`
	Kind       string  `json:"kind"`
	Status     string  `json:"status"`
	Total      int     `json:"total"`
	Processed  int     `json:"processed"`
	Failed     int     `json:"failed"`
	Pending    int     `json:"pending"`
	Percent    float64 `json:"percent"`
	Rate       float64 `json:"rate"`
	ETASeconds int     `json:"eta_seconds"`
}

// JobProgress reports the progress of a job by UUID.
func (s *Service) JobProgress(jobUUID string) (*Progress, error) {
	const op = "reindex.JobProgress"

	var job models.ReindexJob
	if err := s.db.Where("job_uuid = ?", jobUUID).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.New(op, apperr.NotFound, fmt.Sprintf("job %s not found", jobUUID))
		}
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	return progressOf(&job), nil
}

func progressOf(job *models.ReindexJob) *Progress {
	p := &Progress{
		JobUUID:   job.JobUUID,
		Kind:      job.Kind,
		Status:    job.Status,
		Total:     job.TotalItems,
		Processed: job.ProcessedItems,
		Failed:    job.FailedItems,
	}
	done := job.ProcessedItems + job.FailedItems
	p.Pending = job.TotalItems - done
	if p.Pending < 0 {
		p.Pending = 0
	}
	if job.TotalItems > 0 {
		p.Percent = float64(done) / float64(job.TotalItems) * 100
		if job.Status == models.ReindexStatusRunning && job.StartedAt != nil {
			elapsed := time.Since(*job.StartedAt).Seconds()
			if elapsed > 0 {
				p.Rate = float64(done) / elapsed
				if p.Rate > 0 {
					p.ETASeconds = int(float64(p.Pending) / p.Rate)
				}
			}
		}
	}
	return p
}

// resumeOrCreate returns the most recent unfinished job of the given
// kind, or creates a fresh one.
func (s *Service) resumeOrCreate(op, kind, targetCollection string) (*models.ReindexJob, bool, error) {
	job, err := models.GetResumableReindexJob(s.db, kind)
	if err != nil {
		return nil, false, apperr.Wrap(op, apperr.Transient, err)
	}
	if job != nil {
		s.logger.Info("resuming reindex job",
			"job_uuid", job.JobUUID, "kind", kind, "cursor", job.Cursor,
			"processed", job.ProcessedItems, "failed", job.FailedItems)
		return job, true, nil
	}

	job = &models.ReindexJob{Kind: kind, TargetCollection: targetCollection}
	if err := s.db.Create(job).Error; err != nil {
		return nil, false, apperr.Wrap(op, apperr.Transient, err)
	}
	return job, false, nil
}

func (s *Service) startJob(job *models.ReindexJob, total int) error {
	updates := map[string]interface{}{
		"status":      models.ReindexStatusRunning,
		"total_items": total,
	}
	if job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
		updates["started_at"] = now
	}
	job.Status = models.ReindexStatusRunning
	job.TotalItems = total
	return s.db.Model(job).Updates(updates).Error
}

// checkpoint persists the batch outcome. A failed checkpoint aborts
// the job: continuing past it would repeat work after a resume.
func (s *Service) checkpoint(job *models.ReindexJob, cursor string, processed, failed int, lastErr error) error {
	job.Cursor = cursor
	job.ProcessedItems += processed
	job.FailedItems += failed
	updates := map[string]interface{}{
		"cursor":          cursor,
		"processed_items": job.ProcessedItems,
		"failed_items":    job.FailedItems,
	}
	if lastErr != nil {
		job.LastError = lastErr.Error()
		updates["last_error"] = job.LastError
	}
	return s.db.Model(job).Updates(updates).Error
}

func (s *Service) finishJob(job *models.ReindexJob, runErr error) {
	now := time.Now()
	status := models.ReindexStatusCompleted
	if runErr != nil {
		status = models.ReindexStatusFailed
	}
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": now,
	}
	if runErr != nil {
		updates["last_error"] = runErr.Error()
	}
	if err := s.db.Model(job).Updates(updates).Error; err != nil {
		s.logger.Error("failed to finalise reindex job",
			"job_uuid", job.JobUUID, "error", err)
	}
	job.Status = status
}

// sortHitsByOrdinal orders scrolled chunks by their document ordinal.
func sortHitsByOrdinal(hits []vectorindex.Hit) {
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})
}

// reportFrom shapes the job row into a Report.
func reportFrom(job *models.ReindexJob, resumed bool, errs *multierror.Error) *Report {
	return &Report{
		JobUUID:   job.JobUUID,
		Kind:      job.Kind,
		Total:     job.TotalItems,
		Processed: job.ProcessedItems,
		Failed:    job.FailedItems,
		Resumed:   resumed,
		Errors:    errs.ErrorOrNil(),
	}
}

// RotateKey re-encrypts every saved text from the old key to the new
// one. The caller is responsible for swapping the key file afterwards;
// rows already re-encrypted decrypt only with the new key, so the swap
// must happen even when some rows failed.
func (s *Service) RotateKey(ctx context.Context, oldSvc, newSvc *encryption.Service) (*Report, error) {
	const op = "reindex.RotateKey"

	if oldSvc == nil || newSvc == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "old and new encryption services are required")
	}

	job, resumed, err := s.resumeOrCreate(op, models.ReindexKindRotateKey, "")
	if err != nil {
		return nil, err
	}

	var total int64
	if err := s.db.Model(&models.SavedText{}).Count(&total).Error; err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	if err := s.startJob(job, int(total)); err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}

	errs := &multierror.Error{}
	cursor := uint(0)
	if job.Cursor != "" {
		fmt.Sscanf(job.Cursor, "%d", &cursor)
	}

	const rowBatch = 100
	for {
		if err := ctx.Err(); err != nil {
			return reportFrom(job, resumed, errs), apperr.Wrap(op, apperr.Cancelled, err)
		}

		var rows []models.SavedText
		err := s.db.Where("id > ?", cursor).Order("id ASC").Limit(rowBatch).Find(&rows).Error
		if err != nil {
			s.finishJob(job, err)
			return reportFrom(job, resumed, errs), apperr.Wrap(op, apperr.Transient, err)
		}
		if len(rows) == 0 {
			break
		}

		processed, failed := 0, 0
		for i := range rows {
			row := &rows[i]
			if err := s.rotateRow(row, oldSvc, newSvc); err != nil {
				failed++
				errs = multierror.Append(errs, fmt.Errorf("saved text %d: %w", row.ID, err))
				s.logger.Warn("saved text re-encryption failed", "id", row.ID, "error", err)
				continue
			}
			processed++
		}

		cursor = rows[len(rows)-1].ID
		if err := s.checkpoint(job, fmt.Sprintf("%d", cursor), processed, failed, errs.ErrorOrNil()); err != nil {
			s.finishJob(job, err)
			return reportFrom(job, resumed, errs), apperr.Wrap(op, apperr.Transient, err)
		}
	}

	s.finishJob(job, nil)
	s.logger.Info("key rotation finished",
		"job_uuid", job.JobUUID,
		"processed", job.ProcessedItems, "failed", job.FailedItems)
	return reportFrom(job, resumed, errs), nil
}

func (s *Service) rotateRow(row *models.SavedText, oldSvc, newSvc *encryption.Service) error {
	if row.Content.IsZero() {
		return nil
	}
	env, err := oldSvc.ReEncrypt(row.Content.Envelope(), newSvc)
	if err != nil {
		return err
	}
	return s.db.Model(row).Update("content", models.NewEncryptedField(env)).Error
}
