package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"
	"gorm.io/gorm"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
)

// producer is the slice of the Kafka client the relay uses.
type producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
	Close()
}

// RelayConfig configures the outbox relay.
type RelayConfig struct {
	// DB holds the DocumentEvent outbox table. Required.
	DB *gorm.DB

	// Brokers are the Kafka/Redpanda seed brokers. Required.
	Brokers []string

	// Topic receives the lifecycle events. Defaults to
	// DefaultEventTopic.
	Topic string

	// PollInterval is how often the outbox is polled. Default 1s.
	PollInterval time.Duration

	// BatchSize caps how many entries one poll publishes. Default 100.
	BatchSize int

	Logger hclog.Logger
}

// Relay drains pending DocumentEvent rows into the event topic. Rows
// are written by the ingestion and document services in the same
// transaction as the state they describe; the relay gives the bus
// at-least-once delivery without distributed transactions.
type Relay struct {
	db       *gorm.DB
	client   producer
	topic    string
	logger   hclog.Logger
	interval time.Duration
	batch    int
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRelay connects a producer client and returns the relay.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	const op = "events.NewRelay"
	if cfg.DB == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "database handle is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, apperr.New(op, apperr.InvalidInput, "at least one broker is required")
	}

	client, err := kgo.NewClient(producerOpts(cfg.Brokers)...)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	return newRelay(cfg, client), nil
}

func newRelay(cfg RelayConfig, client producer) *Relay {
	if cfg.Topic == "" {
		cfg.Topic = DefaultEventTopic
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &Relay{
		db:       cfg.DB,
		client:   client,
		topic:    cfg.Topic,
		logger:   cfg.Logger.Named("outbox-relay"),
		interval: cfg.PollInterval,
		batch:    cfg.BatchSize,
		stopCh:   make(chan struct{}),
	}
}

// Start polls the outbox until Stop is called or the context ends. A
// failed batch is logged and the next tick tries again.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("outbox relay started",
		"topic", r.topic,
		"poll_interval", r.interval,
		"batch_size", r.batch,
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped by context")
			return ctx.Err()
		case <-r.stopCh:
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if err := r.processBatch(ctx); err != nil {
				if apperr.IsKind(err, apperr.Cancelled) {
					continue
				}
				r.logger.Error("outbox batch failed", "error", err)
			}
		}
	}
}

// Stop ends the polling loop and closes the client.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.client.Close()
	})
}

// processBatch publishes one batch of pending entries. Entries fail
// individually; a failed publish marks the row failed and the batch
// moves on.
func (r *Relay) processBatch(ctx context.Context) error {
	const op = "events.processBatch"

	entries, err := models.FindPendingDocumentEvents(r.db, r.batch)
	if err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	if len(entries) == 0 {
		return nil
	}

	published, failed := 0, 0
	for i := range entries {
		entry := &entries[i]
		if err := r.publish(ctx, entry); err != nil {
			if apperr.IsKind(err, apperr.Cancelled) {
				return err
			}
			r.logger.Error("publish failed",
				"event_id", entry.ID,
				"document_id", entry.DocumentID,
				"error", err,
			)
			if markErr := entry.MarkAsFailed(r.db, err); markErr != nil {
				r.logger.Error("recording publish failure failed",
					"event_id", entry.ID, "error", markErr)
			}
			failed++
			continue
		}
		if err := entry.MarkAsPublished(r.db); err != nil {
			// Stays pending and is re-published next tick; consumers
			// must dedupe on the event id anyway.
			r.logger.Error("marking event published failed",
				"event_id", entry.ID, "error", err)
			failed++
			continue
		}
		published++
	}

	r.logger.Info("outbox batch processed",
		"total", len(entries),
		"published", published,
		"failed", failed,
	)
	return nil
}

// publish sends one outbox entry, keyed by document id so per-document
// ordering survives partitioning.
func (r *Relay) publish(ctx context.Context, entry *models.DocumentEvent) error {
	const op = "events.publish"

	value, err := json.Marshal(Event{
		ID:         entry.ID,
		DocumentID: entry.DocumentID,
		OwnerID:    entry.OwnerID,
		EventType:  entry.EventType,
		Payload:    entry.Payload,
		Timestamp:  entry.CreatedAt,
	})
	if err != nil {
		return apperr.Wrap(op, apperr.Permanent, err)
	}

	record := &kgo.Record{
		Topic: r.topic,
		Key:   []byte(entry.DocumentID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(entry.EventType)},
			{Key: "owner_id", Value: []byte(entry.OwnerID)},
		},
	}
	if err := r.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(op, apperr.Cancelled, err)
		}
		return apperr.Wrap(op, apperr.Transient, err)
	}

	r.logger.Debug("event published",
		"event_id", entry.ID,
		"document_id", entry.DocumentID,
		"event_type", entry.EventType,
	)
	return nil
}

// Cleanup removes published entries older than the given age. Called
// periodically by the worker to keep the outbox table bounded.
func (r *Relay) Cleanup(olderThan time.Duration) (int64, error) {
	const op = "events.Cleanup"
	deleted, err := models.DeleteOldPublishedEvents(r.db, olderThan)
	if err != nil {
		return 0, apperr.Wrap(op, apperr.Transient, err)
	}
	if deleted > 0 {
		r.logger.Info("old outbox entries removed",
			"deleted", deleted, "older_than", olderThan)
	}
	return deleted, nil
}

// RetryFailed resets failed entries to pending and publishes them
// again. Meant for operator intervention after a broker outage.
func (r *Relay) RetryFailed(ctx context.Context, limit int) error {
	const op = "events.RetryFailed"

	failedEntries, err := models.FindFailedDocumentEvents(r.db, limit)
	if err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	if len(failedEntries) == 0 {
		r.logger.Info("no failed outbox entries to retry")
		return nil
	}

	retried := 0
	for i := range failedEntries {
		entry := &failedEntries[i]
		if err := entry.Retry(r.db); err != nil {
			r.logger.Error("resetting event to pending failed",
				"event_id", entry.ID, "error", err)
			continue
		}
		if err := r.publish(ctx, entry); err != nil {
			if apperr.IsKind(err, apperr.Cancelled) {
				return err
			}
			r.logger.Error("republish failed", "event_id", entry.ID, "error", err)
			if markErr := entry.MarkAsFailed(r.db, err); markErr != nil {
				r.logger.Warn("recording publish failure failed",
					"event_id", entry.ID, "error", markErr)
			}
			continue
		}
		if err := entry.MarkAsPublished(r.db); err != nil {
			r.logger.Error("marking event published failed",
				"event_id", entry.ID, "error", err)
			continue
		}
		retried++
	}

	r.logger.Info("failed entries retried",
		"attempted", len(failedEntries),
		"published", retried,
	)
	return nil
}

// OutboxStats is a snapshot of the outbox table by status.
type OutboxStats struct {
	Pending   int64 `json:"pending"`
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}

// Stats reports the outbox state.
func (r *Relay) Stats() (OutboxStats, error) {
	const op = "events.Stats"
	var stats OutboxStats

	for _, c := range []struct {
		status string
		dst    *int64
	}{
		{models.EventStatusPending, &stats.Pending},
		{models.EventStatusPublished, &stats.Published},
		{models.EventStatusFailed, &stats.Failed},
	} {
		n, err := models.CountDocumentEventsByStatus(r.db, c.status)
		if err != nil {
			return stats, apperr.Wrap(op, apperr.Transient, err)
		}
		*c.dst = n
	}
	return stats, nil
}
