package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/ingest"
)

// Ingestor executes ingestion requests arriving on the bus.
// *ingest.Service implements it.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Receipt, error)
}

// ConsumerConfig configures the ingest request consumer.
type ConsumerConfig struct {
	// Ingestor handles the decoded requests. Required.
	Ingestor Ingestor

	// Brokers are the Kafka/Redpanda seed brokers. Required.
	Brokers []string

	// Topic carries the requests. Defaults to DefaultRequestTopic.
	Topic string

	// Group is the consumer group. Defaults to DefaultConsumerGroup.
	Group string

	// ConsumeFromStart reads the topic from the beginning when the
	// group has no committed offset yet. Integration tests use this.
	ConsumeFromStart bool

	Logger hclog.Logger
}

// Consumer ingests documents requested over the bus. Offsets are
// committed per record after handling, so delivery is at-least-once:
// a transient failure leaves the offset untouched and the record comes
// back after a rebalance or restart, while unprocessable requests are
// committed away so they cannot wedge the partition.
type Consumer struct {
	client   *kgo.Client
	ingestor Ingestor
	logger   hclog.Logger
	commit   func(ctx context.Context, records ...*kgo.Record) error
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewConsumer connects a group consumer and returns it.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	const op = "events.NewConsumer"
	if cfg.Ingestor == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "ingestor is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, apperr.New(op, apperr.InvalidInput, "at least one broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultRequestTopic
	}
	if cfg.Group == "" {
		cfg.Group = DefaultConsumerGroup
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	client, err := kgo.NewClient(consumerOpts(cfg.Brokers, cfg.Topic, cfg.Group, cfg.ConsumeFromStart)...)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}

	return &Consumer{
		client:   client,
		ingestor: cfg.Ingestor,
		logger:   cfg.Logger.Named("ingest-consumer"),
		commit:   client.CommitRecords,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start polls for requests until Stop is called or the context ends.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("ingest consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("ingest consumer stopped by context")
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("ingest consumer stopped")
			return nil
		default:
			fetches := c.client.PollFetches(ctx)
			if fetches.IsClientClosed() {
				c.logger.Info("ingest consumer stopped")
				return nil
			}
			if errs := fetches.Errors(); len(errs) > 0 {
				for _, fe := range errs {
					if errors.Is(fe.Err, context.Canceled) {
						continue
					}
					c.logger.Error("fetch failed",
						"topic", fe.Topic, "partition", fe.Partition, "error", fe.Err)
				}
				continue
			}
			fetches.EachPartition(func(p kgo.FetchTopicPartition) {
				c.processPartition(ctx, p.Records)
			})
		}
	}
}

// Stop ends the polling loop and closes the client.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.client.Close()
	})
}

// processPartition handles one partition's records in order. A
// transient failure stops the partition batch before the offset is
// committed; committing a later record would silently skip the failed
// one.
func (c *Consumer) processPartition(ctx context.Context, records []*kgo.Record) {
	for _, record := range records {
		if err := c.handleRecord(ctx, record); err != nil {
			if apperr.IsKind(err, apperr.Cancelled) {
				return
			}
			if apperr.IsKind(err, apperr.Transient) {
				c.logger.Error("request failed, leaving offset uncommitted",
					"partition", record.Partition,
					"offset", record.Offset,
					"error", err,
				)
				return
			}
			c.logger.Error("dropping unprocessable request",
				"partition", record.Partition,
				"offset", record.Offset,
				"error", err,
			)
		}
		if err := c.commit(ctx, record); err != nil {
			c.logger.Warn("offset commit failed",
				"partition", record.Partition,
				"offset", record.Offset,
				"error", err,
			)
		}
	}
}

// handleRecord decodes and ingests one request.
func (c *Consumer) handleRecord(ctx context.Context, record *kgo.Record) error {
	const op = "events.handleRecord"

	var req IngestRequest
	if err := json.Unmarshal(record.Value, &req); err != nil {
		return apperr.Wrapf(op, apperr.Permanent, err,
			"malformed request at offset %d", record.Offset)
	}

	started := time.Now()
	receipt, err := c.ingestor.Ingest(ctx, req.toIngest())
	if err != nil {
		return err
	}

	c.logger.Info("bus request ingested",
		"document_id", receipt.DocumentID,
		"owner", req.Owner,
		"source_type", receipt.SourceType,
		"chunks", receipt.ChunkCount,
		"took", time.Since(started),
	)
	return nil
}
