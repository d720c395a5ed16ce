// Package events connects the document pipeline to the message bus.
//
// Two components run inside the worker binary: the Relay drains the
// DocumentEvent outbox table into a Kafka/Redpanda topic, and the
// Consumer executes ingestion requests arriving on another topic.
// Both are optional; deployments without brokers simply never start
// them.
package events

import (
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/ingest"
)

// Default topic and group names. Deployments override them through the
// app config.
const (
	DefaultEventTopic    = "gruenerator.document-events"
	DefaultRequestTopic  = "gruenerator.ingest-requests"
	DefaultConsumerGroup = "gruenerator-workers"
)

// Event is the wire shape of one document lifecycle event. The record
// key is the document id, so events of the same document stay ordered
// within a partition.
type Event struct {
	ID         uint                   `json:"id"`
	DocumentID string                 `json:"documentId"`
	OwnerID    string                 `json:"ownerId"`
	EventType  string                 `json:"eventType"`
	Payload    map[string]interface{} `json:"payload"`
	Timestamp  time.Time              `json:"timestamp"`
}

// IngestRequest is the wire shape of one ingestion request. Content
// carries uploaded file bytes (base64 in JSON); RawText and CrawlURL
// select the other source kinds, exactly one of the three is expected.
type IngestRequest struct {
	Owner      string                 `json:"owner"`
	Title      string                 `json:"title,omitempty"`
	Filename   string                 `json:"filename,omitempty"`
	SourceType string                 `json:"sourceType,omitempty"`
	DocumentID string                 `json:"documentId,omitempty"`
	Content    []byte                 `json:"content,omitempty"`
	RawText    string                 `json:"rawText,omitempty"`
	CrawlURL   string                 `json:"crawlUrl,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

func (r IngestRequest) toIngest() ingest.Request {
	return ingest.Request{
		Owner: r.Owner,
		Source: ingest.Source{
			Bytes:    r.Content,
			RawText:  r.RawText,
			CrawlURL: r.CrawlURL,
		},
		Title:      r.Title,
		Filename:   r.Filename,
		SourceType: r.SourceType,
		DocumentID: r.DocumentID,
		Metadata:   r.Metadata,
	}
}

// producerOpts are the client options for the outbox relay. Acks from
// all in-sync replicas, bounded retry backoff.
func producerOpts(brokers []string) []kgo.Opt {
	return []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
		kgo.RetryBackoffFn(func(tries int) time.Duration {
			backoff := time.Duration(tries) * 100 * time.Millisecond
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			return backoff
		}),
		kgo.RequestRetries(10),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1 << 20),
	}
}

// consumerOpts are the client options for the request consumer.
// Auto-commit is off; offsets are committed per record after handling.
func consumerOpts(brokers []string, topic, group string, fromStart bool) []kgo.Opt {
	offset := kgo.NewOffset().AtEnd()
	if fromStart {
		offset = kgo.NewOffset().AtStart()
	}
	return []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(offset),
		kgo.SessionTimeout(10 * time.Second),
		kgo.RebalanceTimeout(30 * time.Second),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500 * time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxBytes(5 << 20),
	}
}
