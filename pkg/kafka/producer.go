package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/ratepulse/ratepulse/pkg/models"
	"github.com/ratepulse/ratepulse/pkg/tracing"
)

// Rate lifecycle event types.
const (
	EventRatesReplaced = "rates.replaced" // CSV reconciliation committed a replace
	EventRatesIngested = "rates.ingested" // webhook batch inserted
	EventUploadDeleted = "upload.deleted" // audit record + backing file removed
)

// Producer emits rate lifecycle events for downstream consumers (analytics,
// cache invalidation).
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// RateEvent describes one rate-table mutation for one owning entity.
type RateEvent struct {
	EventType string          `json:"event_type"`
	UserID    string          `json:"user_id,omitempty"`
	OwnerKind string          `json:"owner_kind"`
	OwnerID   string          `json:"owner_id"`
	RowCount  int             `json:"row_count"`
	Source    string          `json:"source"` // csv_upload, webhook, refresh
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// PublishRateEvent publishes one rate lifecycle event, keyed by owner id so
// per-entity ordering is preserved.
func (p *Producer) PublishRateEvent(ctx context.Context, event *RateEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishRateEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.OwnerID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "owner_kind", Value: []byte(event.OwnerKind)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish rate event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"owner_kind": event.OwnerKind,
		"owner_id":   event.OwnerID,
		"row_count":  event.RowCount,
	}).Debug("Published rate event")

	return nil
}

// NewReplaceEvent builds the event emitted after a successful CSV replace.
func NewReplaceEvent(userID string, owner models.Owner, rowCount int, source string) *RateEvent {
	return &RateEvent{
		EventType: EventRatesReplaced,
		UserID:    userID,
		OwnerKind: string(owner.Kind()),
		OwnerID:   owner.ID().String(),
		RowCount:  rowCount,
		Source:    source,
	}
}

// NewIngestEvent builds the event emitted after a webhook batch insert.
func NewIngestEvent(owner models.Owner, rowCount int) *RateEvent {
	return &RateEvent{
		EventType: EventRatesIngested,
		OwnerKind: string(owner.Kind()),
		OwnerID:   owner.ID().String(),
		RowCount:  rowCount,
		Source:    "webhook",
	}
}
