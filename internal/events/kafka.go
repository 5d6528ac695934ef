package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// Kafka header names set on every lifecycle message.
const (
	HeaderEventType = "event-type"
	HeaderEventID   = "event-id"
	HeaderSource    = "source"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes lifecycle events to a Kafka topic keyed by code id,
// so all events of one code land on the same partition in order.
type KafkaPublisher struct {
	writer       MessageWriter
	source       string
	writeTimeout time.Duration
	logger       *logrus.Logger
}

// NewKafkaPublisher creates a publisher for cfg.Topic on cfg.Brokers.
func NewKafkaPublisher(cfg *config.KafkaConfig, logger *logrus.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic cannot be empty")
	}

	var compression compress.Compression
	switch cfg.Compression {
	case "gzip":
		compression = compress.Gzip
	case "lz4":
		compression = compress.Lz4
	case "zstd":
		compression = compress.Zstd
	default:
		compression = compress.Snappy
	}

	var requiredAcks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case 0:
		requiredAcks = kafka.RequireNone
	case 1:
		requiredAcks = kafka.RequireOne
	default:
		requiredAcks = kafka.RequireAll
	}

	entry := logger.WithField("component", "kafka")
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: requiredAcks,
		Compression:  compression,
		BatchTimeout: cfg.BatchTimeout,
		Logger: kafka.LoggerFunc(func(msg string, args ...any) {
			entry.Debugf(msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			entry.Errorf(msg, args...)
		}),
	}

	logger.WithFields(logrus.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Info("Kafka lifecycle publisher configured")

	return NewKafkaPublisherWithWriter(writer, cfg.ClientID, cfg.WriteTimeout, logger), nil
}

// NewKafkaPublisherWithWriter creates a publisher on an existing writer.
func NewKafkaPublisherWithWriter(
	writer MessageWriter,
	source string,
	writeTimeout time.Duration,
	logger *logrus.Logger,
) *KafkaPublisher {
	return &KafkaPublisher{
		writer:       writer,
		source:       source,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Publish serializes event as JSON and writes it to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, event *models.AccessEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.CodeID),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.Type)},
			{Key: HeaderEventID, Value: []byte(event.ID)},
			{Key: HeaderSource, Value: []byte(p.source)},
		},
	}

	writeCtx := ctx
	if p.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
	}

	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
