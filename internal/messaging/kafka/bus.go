package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/events"
)

// Config holds broker settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Writer is the producing side of a kafka-go client.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reader is the consuming side of a kafka-go consumer group.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a synchronous, key-hashed writer so that events of
// the same case land on the same partition.
func NewWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewReader builds a consumer-group reader starting at the earliest offset.
func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
		Dialer:      &kafka.Dialer{Timeout: 10 * time.Second},
	})
}

// Bus carries events over a single Kafka topic. Messages are committed
// once every subscriber succeeded, failed permanently, or the retry
// policy was exhausted; exhausted messages are logged and dropped.
type Bus struct {
	*events.Router
	writer Writer
	reader Reader
	policy events.RetryPolicy
	logger *zap.Logger
}

// NewBus wires a writer and a reader into a bus.
func NewBus(writer Writer, reader Reader, policy events.RetryPolicy, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{Router: events.NewRouter(), writer: writer, reader: reader, policy: policy, logger: logger}
}

func messageKey(event events.Event) []byte {
	if event.CaseID != "" {
		return []byte("case:" + event.CaseID)
	}
	return []byte("ticket:" + event.TicketKey)
}

// Publish writes the event keyed by its case, or ticket when no case is known.
func (b *Bus) Publish(ctx context.Context, event events.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   messageKey(event),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(event.ID)},
			{Key: "source", Value: []byte(event.Source)},
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info("kafka consumer started")
	for {
		msg, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			b.logger.Error("failed to fetch message", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		b.handle(ctx, msg)
		if err := b.reader.CommitMessages(ctx, msg); err != nil {
			b.logger.Error("failed to commit kafka message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (b *Bus) handle(ctx context.Context, msg kafka.Message) {
	var event events.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		b.logger.Error("dropping undecodable message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}
	err := events.DeliverWithRetry(ctx, b.Router, b.policy, event)
	switch {
	case err == nil:
	case events.IsPermanent(err):
		b.logger.Warn("event rejected", zap.String("event_id", event.ID), zap.Error(err))
	default:
		b.logger.Error("DLQ: dropping event after retries",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Int("attempts", b.policy.MaxAttempts),
			zap.Error(err))
	}
}

// Close releases the writer and the reader.
func (b *Bus) Close() error {
	return errors.Join(b.writer.Close(), b.reader.Close())
}
