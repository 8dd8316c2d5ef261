package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/events"
)

// Channel is the subset of *amqp091.Channel used by the bus.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Config names the exchange and queue of the bus.
type Config struct {
	URL      string
	Exchange string
	Queue    string
	Prefetch int
	Workers  int
}

// RoutingKey is "<source>.<type>", e.g. "jira.CommentAdded".
func RoutingKey(event events.Event) string {
	return string(event.Source) + "." + string(event.Type)
}

// DeadLetterExchange is where rejected deliveries are routed.
func DeadLetterExchange(exchange string) string {
	return exchange + ".dlx"
}

// Bus publishes to a durable topic exchange and consumes from a queue
// bound to the sources that have subscribers. Deliveries that keep
// failing are nacked without requeue and land in the dead-letter queue.
type Bus struct {
	*events.Router
	ch     Channel
	cfg    Config
	policy events.RetryPolicy
	logger *zap.Logger
	conn   *amqp091.Connection
}

// Dial opens a connection and a channel to the broker.
func Dial(cfg Config, policy events.RetryPolicy, logger *zap.Logger) (*Bus, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	bus := NewBus(ch, cfg, policy, logger)
	bus.conn = conn
	if err := bus.DeclareTopology(); err != nil {
		conn.Close()
		return nil, err
	}
	return bus, nil
}

// NewBus wraps an open channel.
func NewBus(ch Channel, cfg Config, policy events.RetryPolicy, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Bus{Router: events.NewRouter(), ch: ch, cfg: cfg, policy: policy, logger: logger}
}

// DeclareTopology declares the topic exchange and its dead-letter pair.
func (b *Bus) DeclareTopology() error {
	dlx := DeadLetterExchange(b.cfg.Exchange)
	if err := b.ch.ExchangeDeclare(b.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := b.ch.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	dead, err := b.ch.QueueDeclare(b.cfg.Queue+".dead", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := b.ch.QueueBind(dead.Name, "", dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}
	return nil
}

// Publish sends the event as a persistent JSON message.
func (b *Bus) Publish(ctx context.Context, event events.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	correlation := event.CaseID
	if correlation == "" {
		correlation = event.TicketKey
	}
	return b.ch.PublishWithContext(ctx, b.cfg.Exchange, RoutingKey(event), false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     event.ID,
		CorrelationId: correlation,
		Type:          string(event.Type),
		AppId:         string(event.Source),
		Timestamp:     event.OccurredAt,
		Body:          body,
	})
}

// Run declares the consumer queue, binds it to every subscribed source
// and processes deliveries until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	q, err := b.ch.QueueDeclare(b.cfg.Queue, true, false, false, false, amqp091.Table{
		"x-dead-letter-exchange": DeadLetterExchange(b.cfg.Exchange),
	})
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, source := range []events.Source{events.SourceSecurityIR, events.SourceJira} {
		if !b.HasSubscribers(source) {
			continue
		}
		if err := b.ch.QueueBind(q.Name, string(source)+".#", b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue: %w", err)
		}
	}
	if err := b.ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := b.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	b.logger.Info("amqp consumer started", zap.String("queue", q.Name))

	var wg sync.WaitGroup
	for i := 0; i < b.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					b.handle(ctx, d)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (b *Bus) handle(ctx context.Context, d amqp091.Delivery) {
	var event events.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		b.logger.Error("undecodable delivery", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	handleCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	err := events.DeliverWithRetry(handleCtx, b.Router, b.policy, event)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case events.IsPermanent(err):
		b.logger.Warn("event rejected", zap.String("event_id", event.ID), zap.Error(err))
		_ = d.Ack(false)
	default:
		b.logger.Error("dead-lettering event",
			zap.String("event_id", event.ID),
			zap.String("routing_key", d.RoutingKey),
			zap.Error(err))
		_ = d.Nack(false, false)
	}
}

// Close closes the channel and, when owned, the connection.
func (b *Bus) Close() error {
	err := b.ch.Close()
	if b.conn != nil {
		err = errors.Join(err, b.conn.Close())
	}
	return err
}
