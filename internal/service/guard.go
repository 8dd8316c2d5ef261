package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/observability"
	"github.com/spec-kit/security-ir-jira/internal/repository"
)

// Consumer names key processed-event records.
const (
	ConsumerOutbound    = "jira-client"
	ConsumerReverseSync = "security-ir-client"
)

// Guard makes handlers idempotent under redelivery: an event ID already
// recorded for a consumer is acknowledged without running the handler
// again, and a handler's success is recorded only after it returns.
type Guard struct {
	processed repository.ProcessedEventRepository
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewGuard creates a guard backed by the processed-event store.
func NewGuard(processed repository.ProcessedEventRepository, metrics *observability.Metrics, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{processed: processed, metrics: metrics, logger: logger}
}

// Wrap returns handler guarded for consumer.
func (g *Guard) Wrap(consumer string, handler events.Handler) events.Handler {
	return func(ctx context.Context, event events.Event) error {
		started := time.Now()
		logger := g.logger.With(
			zap.String("consumer", consumer),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("case_id", event.CaseID),
			zap.String("ticket_key", event.TicketKey))

		done, err := g.processed.IsProcessed(ctx, consumer, event.ID)
		if err != nil {
			g.metrics.RecordHandled(consumer, string(event.Type), observability.ResultFailed, time.Since(started))
			return err
		}
		if done {
			logger.Debug("duplicate delivery ignored")
			g.metrics.RecordHandled(consumer, string(event.Type), observability.ResultDuplicate, time.Since(started))
			return nil
		}

		result := observability.ResultApplied
		if err := handler(ctx, event); err != nil {
			var skipped *skipError
			if !errors.As(err, &skipped) {
				logger.Warn("event handling failed", zap.Bool("permanent", events.IsPermanent(err)), zap.Error(err))
				g.metrics.RecordHandled(consumer, string(event.Type), observability.ResultFailed, time.Since(started))
				return err
			}
			logger.Info("event skipped", zap.String("reason", skipped.reason))
			result = observability.ResultSkipped
		}

		if err := g.processed.MarkProcessed(ctx, consumer, event.ID); err != nil {
			g.metrics.RecordHandled(consumer, string(event.Type), observability.ResultFailed, time.Since(started))
			return err
		}
		g.metrics.RecordHandled(consumer, string(event.Type), result, time.Since(started))
		if result == observability.ResultApplied {
			logger.Info("event applied")
		}
		return nil
	}
}

// skipError lets a handler report that it deliberately ignored an event.
// The guard records such events as processed.
type skipError struct {
	reason string
}

func (e *skipError) Error() string { return "skipped: " + e.reason }

func skip(reason string) error {
	return &skipError{reason: reason}
}

// publishAll publishes events in order and counts them.
func publishAll(ctx context.Context, pub events.Publisher, metrics *observability.Metrics, evts []events.Event) error {
	for _, evt := range evts {
		if err := pub.Publish(ctx, evt); err != nil {
			return err
		}
		metrics.RecordPublished(string(evt.Source), string(evt.Type))
	}
	return nil
}
