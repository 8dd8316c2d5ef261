// Package lambdahandler adapts the sync services to Lambda event sources.
package lambdahandler

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	domainevents "github.com/spec-kit/security-ir-jira/internal/events"
)

// WebhookProcessor turns a raw Jira notification into bus events.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, raw []byte) (int, error)
}

// EventRouter delivers an EventBridge event to the subscribed handlers.
type EventRouter interface {
	HandleCloudWatchEvent(ctx context.Context, cwe events.CloudWatchEvent) error
}

// Poller derives events from case changes.
type Poller interface {
	Poll(ctx context.Context) (int, error)
}

// Notifications handles the SNS topic Jira webhooks are delivered to.
type Notifications struct {
	inbound WebhookProcessor
	logger  *zap.Logger
}

// NewNotifications constructs the handler.
func NewNotifications(inbound WebhookProcessor, logger *zap.Logger) *Notifications {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifications{inbound: inbound, logger: logger}
}

// Handle publishes every record of the batch. Malformed notifications are
// dropped; any other failure fails the invocation so Lambda retries it.
// Redelivered records map to the same event IDs.
func (h *Notifications) Handle(ctx context.Context, evt events.SNSEvent) error {
	var errs []error
	for _, record := range evt.Records {
		logger := h.logger.With(zap.String("message_id", record.SNS.MessageID))
		n, err := h.inbound.HandleWebhook(ctx, []byte(record.SNS.Message))
		switch {
		case err == nil:
			logger.Debug("notification handled", zap.Int("events", n))
		case domainevents.IsPermanent(err):
			logger.Warn("dropping malformed notification", zap.Error(err))
		default:
			errs = append(errs, fmt.Errorf("message %s: %w", record.SNS.MessageID, err))
		}
	}
	return errors.Join(errs...)
}

// Events handles EventBridge deliveries for one consumer.
type Events struct {
	router EventRouter
	logger *zap.Logger
}

// NewEvents constructs the handler.
func NewEvents(router EventRouter, logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{router: router, logger: logger}
}

// Handle routes the event. Permanent failures are logged and swallowed so
// the delivery is not retried.
func (h *Events) Handle(ctx context.Context, cwe events.CloudWatchEvent) error {
	err := h.router.HandleCloudWatchEvent(ctx, cwe)
	if err != nil && domainevents.IsPermanent(err) {
		h.logger.Error("discarding event",
			zap.String("id", cwe.ID),
			zap.String("source", cwe.Source),
			zap.String("detail_type", cwe.DetailType),
			zap.Error(err))
		return nil
	}
	return err
}

// PollResult is returned by the scheduled poller invocation.
type PollResult struct {
	Published int `json:"published"`
}

// Schedule handles the scheduled rule that drives the case poller.
type Schedule struct {
	poller Poller
	logger *zap.Logger
}

// NewSchedule constructs the handler.
func NewSchedule(poller Poller, logger *zap.Logger) *Schedule {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Schedule{poller: poller, logger: logger}
}

// Handle runs one poll.
func (h *Schedule) Handle(ctx context.Context, _ events.CloudWatchEvent) (PollResult, error) {
	n, err := h.poller.Poll(ctx)
	if err != nil {
		h.logger.Error("poll failed", zap.Int("published", n), zap.Error(err))
		return PollResult{Published: n}, err
	}
	return PollResult{Published: n}, nil
}
