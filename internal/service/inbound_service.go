package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/jira"
	"github.com/spec-kit/security-ir-jira/internal/observability"
)

// InboundService turns Jira webhook notifications into bus events with
// source jira. Event IDs are derived from the notification content, so a
// webhook delivered twice yields the same events.
type InboundService struct {
	publisher          events.Publisher
	integrationAccount string
	metrics            *observability.Metrics
	logger             *zap.Logger
}

// InboundDependencies bundles the inbound service collaborators.
type InboundDependencies struct {
	Publisher events.Publisher
	// IntegrationAccount is the Jira account ID the outbound side uses.
	// Its own changes are not fed back.
	IntegrationAccount string
	Metrics            *observability.Metrics
	Logger             *zap.Logger
}

// NewInboundService constructs the service.
func NewInboundService(deps InboundDependencies) *InboundService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboundService{
		publisher:          deps.Publisher,
		integrationAccount: deps.IntegrationAccount,
		metrics:            deps.Metrics,
		logger:             logger,
	}
}

// HandleWebhook parses a notification and publishes the events it maps
// to. It returns how many events were published. Malformed payloads yield
// a permanent error wrapping jira.ErrInvalidWebhook.
func (s *InboundService) HandleWebhook(ctx context.Context, raw []byte) (int, error) {
	hook, err := jira.ParseWebhook(raw)
	if err != nil {
		return 0, events.Permanent(err)
	}
	logger := s.logger.With(
		zap.String("webhook_event", hook.WebhookEvent),
		zap.String("ticket_key", hook.IssueKey()))

	if s.integrationAccount != "" && hook.ActorAccountID() == s.integrationAccount {
		logger.Debug("ignoring change made by the integration account")
		return 0, nil
	}

	evts, err := MapWebhook(hook)
	if err != nil {
		return 0, events.Permanent(err)
	}
	if len(evts) == 0 {
		logger.Debug("webhook maps to no events")
		return 0, nil
	}
	if err := publishAll(ctx, s.publisher, s.metrics, evts); err != nil {
		return 0, fmt.Errorf("publish webhook events: %w", err)
	}
	logger.Info("webhook published", zap.Int("events", len(evts)))
	return len(evts), nil
}

// MapWebhook converts a notification into bus events. Comment edits and
// deletions are not mirrored and map to nothing.
func MapWebhook(hook *jira.WebhookEvent) ([]events.Event, error) {
	key := hook.IssueKey()
	if key == "" {
		return nil, nil
	}
	occurred := hook.OccurredAt()
	var out []events.Event
	add := func(dedupKey string, eventType events.EventType, payload any) error {
		evt, err := events.NewDeterministic(dedupKey, events.SourceJira, eventType, payload)
		if err != nil {
			return err
		}
		evt.TicketKey = key
		evt.OccurredAt = occurred
		out = append(out, evt)
		return nil
	}
	actor := ""
	if hook.User != nil {
		actor = hook.User.Name()
	}

	switch hook.WebhookEvent {
	case jira.EventIssueCreated:
		ticket := hook.Issue.Ticket()
		if err := add("issue:"+key, events.EventCaseCreated, events.CasePayload{
			Title:       ticket.Summary,
			Description: ticket.Description,
			Status:      ticket.Status,
			Actor:       actor,
			TicketID:    ticket.ID,
			Labels:      ticket.Labels,
		}); err != nil {
			return nil, err
		}

	case jira.EventIssueUpdated:
		change := changeID(hook)
		if from, to, ok := hook.StatusChange(); ok {
			eventType := events.EventCaseUpdated
			if hook.IsDone() {
				eventType = events.EventCaseClosed
			}
			if err := add("status:"+key+":"+change, eventType, events.CasePayload{
				Status:         to,
				PreviousStatus: from,
				Actor:          actor,
			}); err != nil {
				return nil, err
			}
		}
		if hook.ContentChanged() {
			ticket := hook.Issue.Ticket()
			if err := add("content:"+key+":"+change, events.EventCaseUpdated, events.CasePayload{
				Title:       ticket.Summary,
				Description: ticket.Description,
				Actor:       actor,
			}); err != nil {
				return nil, err
			}
		}
		for _, att := range hook.AddedAttachments() {
			if err := add("attachment:"+att.ID, events.EventAttachmentAdded, attachmentPayload(att)); err != nil {
				return nil, err
			}
		}

	case jira.EventCommentCreated:
		if hook.Comment == nil {
			return nil, fmt.Errorf("%w: comment_created without comment", jira.ErrInvalidWebhook)
		}
		c := hook.Comment.Domain()
		if err := add("comment:"+c.ID, events.EventCommentAdded, events.CommentPayload{
			CommentID: c.ID,
			Body:      c.Body,
			Author:    c.Author,
			CreatedAt: c.CreatedAt,
		}); err != nil {
			return nil, err
		}

	case jira.EventAttachmentCreated:
		if hook.Attachment == nil {
			return nil, fmt.Errorf("%w: attachment_created without attachment", jira.ErrInvalidWebhook)
		}
		if err := add("attachment:"+hook.Attachment.ID, events.EventAttachmentAdded, attachmentPayload(*hook.Attachment)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func attachmentPayload(att jira.Attachment) events.AttachmentPayload {
	return events.AttachmentPayload{
		AttachmentID: att.ID,
		FileName:     att.Filename,
		MimeType:     att.MimeType,
		SizeBytes:    att.Size,
		URL:          att.Content,
		Author:       att.Author.Name(),
	}
}

// changeID identifies one issue update across redeliveries.
func changeID(hook *jira.WebhookEvent) string {
	if hook.Changelog != nil && hook.Changelog.ID != "" {
		return hook.Changelog.ID
	}
	return strconv.FormatInt(hook.Timestamp, 10)
}
