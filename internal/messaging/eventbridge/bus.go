package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/eventbridge"
	"go.uber.org/zap"

	domainevents "github.com/spec-kit/security-ir-jira/internal/events"
)

// API is the subset of the EventBridge client used by the bus.
type API interface {
	PutEventsWithContext(ctx aws.Context, input *eventbridge.PutEventsInput, opts ...request.Option) (*eventbridge.PutEventsOutput, error)
}

// Bus publishes to an EventBridge bus. The bus source becomes the
// EventBridge source and the event type its detail-type, so rules can
// filter on either. Deliveries arrive through Lambda and are routed with
// HandleCloudWatchEvent.
type Bus struct {
	*domainevents.Router
	api     API
	busName string
	logger  *zap.Logger
}

// NewBus creates a bus publishing to busName.
func NewBus(api API, busName string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{Router: domainevents.NewRouter(), api: api, busName: busName, logger: logger}
}

// Publish sends a single event and fails if EventBridge rejected it.
func (b *Bus) Publish(ctx context.Context, event domainevents.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}
	out, err := b.api.PutEventsWithContext(ctx, &eventbridge.PutEventsInput{
		Entries: []*eventbridge.PutEventsRequestEntry{{
			EventBusName: aws.String(b.busName),
			Source:       aws.String(string(event.Source)),
			DetailType:   aws.String(string(event.Type)),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(event.OccurredAt),
		}},
	})
	if err != nil {
		return fmt.Errorf("put events: %w", err)
	}
	if aws.Int64Value(out.FailedEntryCount) > 0 {
		var reasons []string
		for _, entry := range out.Entries {
			if entry.ErrorCode != nil {
				reasons = append(reasons, aws.StringValue(entry.ErrorCode)+": "+aws.StringValue(entry.ErrorMessage))
			}
		}
		return fmt.Errorf("put events: %d entries failed: %s", aws.Int64Value(out.FailedEntryCount), strings.Join(reasons, "; "))
	}
	b.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("source", string(event.Source)),
		zap.String("event_type", string(event.Type)))
	return nil
}

// HandleCloudWatchEvent routes an EventBridge delivery to subscribers.
// Malformed deliveries are reported as permanent failures.
func (b *Bus) HandleCloudWatchEvent(ctx context.Context, cwe events.CloudWatchEvent) error {
	event, err := Decode(cwe)
	if err != nil {
		return domainevents.Permanent(err)
	}
	return b.Dispatch(ctx, event)
}

// Decode rebuilds the bus event carried in an EventBridge delivery.
func Decode(cwe events.CloudWatchEvent) (domainevents.Event, error) {
	var event domainevents.Event
	if len(cwe.Detail) == 0 {
		return event, errors.New("eventbridge delivery has no detail")
	}
	if err := json.Unmarshal(cwe.Detail, &event); err != nil {
		return event, fmt.Errorf("decode eventbridge detail: %w", err)
	}
	if event.Source == "" {
		event.Source = domainevents.Source(cwe.Source)
	}
	if event.Type == "" {
		event.Type = domainevents.EventType(cwe.DetailType)
	}
	if string(event.Source) != cwe.Source {
		return event, fmt.Errorf("detail source %q does not match delivery source %q", event.Source, cwe.Source)
	}
	if event.ID == "" {
		event.ID = cwe.ID
	}
	if err := event.Validate(); err != nil {
		return event, err
	}
	return event, nil
}
