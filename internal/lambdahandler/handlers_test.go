package lambdahandler

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	domainevents "github.com/spec-kit/security-ir-jira/internal/events"
)

type stubInbound struct {
	seen []string
	errs map[string]error
}

func (s *stubInbound) HandleWebhook(_ context.Context, raw []byte) (int, error) {
	s.seen = append(s.seen, string(raw))
	if err := s.errs[string(raw)]; err != nil {
		return 0, err
	}
	return 1, nil
}

func snsEvent(messages ...string) events.SNSEvent {
	var evt events.SNSEvent
	for i, m := range messages {
		evt.Records = append(evt.Records, events.SNSEventRecord{SNS: events.SNSEntity{
			MessageID: string(rune('a' + i)),
			Message:   m,
		}})
	}
	return evt
}

func TestNotificationsHandlesEveryRecord(t *testing.T) {
	inbound := &stubInbound{errs: map[string]error{
		"bad": domainevents.Permanent(errors.New("not json")),
	}}
	h := NewNotifications(inbound, nil)
	if err := h.Handle(context.Background(), snsEvent("one", "bad", "two")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(inbound.seen) != 3 {
		t.Errorf("seen = %v", inbound.seen)
	}
}

func TestNotificationsFailsOnRetryableError(t *testing.T) {
	inbound := &stubInbound{errs: map[string]error{"two": errors.New("bus down")}}
	h := NewNotifications(inbound, nil)
	if err := h.Handle(context.Background(), snsEvent("one", "two")); err == nil {
		t.Fatal("expected error so Lambda retries")
	}
}

type stubRouter struct{ err error }

func (r stubRouter) HandleCloudWatchEvent(context.Context, events.CloudWatchEvent) error {
	return r.err
}

func TestEventsSwallowsPermanentFailures(t *testing.T) {
	ctx := context.Background()
	cwe := events.CloudWatchEvent{ID: "1", Source: "jira", DetailType: "CommentAdded"}

	if err := NewEvents(stubRouter{}, nil).Handle(ctx, cwe); err != nil {
		t.Errorf("success = %v", err)
	}
	if err := NewEvents(stubRouter{err: domainevents.Permanent(errors.New("bad detail"))}, nil).Handle(ctx, cwe); err != nil {
		t.Errorf("permanent = %v, want nil", err)
	}
	retry := errors.New("jira 503")
	if err := NewEvents(stubRouter{err: retry}, nil).Handle(ctx, cwe); !errors.Is(err, retry) {
		t.Errorf("retryable = %v", err)
	}
}

type stubPoller struct {
	n   int
	err error
}

func (p stubPoller) Poll(context.Context) (int, error) { return p.n, p.err }

func TestSchedule(t *testing.T) {
	res, err := NewSchedule(stubPoller{n: 3}, nil).Handle(context.Background(), events.CloudWatchEvent{})
	if err != nil || res.Published != 3 {
		t.Errorf("Handle = %+v, %v", res, err)
	}
	if _, err := NewSchedule(stubPoller{err: errors.New("throttled")}, nil).Handle(context.Background(), events.CloudWatchEvent{}); err == nil {
		t.Error("poll error swallowed")
	}
}
