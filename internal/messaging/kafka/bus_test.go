package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/spec-kit/security-ir-jira/internal/events"
)

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves queued messages and cancels the run once drained.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func caseEvent(t *testing.T) events.Event {
	t.Helper()
	evt, err := events.New(events.SourceSecurityIR, events.EventCaseUpdated, events.CasePayload{Status: "Acknowledged"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	evt.CaseID = "42"
	return evt
}

func TestPublishKeysByCase(t *testing.T) {
	w := &fakeWriter{}
	bus := NewBus(w, &fakeReader{}, events.RetryPolicy{MaxAttempts: 1}, nil)
	evt := caseEvent(t)

	if err := bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "case:42" {
		t.Fatalf("msgs = %+v", w.msgs)
	}
	if string(w.msgs[0].Headers[1].Value) != "security-ir" {
		t.Errorf("source header = %q", w.msgs[0].Headers[1].Value)
	}
}

func TestRunRetriesThenCommitsEveryMessage(t *testing.T) {
	good, _ := json.Marshal(caseEvent(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{
		cancel: cancel,
		queue: []kafka.Message{
			{Offset: 1, Value: []byte("garbage")},
			{Offset: 2, Value: good},
		},
	}
	bus := NewBus(&fakeWriter{}, reader, events.RetryPolicy{MaxAttempts: 3}, nil)

	calls := 0
	bus.Subscribe(events.SourceSecurityIR, func(context.Context, events.Event) error {
		calls++
		return errors.New("jira unavailable")
	})

	if err := bus.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Errorf("handler calls = %d, want 3", calls)
	}
	if len(reader.committed) != 2 {
		t.Errorf("committed = %v, want both offsets", reader.committed)
	}
}
