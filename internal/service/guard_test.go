package service

import (
	"context"
	"errors"
	"testing"

	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/observability"
	"github.com/spec-kit/security-ir-jira/internal/repository"
)

func TestGuardAppliesEachEventOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	calls := 0
	handler := NewGuard(store, observability.NewMetrics(), nil).Wrap("test", func(context.Context, events.Event) error {
		calls++
		return nil
	})

	evt := mustEvent(events.SourceJira, events.EventCommentAdded, events.CommentPayload{CommentID: "1"})
	for i := 0; i < 3; i++ {
		if err := handler(ctx, evt); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestGuardRetriesFailedEvents(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	fail := errors.New("jira unavailable")
	calls := 0
	handler := NewGuard(store, nil, nil).Wrap("test", func(context.Context, events.Event) error {
		calls++
		if calls == 1 {
			return fail
		}
		return nil
	})

	evt := mustEvent(events.SourceJira, events.EventCommentAdded, events.CommentPayload{CommentID: "1"})
	if err := handler(ctx, evt); !errors.Is(err, fail) {
		t.Fatalf("first delivery err = %v", err)
	}
	if ok, _ := store.IsProcessed(ctx, "test", evt.ID); ok {
		t.Fatal("failed event marked processed")
	}
	if err := handler(ctx, evt); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d", calls)
	}
}

func TestGuardRecordsSkippedEvents(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	handler := NewGuard(store, nil, nil).Wrap("test", func(context.Context, events.Event) error {
		return skip("nothing to do")
	})

	evt := mustEvent(events.SourceJira, events.EventCommentAdded, events.CommentPayload{CommentID: "1"})
	if err := handler(ctx, evt); err != nil {
		t.Fatalf("skip surfaced as error: %v", err)
	}
	if ok, _ := store.IsProcessed(ctx, "test", evt.ID); !ok {
		t.Error("skipped event not marked processed")
	}
}

func TestGuardSeparatesConsumers(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(repository.NewMemoryStore(), nil, nil)
	calls := map[string]int{}
	count := func(name string) events.Handler {
		return guard.Wrap(name, func(context.Context, events.Event) error {
			calls[name]++
			return nil
		})
	}
	a, b := count(ConsumerOutbound), count(ConsumerReverseSync)

	evt := mustEvent(events.SourceSecurityIR, events.EventCaseCreated, events.CasePayload{})
	_ = a(ctx, evt)
	_ = b(ctx, evt)
	if calls[ConsumerOutbound] != 1 || calls[ConsumerReverseSync] != 1 {
		t.Errorf("calls = %v", calls)
	}
}
