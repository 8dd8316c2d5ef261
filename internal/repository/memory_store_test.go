package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

func TestMemoryStoreLinkUniqueOnBothSides(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().Store()

	if err := store.Links.Create(ctx, &domain.TicketLink{CaseID: "100", TicketKey: "SEC-1", TicketID: "10001"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Links.Create(ctx, &domain.TicketLink{CaseID: "100", TicketKey: "SEC-2"}); !errors.Is(err, ErrLinkExists) {
		t.Fatalf("second link for case: err = %v, want ErrLinkExists", err)
	}
	if err := store.Links.Create(ctx, &domain.TicketLink{CaseID: "101", TicketKey: "SEC-1"}); !errors.Is(err, ErrLinkExists) {
		t.Fatalf("second case for ticket: err = %v, want ErrLinkExists", err)
	}

	link, err := store.Links.GetByTicketKey(ctx, "SEC-1")
	if err != nil {
		t.Fatalf("GetByTicketKey: %v", err)
	}
	if link.CaseID != "100" || link.TicketID != "10001" {
		t.Errorf("link = %+v", link)
	}
	if _, err := store.Links.GetByCaseID(ctx, "999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByCaseID missing: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSnapshotIsCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().Store()

	snap := &domain.CaseSnapshot{CaseID: "100", Status: domain.CaseStatusSubmitted, CommentIDs: []string{"c1"}}
	if err := store.Snapshots.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap.CommentIDs[0] = "mutated"

	got, err := store.Snapshots.Get(ctx, "100")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CommentIDs[0] != "c1" {
		t.Errorf("stored snapshot aliased caller slice: %v", got.CommentIDs)
	}
	if _, err := store.Snapshots.Get(ctx, "404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing snapshot: err = %v", err)
	}
}

func TestMemoryStoreProcessedIsPerConsumer(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().Store()

	if err := store.Processed.MarkProcessed(ctx, "outbound", "evt-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if ok, _ := store.Processed.IsProcessed(ctx, "outbound", "evt-1"); !ok {
		t.Error("outbound/evt-1 not processed")
	}
	if ok, _ := store.Processed.IsProcessed(ctx, "reverse-sync", "evt-1"); ok {
		t.Error("processed marker leaked to another consumer")
	}
}

func TestMemoryStoreWatermarkPerPoller(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().Store()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Watermarks.SaveWatermark(ctx, "a", at); err != nil {
		t.Fatalf("SaveWatermark: %v", err)
	}
	if got, err := store.Watermarks.GetWatermark(ctx, "a"); err != nil || !got.Equal(at) {
		t.Errorf("a = %s, %v", got, err)
	}
	if _, err := store.Watermarks.GetWatermark(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("b: err = %v", err)
	}
}
