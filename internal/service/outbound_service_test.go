package service

import (
	"context"
	"strings"
	"testing"

	"github.com/spec-kit/security-ir-jira/internal/domain"
	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/repository"
)

type outboundFixture struct {
	cases   *fakeCases
	tickets *fakeTickets
	store   *repository.MemoryStore
	handle  events.Handler
}

func newOutboundFixture() *outboundFixture {
	f := &outboundFixture{cases: newFakeCases(), tickets: newFakeTickets(), store: repository.NewMemoryStore()}
	svc := NewOutboundService(OutboundDependencies{
		Cases:      f.cases,
		Tickets:    f.tickets,
		Links:      f.store,
		Statuses:   DefaultStatusMap(),
		ProjectKey: "SEC",
		IssueType:  "Task",
	})
	f.handle = NewGuard(f.store, nil, nil).Wrap(ConsumerOutbound, svc.Handle)
	f.cases.add(&domain.Case{ID: "42", Title: "Credential leak", Description: "Keys in repo", Status: domain.CaseStatusAcknowledged})
	return f
}

func caseEvent(eventType events.EventType, caseID string, payload any) events.Event {
	evt := mustEvent(events.SourceSecurityIR, eventType, payload)
	evt.CaseID = caseID
	return evt
}

func TestOutboundCaseCreatedOpensIssueOnce(t *testing.T) {
	ctx := context.Background()
	f := newOutboundFixture()

	if err := f.handle(ctx, caseEvent(events.EventCaseCreated, "42", events.CasePayload{Title: "Credential leak"})); err != nil {
		t.Fatalf("first CaseCreated: %v", err)
	}
	if err := f.handle(ctx, caseEvent(events.EventCaseCreated, "42", events.CasePayload{Title: "Credential leak"})); err != nil {
		t.Fatalf("second CaseCreated: %v", err)
	}

	if f.tickets.createCalls != 1 {
		t.Fatalf("issues created = %d, want 1", f.tickets.createCalls)
	}
	link, err := f.store.GetByCaseID(ctx, "42")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	issue := f.tickets.issues[link.TicketKey]
	if issue.Summary != "Credential leak" || !strings.Contains(issue.Description, "Keys in repo") {
		t.Errorf("issue = %+v", issue)
	}
	if len(issue.Labels) != 1 || issue.Labels[0] != "security-ir-case-42" {
		t.Errorf("labels = %v", issue.Labels)
	}
	if issue.Status != "In Progress" {
		t.Errorf("status = %q, want mapped In Progress", issue.Status)
	}
}

func TestOutboundAdoptsLabelledIssue(t *testing.T) {
	ctx := context.Background()
	f := newOutboundFixture()
	f.tickets.issues["SEC-9"] = &domain.Ticket{ID: "10009", Key: "SEC-9", Labels: []string{CaseLabel("42")}, Status: "To Do"}

	if err := f.handle(ctx, caseEvent(events.EventCaseCreated, "42", events.CasePayload{})); err != nil {
		t.Fatalf("CaseCreated: %v", err)
	}
	if f.tickets.createCalls != 0 {
		t.Errorf("created a duplicate issue")
	}
	link, err := f.store.GetByCaseID(ctx, "42")
	if err != nil || link.TicketKey != "SEC-9" {
		t.Fatalf("link = %+v, %v", link, err)
	}
}

func TestOutboundRedeliveryAppliesOnce(t *testing.T) {
	ctx := context.Background()
	f := newOutboundFixture()
	evt := caseEvent(events.EventCommentAdded, "42", events.CommentPayload{CommentID: "c1", Body: "Rotated keys", Author: "analyst"})

	for i := 0; i < 3; i++ {
		if err := f.handle(ctx, evt); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	link, _ := f.store.GetByCaseID(ctx, "42")
	comments := f.tickets.comments[link.TicketKey]
	if len(comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(comments))
	}
	if !strings.HasPrefix(comments[0].Body, "[Security IR #c1] analyst wrote:") {
		t.Errorf("body = %q", comments[0].Body)
	}
}

func TestOutboundCommentIdempotentAcrossEventIDs(t *testing.T) {
	ctx := context.Background()
	f := newOutboundFixture()
	payload := events.CommentPayload{CommentID: "c1", Body: "hello"}

	_ = f.handle(ctx, caseEvent(events.EventCommentAdded, "42", payload))
	_ = f.handle(ctx, caseEvent(events.EventCommentAdded, "42", payload))

	link, _ := f.store.GetByCaseID(ctx, "42")
	if n := len(f.tickets.comments[link.TicketKey]); n != 1 {
		t.Fatalf("comments = %d, want 1", n)
	}
}

func TestOutboundSkipsCommentsMirroredFromJira(t *testing.T) {
	ctx := context.Background()
	f := newOutboundFixture()
	body := FormatTicketComment("77", "Ana", "from jira")

	if err := f.handle(ctx, caseEvent(events.EventCommentAdded, "42", events.CommentPayload{CommentID: "c9", Body: body})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	for key, comments := range f.tickets.comments {
		if len(comments) > 0 {
			t.Fatalf("comment mirrored back to %s", key)
		}
	}
}

func TestOutboundStatusUpdateAndClose(t *testing.T) {
	ctx := context.Background()
	f := newOutboundFixture()
	_ = f.handle(ctx, caseEvent(events.EventCaseCreated, "42", events.CasePayload{}))
	link, _ := f.store.GetByCaseID(ctx, "42")

	f.cases.update("42", func(c *domain.Case) {
		c.Title = "Credential leak (prod)"
		c.Status = domain.CaseStatusContainment
	})
	update := caseEvent(events.EventCaseUpdated, "42", events.CasePayload{Title: "Credential leak (prod)", Status: string(domain.CaseStatusContainment)})
	if err := f.handle(ctx, update); err != nil {
		t.Fatalf("CaseUpdated: %v", err)
	}
	if got := f.tickets.issues[link.TicketKey].Summary; got != "Credential leak (prod)" {
		t.Errorf("summary = %q", got)
	}

	f.cases.update("42", func(c *domain.Case) { c.Status = domain.CaseStatusClosed })
	if err := f.handle(ctx, caseEvent(events.EventCaseClosed, "42", events.CasePayload{Status: "Closed"})); err != nil {
		t.Fatalf("CaseClosed: %v", err)
	}
	if got := f.tickets.issues[link.TicketKey].Status; got != "Done" {
		t.Errorf("status = %q, want Done", got)
	}
}

func TestOutboundStaleUpdateAfterCloseKeepsIssueDone(t *testing.T) {
	ctx := context.Background()
	f := newOutboundFixture()
	if err := f.handle(ctx, caseEvent(events.EventCaseCreated, "42", events.CasePayload{})); err != nil {
		t.Fatalf("CaseCreated: %v", err)
	}
	link, _ := f.store.GetByCaseID(ctx, "42")

	f.cases.update("42", func(c *domain.Case) { c.Status = domain.CaseStatusClosed })
	if err := f.handle(ctx, caseEvent(events.EventCaseClosed, "42", events.CasePayload{Status: "Closed"})); err != nil {
		t.Fatalf("CaseClosed: %v", err)
	}

	// An update emitted before the close arrives last.
	stale := caseEvent(events.EventCaseUpdated, "42", events.CasePayload{Title: "Credential leak", Status: string(domain.CaseStatusDetectionAndAnalysis)})
	if err := f.handle(ctx, stale); err != nil {
		t.Fatalf("stale CaseUpdated: %v", err)
	}

	if got := f.tickets.issues[link.TicketKey].Status; got != "Done" {
		t.Errorf("status = %q, want Done", got)
	}
	want := []string{link.TicketKey + "->In Progress", link.TicketKey + "->Done"}
	if strings.Join(f.tickets.transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", f.tickets.transitions, want)
	}
}

func TestOutboundRedeliveryAfterFailedTransitionSyncsStatus(t *testing.T) {
	ctx := context.Background()
	f := newOutboundFixture()
	f.tickets.failTransitions = 1
	evt := caseEvent(events.EventCaseCreated, "42", events.CasePayload{})

	if err := f.handle(ctx, evt); err == nil {
		t.Fatal("expected the failed transition to surface")
	}
	if done, _ := f.store.IsProcessed(ctx, ConsumerOutbound, evt.ID); done {
		t.Fatal("failed event must not be marked processed")
	}

	if err := f.handle(ctx, evt); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	link, err := f.store.GetByCaseID(ctx, "42")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if f.tickets.createCalls != 1 {
		t.Errorf("issues created = %d, want 1", f.tickets.createCalls)
	}
	if got := f.tickets.issues[link.TicketKey].Status; got != "In Progress" {
		t.Errorf("status = %q, want In Progress", got)
	}
}

func TestOutboundMissingTransitionIsNotAnError(t *testing.T) {
	ctx := context.Background()
	f := newOutboundFixture()
	f.tickets.noTransition = true

	if err := f.handle(ctx, caseEvent(events.EventCaseClosed, "42", events.CasePayload{})); err != nil {
		t.Fatalf("CaseClosed: %v", err)
	}
}

func TestOutboundUploadsAttachmentOnce(t *testing.T) {
	ctx := context.Background()
	f := newOutboundFixture()
	f.cases.files["a1"] = "pcap-bytes"
	evt := caseEvent(events.EventAttachmentAdded, "42", events.AttachmentPayload{AttachmentID: "a1", FileName: "capture.pcap"})

	if err := f.handle(ctx, evt); err != nil {
		t.Fatalf("AttachmentAdded: %v", err)
	}
	again := caseEvent(events.EventAttachmentAdded, "42", events.AttachmentPayload{AttachmentID: "a1", FileName: "capture.pcap"})
	if err := f.handle(ctx, again); err != nil {
		t.Fatalf("AttachmentAdded again: %v", err)
	}
	if len(f.tickets.uploads) != 1 || !strings.HasSuffix(f.tickets.uploads[0], "capture.pcap=pcap-bytes") {
		t.Errorf("uploads = %v", f.tickets.uploads)
	}
}

func TestOutboundUnknownCaseFails(t *testing.T) {
	f := newOutboundFixture()
	evt := caseEvent(events.EventCaseCreated, "missing", events.CasePayload{})
	if err := f.handle(context.Background(), evt); err == nil {
		t.Fatal("expected error for unknown case")
	}
	if ok, _ := f.store.IsProcessed(context.Background(), ConsumerOutbound, evt.ID); ok {
		t.Fatal("failed event marked processed")
	}
}
