package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/domain"
	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/repository"
)

// linkGrace is how long an event for an unlinked ticket is retried before
// the ticket is treated as unrelated to any case. It covers events that
// overtake the creation of their link.
const linkGrace = 5 * time.Minute

// ReverseSyncService applies Jira events back onto cases.
type ReverseSyncService struct {
	cases       CaseManagement
	links       repository.TicketLinkRepository
	statuses    StatusMap
	createCases bool
	logger      *zap.Logger
	now         func() time.Time
}

// ReverseSyncDependencies bundles the reverse sync collaborators.
type ReverseSyncDependencies struct {
	Cases    CaseManagement
	Links    repository.TicketLinkRepository
	Statuses StatusMap
	// CreateCases opens a case for issues created directly in Jira.
	CreateCases bool
	Logger      *zap.Logger
}

// NewReverseSyncService constructs the service.
func NewReverseSyncService(deps ReverseSyncDependencies) *ReverseSyncService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReverseSyncService{
		cases:       deps.Cases,
		links:       deps.Links,
		statuses:    deps.Statuses,
		createCases: deps.CreateCases,
		logger:      logger,
		now:         time.Now,
	}
}

// RegisterHandlers subscribes the service to Jira events.
func (s *ReverseSyncService) RegisterHandlers(bus events.Bus, guard *Guard) {
	bus.Subscribe(events.SourceJira, guard.Wrap(ConsumerReverseSync, s.Handle))
}

// Handle applies one Jira event to the linked case.
func (s *ReverseSyncService) Handle(ctx context.Context, event events.Event) error {
	if event.Source != events.SourceJira {
		return skip("not a Jira event")
	}
	if event.TicketKey == "" {
		return events.Permanent(errors.New("jira event without ticket key"))
	}
	if event.Type == events.EventCaseCreated {
		return s.handleIssueCreated(ctx, event)
	}

	caseID, err := s.caseFor(ctx, event)
	if err != nil {
		return err
	}
	switch event.Type {
	case events.EventCaseUpdated:
		return s.handleIssueUpdated(ctx, caseID, event)
	case events.EventCaseClosed:
		return s.handleIssueDone(ctx, caseID, event)
	case events.EventCommentAdded:
		return s.handleCommentAdded(ctx, caseID, event)
	case events.EventAttachmentAdded:
		return s.handleAttachmentAdded(ctx, caseID, event)
	}
	return skip("unsupported event type")
}

// caseFor resolves the case linked to the event's ticket.
func (s *ReverseSyncService) caseFor(ctx context.Context, event events.Event) (string, error) {
	if event.CaseID != "" {
		return event.CaseID, nil
	}
	link, err := s.links.GetByTicketKey(ctx, event.TicketKey)
	if err == nil {
		return link.CaseID, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	if s.now().Sub(event.OccurredAt) < linkGrace {
		return "", fmt.Errorf("ticket %s is not linked to a case yet", event.TicketKey)
	}
	return "", skip("ticket " + event.TicketKey + " mirrors no case")
}

func (s *ReverseSyncService) handleIssueCreated(ctx context.Context, event events.Event) error {
	var payload events.CasePayload
	if err := event.Decode(&payload); err != nil {
		return err
	}
	if _, ok := CaseIDFromLabels(payload.Labels); ok {
		return skip("issue was created as a case mirror")
	}
	if _, err := s.links.GetByTicketKey(ctx, event.TicketKey); err == nil {
		return skip("issue already linked")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if !s.createCases {
		return skip("case creation from Jira is disabled")
	}

	caseID, err := s.cases.CreateCase(ctx, domain.NewCase{
		Title:          payload.Title,
		Description:    CaseDescription(event.TicketKey, payload.Description),
		IdempotencyKey: "jira-" + event.TicketKey,
	})
	if err != nil {
		return fmt.Errorf("create case for %s: %w", event.TicketKey, err)
	}
	link := &domain.TicketLink{CaseID: caseID, TicketKey: event.TicketKey, TicketID: payload.TicketID}
	if err := s.links.Create(ctx, link); err != nil && !errors.Is(err, repository.ErrLinkExists) {
		return fmt.Errorf("store link %s -> %s: %w", caseID, event.TicketKey, err)
	}
	s.logger.Info("case opened from issue", zap.String("case_id", caseID), zap.String("ticket_key", event.TicketKey))
	return nil
}

func (s *ReverseSyncService) handleIssueUpdated(ctx context.Context, caseID string, event events.Event) error {
	var payload events.CasePayload
	if err := event.Decode(&payload); err != nil {
		return err
	}
	if payload.Status == "" {
		return skip("no status change")
	}
	target, ok := s.statuses.CaseStatus(payload.Status)
	if !ok {
		return skip("Jira status " + payload.Status + " is not mapped")
	}
	return s.advance(ctx, caseID, payload.Status, target)
}

func (s *ReverseSyncService) handleIssueDone(ctx context.Context, caseID string, event events.Event) error {
	var payload events.CasePayload
	if err := event.Decode(&payload); err != nil {
		return err
	}
	target, ok := s.statuses.CaseStatus(payload.Status)
	if !ok {
		target = domain.CaseStatusClosed
	}
	return s.advance(ctx, caseID, payload.Status, target)
}

// advance moves the case forward to target. Cases never move backwards
// and closed cases are never reopened. A Jira status equal to the one the
// current case status maps to is the echo of the outbound mirror, or a
// move that changes nothing on the case, and is ignored whichever account
// made it.
func (s *ReverseSyncService) advance(ctx context.Context, caseID, jiraStatus string, target domain.CaseStatus) error {
	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return fmt.Errorf("get case %s: %w", caseID, err)
	}
	mirrored, ok := s.statuses.JiraStatus(c.Status)
	switch {
	case c.Status.IsClosed():
		return skip("case is closed")
	case ok && jiraStatus != "" && strings.EqualFold(mirrored, strings.TrimSpace(jiraStatus)):
		return skip("issue status " + mirrored + " already mirrors the case")
	case target.Rank() <= c.Status.Rank():
		return skip("case already at or past " + string(target))
	case target.IsClosed():
		if err := s.cases.CloseCase(ctx, caseID); err != nil {
			return fmt.Errorf("close case %s: %w", caseID, err)
		}
	case target.Updatable():
		if err := s.cases.UpdateCaseStatus(ctx, caseID, target); err != nil {
			return fmt.Errorf("update case %s status: %w", caseID, err)
		}
	default:
		return skip("status " + string(target) + " cannot be set through the API")
	}
	s.logger.Info("case status advanced",
		zap.String("case_id", caseID),
		zap.String("from", string(c.Status)),
		zap.String("to", string(target)))
	return nil
}

func (s *ReverseSyncService) handleCommentAdded(ctx context.Context, caseID string, event events.Event) error {
	var payload events.CommentPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}
	if FromCase(payload.Body) {
		return skip("comment originated in the case")
	}
	return s.commentOnce(ctx, caseID, ticketTag(payload.CommentID),
		FormatTicketComment(payload.CommentID, payload.Author, payload.Body))
}

func (s *ReverseSyncService) handleAttachmentAdded(ctx context.Context, caseID string, event events.Event) error {
	var payload events.AttachmentPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}
	return s.commentOnce(ctx, caseID, ticketTag("attachment-"+payload.AttachmentID),
		FormatTicketAttachment(event.TicketKey, payload.AttachmentID, payload.FileName, payload.SizeBytes, payload.URL))
}

// commentOnce adds body to the case unless a comment carrying tag exists.
func (s *ReverseSyncService) commentOnce(ctx context.Context, caseID, tag, body string) error {
	existing, err := s.cases.ListComments(ctx, caseID)
	if err != nil {
		return fmt.Errorf("list comments of case %s: %w", caseID, err)
	}
	if containsTag(commentBodies(existing), tag) {
		return skip("already mirrored")
	}
	if _, err := s.cases.CreateComment(ctx, caseID, body); err != nil {
		return fmt.Errorf("comment on case %s: %w", caseID, err)
	}
	return nil
}
