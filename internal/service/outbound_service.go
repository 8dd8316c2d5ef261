package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/domain"
	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/jira"
	"github.com/spec-kit/security-ir-jira/internal/repository"
)

// OutboundService mirrors case events into Jira.
type OutboundService struct {
	cases      CaseManagement
	tickets    TicketSystem
	links      repository.TicketLinkRepository
	statuses   StatusMap
	projectKey string
	issueType  string
	logger     *zap.Logger
}

// OutboundDependencies bundles the outbound service collaborators.
type OutboundDependencies struct {
	Cases      CaseManagement
	Tickets    TicketSystem
	Links      repository.TicketLinkRepository
	Statuses   StatusMap
	ProjectKey string
	IssueType  string
	Logger     *zap.Logger
}

// NewOutboundService constructs the service.
func NewOutboundService(deps OutboundDependencies) *OutboundService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboundService{
		cases:      deps.Cases,
		tickets:    deps.Tickets,
		links:      deps.Links,
		statuses:   deps.Statuses,
		projectKey: deps.ProjectKey,
		issueType:  deps.IssueType,
		logger:     logger,
	}
}

// RegisterHandlers subscribes the service to case events.
func (s *OutboundService) RegisterHandlers(bus events.Bus, guard *Guard) {
	bus.Subscribe(events.SourceSecurityIR, guard.Wrap(ConsumerOutbound, s.Handle))
}

// Handle applies one case event to Jira.
func (s *OutboundService) Handle(ctx context.Context, event events.Event) error {
	if event.Source != events.SourceSecurityIR {
		return skip("not a case event")
	}
	if event.CaseID == "" {
		return events.Permanent(errors.New("case event without case id"))
	}
	switch event.Type {
	case events.EventCaseCreated, events.EventCaseUpdated, events.EventCaseClosed:
		return s.handleCaseChanged(ctx, event)
	case events.EventCommentAdded:
		return s.handleCommentAdded(ctx, event)
	case events.EventAttachmentAdded:
		return s.handleAttachmentAdded(ctx, event)
	}
	return skip("unsupported event type")
}

// handleCaseChanged serves CaseCreated, CaseUpdated and CaseClosed alike.
// The event only signals that the case changed; the issue is brought in
// line with the case as it is now, so a stale or reordered event cannot
// move the issue backwards.
func (s *OutboundService) handleCaseChanged(ctx context.Context, event events.Event) error {
	link, created, err := s.ensureTicket(ctx, event.CaseID)
	if err != nil {
		return err
	}
	changed, err := s.reconcile(ctx, event.CaseID, link.TicketKey)
	if err != nil {
		return err
	}
	if !created && !changed {
		return skip("issue " + link.TicketKey + " already matches the case")
	}
	return nil
}

func (s *OutboundService) handleCommentAdded(ctx context.Context, event events.Event) error {
	var payload events.CommentPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}
	if FromTicket(payload.Body) {
		return skip("comment originated in Jira")
	}
	link, err := s.ticketFor(ctx, event.CaseID)
	if err != nil {
		return err
	}
	existing, err := s.tickets.ListComments(ctx, link.TicketKey)
	if err != nil {
		return fmt.Errorf("list comments of %s: %w", link.TicketKey, err)
	}
	if containsTag(commentBodies(existing), caseTag(payload.CommentID)) {
		return skip("comment already mirrored")
	}
	if _, err := s.tickets.AddComment(ctx, link.TicketKey, FormatCaseComment(payload.CommentID, payload.Author, payload.Body)); err != nil {
		return fmt.Errorf("add comment to %s: %w", link.TicketKey, err)
	}
	return nil
}

func (s *OutboundService) handleAttachmentAdded(ctx context.Context, event events.Event) error {
	var payload events.AttachmentPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}
	link, err := s.ticketFor(ctx, event.CaseID)
	if err != nil {
		return err
	}
	ticket, err := s.tickets.GetIssue(ctx, link.TicketKey)
	if err != nil {
		return fmt.Errorf("get issue %s: %w", link.TicketKey, err)
	}
	for _, att := range ticket.Attachments {
		if att.FileName == payload.FileName && (payload.SizeBytes == 0 || att.SizeBytes == payload.SizeBytes) {
			return skip("attachment already on the issue")
		}
	}

	content, err := s.cases.DownloadAttachment(ctx, event.CaseID, payload.AttachmentID)
	if err != nil {
		return fmt.Errorf("download attachment %s: %w", payload.AttachmentID, err)
	}
	defer content.Close()
	if _, err := s.tickets.AddAttachment(ctx, link.TicketKey, payload.FileName, content); err != nil {
		return fmt.Errorf("upload attachment to %s: %w", link.TicketKey, err)
	}
	return nil
}

// ensureTicket returns the link of the case, creating the issue first when
// the case has none. An issue already labelled for the case is adopted
// instead of creating a second one.
func (s *OutboundService) ensureTicket(ctx context.Context, caseID string) (*domain.TicketLink, bool, error) {
	link, err := s.links.GetByCaseID(ctx, caseID)
	if err == nil {
		return link, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, false, fmt.Errorf("get case %s: %w", caseID, err)
	}

	ticket, err := s.findLabelledIssue(ctx, caseID)
	if err != nil {
		return nil, false, err
	}
	if ticket == nil {
		ticket, err = s.tickets.CreateIssue(ctx, jira.IssueInput{
			ProjectKey:  s.projectKey,
			IssueType:   s.issueType,
			Summary:     c.Title,
			Description: TicketDescription(caseID, c.Description),
			Labels:      []string{CaseLabel(caseID)},
		})
		if err != nil {
			return nil, false, fmt.Errorf("create issue for case %s: %w", caseID, err)
		}
		s.logger.Info("issue created", zap.String("case_id", caseID), zap.String("ticket_key", ticket.Key))
	}

	link = &domain.TicketLink{CaseID: caseID, TicketKey: ticket.Key, TicketID: ticket.ID}
	if err := s.links.Create(ctx, link); err != nil {
		if !errors.Is(err, repository.ErrLinkExists) {
			return nil, false, fmt.Errorf("store link %s -> %s: %w", caseID, ticket.Key, err)
		}
		existing, getErr := s.links.GetByCaseID(ctx, caseID)
		if getErr != nil {
			return nil, false, fmt.Errorf("link for case %s exists but cannot be read: %w", caseID, getErr)
		}
		if existing.TicketKey != ticket.Key {
			s.logger.Warn("concurrent issue creation, keeping the first link",
				zap.String("case_id", caseID),
				zap.String("kept", existing.TicketKey),
				zap.String("orphaned", ticket.Key))
		}
		return existing, false, nil
	}

	return link, true, nil
}

// ticketFor is ensureTicket for comment and attachment events. An issue it
// has to create is reconciled right away so it does not sit in the initial
// status until the next case event.
func (s *OutboundService) ticketFor(ctx context.Context, caseID string) (*domain.TicketLink, error) {
	link, created, err := s.ensureTicket(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if created {
		if _, err := s.reconcile(ctx, caseID, link.TicketKey); err != nil {
			return nil, err
		}
	}
	return link, nil
}

func (s *OutboundService) findLabelledIssue(ctx context.Context, caseID string) (*domain.Ticket, error) {
	jql := fmt.Sprintf(`project = "%s" AND labels = "%s"`, s.projectKey, CaseLabel(caseID))
	found, err := s.tickets.SearchIssues(ctx, jql)
	if err != nil {
		return nil, fmt.Errorf("search issues for case %s: %w", caseID, err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// reconcile copies summary, description and status from the current case
// onto the issue, skipping fields that already match, and reports whether
// anything changed.
func (s *OutboundService) reconcile(ctx context.Context, caseID, key string) (bool, error) {
	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return false, fmt.Errorf("get case %s: %w", caseID, err)
	}
	issue, err := s.tickets.GetIssue(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get issue %s: %w", key, err)
	}

	changed := false
	var upd jira.IssueUpdate
	if c.Title != "" && c.Title != issue.Summary {
		upd.Summary = &c.Title
	}
	if c.Description != "" {
		desc := TicketDescription(caseID, c.Description)
		if strings.TrimSpace(desc) != strings.TrimSpace(issue.Description) {
			upd.Description = &desc
		}
	}
	if upd.Summary != nil || upd.Description != nil {
		if err := s.tickets.UpdateIssue(ctx, key, upd); err != nil {
			return false, fmt.Errorf("update issue %s: %w", key, err)
		}
		changed = true
	}

	moved, err := s.syncStatus(ctx, issue, c.Status)
	return changed || moved, err
}

// syncStatus transitions the issue to the status mapped from status unless
// it is already there. Workflows without a matching transition are logged,
// not retried.
func (s *OutboundService) syncStatus(ctx context.Context, issue *domain.Ticket, status domain.CaseStatus) (bool, error) {
	target, ok := s.statuses.JiraStatus(status)
	if !ok {
		s.logger.Warn("no Jira status mapped", zap.String("case_status", string(status)))
		return false, nil
	}
	if strings.EqualFold(issue.Status, target) {
		return false, nil
	}
	err := s.tickets.TransitionIssue(ctx, issue.Key, target)
	if errors.Is(err, jira.ErrNoTransition) {
		s.logger.Warn("issue workflow has no transition", zap.String("ticket_key", issue.Key), zap.String("target", target))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: %w", issue.Key, target, err)
	}
	return true, nil
}

func commentBodies(comments []domain.Comment) []string {
	out := make([]string, 0, len(comments))
	for _, c := range comments {
		out = append(out, c.Body)
	}
	return out
}
