package service

import (
	"context"
	"io"
	"time"

	"github.com/spec-kit/security-ir-jira/internal/caseapi"
	"github.com/spec-kit/security-ir-jira/internal/domain"
	"github.com/spec-kit/security-ir-jira/internal/jira"
)

// CaseManagement is the incident case API the services act on.
type CaseManagement interface {
	GetCase(ctx context.Context, caseID string) (*domain.Case, error)
	ListCases(ctx context.Context, since time.Time) ([]domain.CaseSummary, error)
	CreateCase(ctx context.Context, nc domain.NewCase) (string, error)
	UpdateCase(ctx context.Context, caseID string, upd caseapi.CaseUpdate) error
	UpdateCaseStatus(ctx context.Context, caseID string, status domain.CaseStatus) error
	CloseCase(ctx context.Context, caseID string) error
	ListComments(ctx context.Context, caseID string) ([]domain.Comment, error)
	CreateComment(ctx context.Context, caseID, body string) (string, error)
	DownloadAttachment(ctx context.Context, caseID, attachmentID string) (io.ReadCloser, error)
}

// TicketSystem is the issue tracker the services mirror cases into.
type TicketSystem interface {
	CreateIssue(ctx context.Context, in jira.IssueInput) (*domain.Ticket, error)
	GetIssue(ctx context.Context, key string) (*domain.Ticket, error)
	UpdateIssue(ctx context.Context, key string, upd jira.IssueUpdate) error
	AddComment(ctx context.Context, key, body string) (*domain.Comment, error)
	ListComments(ctx context.Context, key string) ([]domain.Comment, error)
	TransitionIssue(ctx context.Context, key, statusName string) error
	SearchIssues(ctx context.Context, jql string) ([]domain.Ticket, error)
	AddAttachment(ctx context.Context, key, fileName string, content io.Reader) (*domain.Attachment, error)
}

var (
	_ CaseManagement = (*caseapi.Client)(nil)
	_ TicketSystem   = (*jira.Client)(nil)
)
