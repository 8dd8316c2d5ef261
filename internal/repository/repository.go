package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrLinkExists is returned when either side of a ticket link is taken.
	ErrLinkExists = errors.New("ticket link already exists")
)

// TicketLinkRepository persists the case to ticket mapping.
type TicketLinkRepository interface {
	Create(ctx context.Context, link *domain.TicketLink) error
	GetByCaseID(ctx context.Context, caseID string) (*domain.TicketLink, error)
	GetByTicketKey(ctx context.Context, ticketKey string) (*domain.TicketLink, error)
}

// SnapshotRepository persists the last observed state of each case.
type SnapshotRepository interface {
	Get(ctx context.Context, caseID string) (*domain.CaseSnapshot, error)
	Save(ctx context.Context, snapshot *domain.CaseSnapshot) error
}

// ProcessedEventRepository records which consumer already applied which
// event.
type ProcessedEventRepository interface {
	IsProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) error
}

// WatermarkRepository keeps the last fully synced poll time per poller so
// a restarted process resumes where the previous one stopped.
type WatermarkRepository interface {
	GetWatermark(ctx context.Context, poller string) (time.Time, error)
	SaveWatermark(ctx context.Context, poller string, at time.Time) error
}

// Store bundles the case store repositories of one backend.
type Store struct {
	Links      TicketLinkRepository
	Snapshots  SnapshotRepository
	Processed  ProcessedEventRepository
	Watermarks WatermarkRepository
}
