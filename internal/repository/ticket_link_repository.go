package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

type ticketLinkRepository struct {
	pool *pgxpool.Pool
}

// NewTicketLinkRepository instantiates the Postgres repository.
func NewTicketLinkRepository(pool *pgxpool.Pool) TicketLinkRepository {
	return &ticketLinkRepository{pool: pool}
}

func (r *ticketLinkRepository) Create(ctx context.Context, link *domain.TicketLink) error {
	const query = `
        INSERT INTO ticket_links (case_id, ticket_key, ticket_id)
        VALUES ($1,$2,$3)
        ON CONFLICT DO NOTHING
        RETURNING created_at`
	err := r.pool.QueryRow(ctx, query, link.CaseID, link.TicketKey, link.TicketID).Scan(&link.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLinkExists
	}
	if err != nil {
		return fmt.Errorf("insert ticket link: %w", err)
	}
	return nil
}

func (r *ticketLinkRepository) GetByCaseID(ctx context.Context, caseID string) (*domain.TicketLink, error) {
	const query = `
        SELECT case_id, ticket_key, ticket_id, created_at
        FROM ticket_links WHERE case_id=$1`
	return r.fetchSingle(ctx, query, caseID)
}

func (r *ticketLinkRepository) GetByTicketKey(ctx context.Context, ticketKey string) (*domain.TicketLink, error) {
	const query = `
        SELECT case_id, ticket_key, ticket_id, created_at
        FROM ticket_links WHERE ticket_key=$1`
	return r.fetchSingle(ctx, query, ticketKey)
}

func (r *ticketLinkRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.TicketLink, error) {
	var link domain.TicketLink
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&link.CaseID,
		&link.TicketKey,
		&link.TicketID,
		&link.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}
