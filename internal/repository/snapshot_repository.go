package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

type snapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository instantiates the Postgres repository.
func NewSnapshotRepository(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepository{pool: pool}
}

func (r *snapshotRepository) Get(ctx context.Context, caseID string) (*domain.CaseSnapshot, error) {
	const query = `
        SELECT case_id, status, content_hash, comment_ids, attachment_ids, case_updated_at, synced_at
        FROM case_snapshots WHERE case_id=$1`
	var (
		snap      domain.CaseSnapshot
		updatedAt *time.Time
	)
	if err := r.pool.QueryRow(ctx, query, caseID).Scan(
		&snap.CaseID,
		&snap.Status,
		&snap.ContentHash,
		&snap.CommentIDs,
		&snap.AttachmentIDs,
		&updatedAt,
		&snap.SyncedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if updatedAt != nil {
		snap.CaseUpdatedAt = *updatedAt
	}
	return &snap, nil
}

func (r *snapshotRepository) Save(ctx context.Context, snap *domain.CaseSnapshot) error {
	const query = `
        INSERT INTO case_snapshots (case_id, status, content_hash, comment_ids, attachment_ids, case_updated_at, synced_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (case_id) DO UPDATE SET
            status=EXCLUDED.status,
            content_hash=EXCLUDED.content_hash,
            comment_ids=EXCLUDED.comment_ids,
            attachment_ids=EXCLUDED.attachment_ids,
            case_updated_at=EXCLUDED.case_updated_at,
            synced_at=EXCLUDED.synced_at`
	var updatedAt *time.Time
	if !snap.CaseUpdatedAt.IsZero() {
		updatedAt = &snap.CaseUpdatedAt
	}
	commentIDs := snap.CommentIDs
	if commentIDs == nil {
		commentIDs = []string{}
	}
	attachmentIDs := snap.AttachmentIDs
	if attachmentIDs == nil {
		attachmentIDs = []string{}
	}
	if _, err := r.pool.Exec(ctx, query,
		snap.CaseID,
		snap.Status,
		snap.ContentHash,
		commentIDs,
		attachmentIDs,
		updatedAt,
		snap.SyncedAt,
	); err != nil {
		return fmt.Errorf("upsert case snapshot: %w", err)
	}
	return nil
}
