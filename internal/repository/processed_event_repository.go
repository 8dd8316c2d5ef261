package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type processedEventRepository struct {
	pool *pgxpool.Pool
}

// NewProcessedEventRepository instantiates the Postgres repository.
func NewProcessedEventRepository(pool *pgxpool.Pool) ProcessedEventRepository {
	return &processedEventRepository{pool: pool}
}

func (r *processedEventRepository) IsProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE consumer=$1 AND event_id=$2)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, consumer, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("query processed event: %w", err)
	}
	return exists, nil
}

func (r *processedEventRepository) MarkProcessed(ctx context.Context, consumer, eventID string) error {
	const query = `
        INSERT INTO processed_events (consumer, event_id, processed_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (consumer, event_id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, query, consumer, eventID); err != nil {
		return fmt.Errorf("insert processed event: %w", err)
	}
	return nil
}

// NewPostgresStore bundles the Postgres repositories.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Links:      NewTicketLinkRepository(pool),
		Snapshots:  NewSnapshotRepository(pool),
		Processed:  NewProcessedEventRepository(pool),
		Watermarks: NewWatermarkRepository(pool),
	}
}
