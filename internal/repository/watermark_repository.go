package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type watermarkRepository struct {
	pool *pgxpool.Pool
}

// NewWatermarkRepository instantiates the Postgres repository.
func NewWatermarkRepository(pool *pgxpool.Pool) WatermarkRepository {
	return &watermarkRepository{pool: pool}
}

func (r *watermarkRepository) GetWatermark(ctx context.Context, poller string) (time.Time, error) {
	const query = `SELECT watermark FROM poller_watermarks WHERE poller=$1`
	var at time.Time
	if err := r.pool.QueryRow(ctx, query, poller).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	return at, nil
}

func (r *watermarkRepository) SaveWatermark(ctx context.Context, poller string, at time.Time) error {
	const query = `
        INSERT INTO poller_watermarks (poller, watermark, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (poller) DO UPDATE SET
            watermark=EXCLUDED.watermark,
            updated_at=EXCLUDED.updated_at`
	if _, err := r.pool.Exec(ctx, query, poller, at.UTC()); err != nil {
		return fmt.Errorf("upsert poller watermark: %w", err)
	}
	return nil
}
