package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/karb/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert writes a position keyed by (market, token). Fills accumulate into
// the same row.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (market_id, token_id, outcome, size_units, cost_ticks, status, pnl_ticks, opened_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market_id, token_id) DO UPDATE
		SET size_units = EXCLUDED.size_units,
		    cost_ticks = EXCLUDED.cost_ticks,
		    status = EXCLUDED.status,
		    pnl_ticks = EXCLUDED.pnl_ticks,
		    settled_at = EXCLUDED.settled_at`,
		p.MarketID, p.TokenID, p.Outcome, p.SizeUnits, p.CostTicks,
		string(p.Status), p.PnLTicks, p.OpenedAt, p.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.MarketID, p.TokenID, err)
	}
	return nil
}

// ListOpen returns every position still awaiting settlement.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, token_id, outcome, size_units, cost_ticks, status, pnl_ticks, opened_at, settled_at
		FROM positions WHERE status = $1 ORDER BY opened_at`,
		string(domain.PositionStatusOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var list []domain.Position
	for rows.Next() {
		var p domain.Position
		var status string
		if err := rows.Scan(&p.MarketID, &p.TokenID, &p.Outcome, &p.SizeUnits,
			&p.CostTicks, &status, &p.PnLTicks, &p.OpenedAt, &p.SettledAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Status = domain.PositionStatus(status)
		list = append(list, p)
	}
	return list, rows.Err()
}

// MarkSettled records a position's settlement outcome.
func (s *PositionStore) MarkSettled(ctx context.Context, marketID, tokenID string, pnlTicks int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions
		SET status = $3, pnl_ticks = $4, settled_at = $5
		WHERE market_id = $1 AND token_id = $2`,
		marketID, tokenID, string(domain.PositionStatusSettled), pnlTicks, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: settle position %s/%s: %w", marketID, tokenID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
