package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/karb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
// Rows are an audit trail, never read back into the live pipeline.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert records a detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, o domain.Opportunity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities (id, market_id, yes_token_id, no_token_id, yes_ask_ticks, no_ask_ticks, combined_ticks, size_units, gross_per_unit_ticks, fee_per_unit_ticks, net_per_unit_ticks, yes_seq, no_seq, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.MarketID, o.YesTokenID, o.NoTokenID,
		o.YesAskTicks, o.NoAskTicks, o.CombinedTicks, o.SizeUnits,
		o.GrossPerUnitTicks, o.FeePerUnitTicks, o.NetPerUnitTicks,
		int64(o.YesSeq), int64(o.NoSeq), o.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity: %w", err)
	}
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, yes_token_id, no_token_id, yes_ask_ticks, no_ask_ticks, combined_ticks, size_units, gross_per_unit_ticks, fee_per_unit_ticks, net_per_unit_ticks, yes_seq, no_seq, detected_at
		FROM opportunities ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	return scanOpportunities(rows)
}

// ListBefore returns opportunities detected before the cutoff, oldest first,
// for archival.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, yes_token_id, no_token_id, yes_ask_ticks, no_ask_ticks, combined_ticks, size_units, gross_per_unit_ticks, fee_per_unit_ticks, net_per_unit_ticks, yes_seq, no_seq, detected_at
		FROM opportunities WHERE detected_at < $1 ORDER BY detected_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	return scanOpportunities(rows)
}

func scanOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()
	var list []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		var yesSeq, noSeq int64
		if err := rows.Scan(&o.ID, &o.MarketID, &o.YesTokenID, &o.NoTokenID,
			&o.YesAskTicks, &o.NoAskTicks, &o.CombinedTicks, &o.SizeUnits,
			&o.GrossPerUnitTicks, &o.FeePerUnitTicks, &o.NetPerUnitTicks,
			&yesSeq, &noSeq, &o.DetectedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		o.YesSeq = uint64(yesSeq)
		o.NoSeq = uint64(noSeq)
		list = append(list, o)
	}
	return list, rows.Err()
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
