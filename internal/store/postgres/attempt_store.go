package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/karb/internal/domain"
)

// AttemptStore implements domain.AttemptStore using PostgreSQL.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates an AttemptStore backed by the given pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Create inserts an attempt and both of its legs in one transaction.
func (s *AttemptStore) Create(ctx context.Context, a domain.Attempt) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO attempts (id, opportunity_id, market_id, reservation_id, state, outcome, profit_ticks, started_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.OpportunityID, a.MarketID, a.ReservationID,
		string(a.State), string(a.Outcome), a.ProfitTicks, a.StartedAt, a.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert attempt: %w", err)
	}

	for _, leg := range []domain.AttemptLeg{a.Yes, a.No} {
		if err := insertLeg(ctx, tx, a.ID, leg); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func insertLeg(ctx context.Context, tx pgx.Tx, attemptID string, leg domain.AttemptLeg) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO attempt_legs (attempt_id, outcome, token_id, order_id, price_ticks, size_units, filled_size_units, filled_price_ticks, status, chase_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attemptID, leg.Outcome, leg.TokenID, leg.OrderID,
		leg.PriceTicks, leg.SizeUnits, leg.FilledSizeUnits, leg.FilledPriceTicks,
		string(leg.Status), leg.ChaseOrderID,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert attempt leg: %w", err)
	}
	return nil
}

// Update rewrites an attempt and replaces its legs. The coordinator owns the
// attempt exclusively, so last-write-wins is safe here.
func (s *AttemptStore) Update(ctx context.Context, a domain.Attempt) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE attempts
		SET state = $2, outcome = $3, profit_ticks = $4, resolved_at = $5
		WHERE id = $1`,
		a.ID, string(a.State), string(a.Outcome), a.ProfitTicks, a.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update attempt %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM attempt_legs WHERE attempt_id = $1`, a.ID); err != nil {
		return fmt.Errorf("postgres: clear attempt legs %s: %w", a.ID, err)
	}
	for _, leg := range []domain.AttemptLeg{a.Yes, a.No} {
		if err := insertLeg(ctx, tx, a.ID, leg); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns an attempt with both legs.
func (s *AttemptStore) GetByID(ctx context.Context, id string) (domain.Attempt, error) {
	var a domain.Attempt
	var state, outcome string
	err := s.pool.QueryRow(ctx, `
		SELECT id, opportunity_id, market_id, reservation_id, state, outcome, profit_ticks, started_at, resolved_at
		FROM attempts WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.OpportunityID, &a.MarketID, &a.ReservationID,
		&state, &outcome, &a.ProfitTicks, &a.StartedAt, &a.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Attempt{}, domain.ErrNotFound
		}
		return domain.Attempt{}, fmt.Errorf("postgres: get attempt %s: %w", id, err)
	}
	a.State = domain.AttemptState(state)
	a.Outcome = domain.AttemptOutcome(outcome)

	if err := s.loadLegs(ctx, &a); err != nil {
		return domain.Attempt{}, err
	}
	return a, nil
}

func (s *AttemptStore) loadLegs(ctx context.Context, a *domain.Attempt) error {
	rows, err := s.pool.Query(ctx, `
		SELECT outcome, token_id, order_id, price_ticks, size_units, filled_size_units, filled_price_ticks, status, chase_order_id
		FROM attempt_legs WHERE attempt_id = $1 ORDER BY id`,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: get attempt legs %s: %w", a.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var leg domain.AttemptLeg
		var status string
		if err := rows.Scan(&leg.Outcome, &leg.TokenID, &leg.OrderID,
			&leg.PriceTicks, &leg.SizeUnits, &leg.FilledSizeUnits, &leg.FilledPriceTicks,
			&status, &leg.ChaseOrderID); err != nil {
			return fmt.Errorf("postgres: scan attempt leg: %w", err)
		}
		leg.Status = domain.OrderStatus(status)
		*a.Leg(leg.Outcome) = leg
	}
	return rows.Err()
}

// ListRecent returns the most recently started attempts with their legs.
func (s *AttemptStore) ListRecent(ctx context.Context, limit int) ([]domain.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx, `
		SELECT id, opportunity_id, market_id, reservation_id, state, outcome, profit_ticks, started_at, resolved_at
		FROM attempts ORDER BY started_at DESC LIMIT $1`, limit)
}

// ListResolvedBefore returns resolved attempts older than the cutoff, for
// archival.
func (s *AttemptStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Attempt, error) {
	return s.list(ctx, `
		SELECT id, opportunity_id, market_id, reservation_id, state, outcome, profit_ticks, started_at, resolved_at
		FROM attempts WHERE resolved_at IS NOT NULL AND resolved_at < $1
		ORDER BY resolved_at`, before)
}

func (s *AttemptStore) list(ctx context.Context, query string, arg any) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts: %w", err)
	}
	defer rows.Close()

	var list []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var state, outcome string
		if err := rows.Scan(&a.ID, &a.OpportunityID, &a.MarketID, &a.ReservationID,
			&state, &outcome, &a.ProfitTicks, &a.StartedAt, &a.ResolvedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		a.State = domain.AttemptState(state)
		a.Outcome = domain.AttemptOutcome(outcome)
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range list {
		if err := s.loadLegs(ctx, &list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Compile-time interface check.
var _ domain.AttemptStore = (*AttemptStore)(nil)
