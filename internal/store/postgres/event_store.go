package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The event log is
// append-only.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Insert appends one event to the log.
func (s *EventStore) Insert(ctx context.Context, e domain.Event) error {
	const query = `
		INSERT INTO agreement_events (
			id, agreement_id, protocol, kind, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.AgreementID, string(e.Protocol), e.Kind, e.Payload, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", e.ID, err)
	}
	return nil
}

const eventCols = `id, agreement_id, protocol, kind, payload, created_at`

// ListByAgreement returns an agreement's events in insertion order.
func (s *EventStore) ListByAgreement(ctx context.Context, agreementID string, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventCols + ` FROM agreement_events WHERE agreement_id = $1 ORDER BY created_at ASC`
	args := []any{agreementID}

	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET $3"
			args = append(args, opts.Offset)
		}
	}

	return s.query(ctx, query, args...)
}

// ListRecent returns the newest events across all agreements.
func (s *EventStore) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx,
		`SELECT `+eventCols+` FROM agreement_events ORDER BY created_at DESC LIMIT $1`,
		limit)
}

func (s *EventStore) query(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var protocol string
		if err := rows.Scan(
			&e.ID, &e.AgreementID, &protocol, &e.Kind, &e.Payload, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Protocol = domain.Protocol(protocol)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
