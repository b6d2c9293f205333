package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// AgreementStore implements domain.AgreementStore using PostgreSQL.
type AgreementStore struct {
	pool *pgxpool.Pool
}

// NewAgreementStore creates an AgreementStore backed by the given pool.
func NewAgreementStore(pool *pgxpool.Pool) *AgreementStore {
	return &AgreementStore{pool: pool}
}

// Upsert inserts or updates an agreement snapshot.
func (s *AgreementStore) Upsert(ctx context.Context, a domain.Agreement) error {
	const query = `
		INSERT INTO agreements (
			id, protocol, address, parties, status, state, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			parties    = EXCLUDED.parties,
			status     = EXCLUDED.status,
			state      = EXCLUDED.state,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		a.ID, string(a.Protocol), a.Address, a.Parties,
		string(a.Status), a.State, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert agreement %s: %w", a.ID, err)
	}
	return nil
}

const agreementCols = `id, protocol, address, parties, status, state, created_at, updated_at`

// scanAgreement scans a single agreement row.
func scanAgreement(row pgx.Row) (domain.Agreement, error) {
	var a domain.Agreement
	var protocol, status string
	err := row.Scan(
		&a.ID, &protocol, &a.Address, &a.Parties,
		&status, &a.State, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Agreement{}, err
	}
	a.Protocol = domain.Protocol(protocol)
	a.Status = domain.AgreementStatus(status)
	return a, nil
}

// GetByID retrieves an agreement by its primary key.
func (s *AgreementStore) GetByID(ctx context.Context, id string) (domain.Agreement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agreementCols+` FROM agreements WHERE id = $1`, id)
	a, err := scanAgreement(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Agreement{}, domain.ErrNotFound
		}
		return domain.Agreement{}, fmt.Errorf("postgres: get agreement %s: %w", id, err)
	}
	return a, nil
}

// List returns agreements ordered by creation time, newest first.
func (s *AgreementStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Agreement, error) {
	return s.list(ctx, `SELECT `+agreementCols+` FROM agreements`, nil, opts)
}

// ListByStatus returns agreements in the given lifecycle phase.
func (s *AgreementStore) ListByStatus(ctx context.Context, status domain.AgreementStatus, opts domain.ListOpts) ([]domain.Agreement, error) {
	return s.list(ctx,
		`SELECT `+agreementCols+` FROM agreements WHERE status = $1`,
		[]any{string(status)}, opts)
}

// ListByProtocol returns agreements of one protocol family.
func (s *AgreementStore) ListByProtocol(ctx context.Context, p domain.Protocol, opts domain.ListOpts) ([]domain.Agreement, error) {
	return s.list(ctx,
		`SELECT `+agreementCols+` FROM agreements WHERE protocol = $1`,
		[]any{string(p)}, opts)
}

func (s *AgreementStore) list(ctx context.Context, query string, args []any, opts domain.ListOpts) ([]domain.Agreement, error) {
	argIdx := len(args) + 1
	joiner := " WHERE"
	if len(args) > 0 {
		joiner = " AND"
	}

	if opts.Since != nil {
		query += fmt.Sprintf("%s created_at >= $%d", joiner, argIdx)
		args = append(args, *opts.Since)
		argIdx++
		joiner = " AND"
	}
	if opts.Until != nil {
		query += fmt.Sprintf("%s created_at <= $%d", joiner, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agreements: %w", err)
	}
	defer rows.Close()

	var agreements []domain.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agreement: %w", err)
		}
		agreements = append(agreements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list agreements rows: %w", err)
	}
	return agreements, nil
}

// Count returns the total number of agreements.
func (s *AgreementStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM agreements").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count agreements: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.AgreementStore = (*AgreementStore)(nil)
