package company

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals no mapping exists for the masked name.
var ErrNotFound = errors.New("company: not found")

// Repository provides access to the masked-company dictionary.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts or replaces a mapping. Last write wins on conflict; there is
// no versioning.
func (r *Repository) Upsert(ctx context.Context, maskedName, canonicalName, notes string) (Mapping, error) {
	if maskedName == "" {
		return Mapping{}, fmt.Errorf("company: masked name required")
	}
	if canonicalName == "" {
		return Mapping{}, fmt.Errorf("company: canonical name required")
	}

	const upsertSQL = `
INSERT INTO masked_companies (masked_name, canonical_name, notes, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (masked_name) DO UPDATE
SET canonical_name = EXCLUDED.canonical_name,
    notes          = EXCLUDED.notes,
    updated_at     = now()
RETURNING masked_name, canonical_name, notes, updated_at
`
	var m Mapping
	err := r.pool.QueryRow(ctx, upsertSQL, maskedName, canonicalName, notes).
		Scan(&m.MaskedName, &m.CanonicalName, &m.Notes, &m.UpdatedAt)
	if err != nil {
		return Mapping{}, fmt.Errorf("company: upsert %s: %w", maskedName, err)
	}
	return m, nil
}

// Resolve returns the canonical company name for a masked name.
func (r *Repository) Resolve(ctx context.Context, maskedName string) (string, error) {
	var canonical string
	err := r.pool.QueryRow(ctx,
		`SELECT canonical_name FROM masked_companies WHERE masked_name = $1`, maskedName).
		Scan(&canonical)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("company: resolve %s: %w", maskedName, err)
	}
	return canonical, nil
}

// List returns the whole dictionary ordered by masked name, for the tracer
// detail editor.
func (r *Repository) List(ctx context.Context) ([]Mapping, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT masked_name, canonical_name, notes, updated_at FROM masked_companies ORDER BY masked_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("company: list: %w", err)
	}
	defer rows.Close()

	out := make([]Mapping, 0, 32)
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.MaskedName, &m.CanonicalName, &m.Notes, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("company: scan mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("company: iterate mappings: %w", err)
	}
	return out, nil
}
