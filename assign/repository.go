package assign

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository backed by PostgreSQL. Batch writes run
// on the caller's transaction; cursor boundary reads use the pool.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// AssignTracer claims an unassigned loan for a tracer. The guard on
// assigned_to makes concurrent runs over overlapping loan sets safe: the
// second writer affects zero rows and the loan is refused, not overwritten.
func (r *PGRepository) AssignTracer(ctx context.Context, tx pgx.Tx, agreementNo, worker, tracerCode string) (bool, error) {
	const updateSQL = `
UPDATE loans
SET assigned_to = $2,
    tracer_code = COALESCE(NULLIF(tracer_code, ''), $3),
    assigned_at = now(),
    updated_at  = now()
WHERE agreement_no = $1
  AND assigned_to = ''
`
	tag, err := tx.Exec(ctx, updateSQL, agreementNo, worker, tracerCode)
	if err != nil {
		return false, fmt.Errorf("assign: claim loan %s for tracer: %w", agreementNo, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AssignAgent claims a loan for an agent. The unique key on agreement_no
// turns a concurrent duplicate claim into a zero-row insert.
func (r *PGRepository) AssignAgent(ctx context.Context, tx pgx.Tx, agreementNo, agent string) (bool, error) {
	const insertSQL = `
INSERT INTO agent_assignments (agreement_no, agent_name)
VALUES ($1, $2)
ON CONFLICT (agreement_no) DO NOTHING
`
	tag, err := tx.Exec(ctx, insertSQL, agreementNo, agent)
	if err != nil {
		return false, fmt.Errorf("assign: claim loan %s for agent: %w", agreementNo, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetOffset reads the persisted round-robin cursor; a missing key reads as 0.
func (r *PGRepository) GetOffset(ctx context.Context, key string) (int, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT value FROM app_settings WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("assign: read cursor %s: %w", key, err)
	}

	offset, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("assign: cursor %s holds %q: %w", key, raw, err)
	}
	return offset, nil
}

// SetOffset upserts the cursor inside the batch transaction so the rotation
// state commits atomically with the assignments it describes.
func (r *PGRepository) SetOffset(ctx context.Context, tx pgx.Tx, key string, value int) error {
	const upsertSQL = `
INSERT INTO app_settings (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
`
	if _, err := tx.Exec(ctx, upsertSQL, key, strconv.Itoa(value)); err != nil {
		return fmt.Errorf("assign: write cursor %s: %w", key, err)
	}
	return nil
}

// ResetOffset zeroes the cursor outside any batch.
func (r *PGRepository) ResetOffset(ctx context.Context, key string) error {
	const upsertSQL = `
INSERT INTO app_settings (key, value)
VALUES ($1, '0')
ON CONFLICT (key) DO UPDATE SET value = '0'
`
	if _, err := r.pool.Exec(ctx, upsertSQL, key); err != nil {
		return fmt.Errorf("assign: reset cursor %s: %w", key, err)
	}
	return nil
}
