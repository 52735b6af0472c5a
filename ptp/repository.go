package ptp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("ptp: not found")
	// ErrForbidden signals the loan is not agent-assigned to the caller.
	ErrForbidden = errors.New("ptp: loan not assigned to agent")
	ErrBadStatus = errors.New("ptp: invalid status transition")
)

const promiseColumns = `id, agreement_no, agent_name, amount, due_date, status, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts an open promise. The SELECT guard restricts recording to
// the agent currently holding the loan's agent assignment.
func (r *Repository) Record(ctx context.Context, agreementNo, agentName string, amount float64, dueDate time.Time) (Promise, error) {
	if amount <= 0 {
		return Promise{}, fmt.Errorf("ptp: amount must be positive")
	}

	query := fmt.Sprintf(`
		INSERT INTO promises (agreement_no, agent_name, amount, due_date)
		SELECT $1, $2, $3, $4
		FROM agent_assignments aa
		WHERE aa.agreement_no = $1 AND aa.agent_name = $2
		RETURNING %s
	`, promiseColumns)

	p, err := scanPromise(r.pool.QueryRow(ctx, query, agreementNo, agentName, amount, dueDate))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Promise{}, ErrForbidden
		}
		return Promise{}, fmt.Errorf("ptp: record: %w", err)
	}
	return p, nil
}

// List returns the promises recorded against one loan, newest first.
func (r *Repository) List(ctx context.Context, agreementNo string) ([]Promise, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM promises
		WHERE agreement_no = $1
		ORDER BY created_at DESC
	`, promiseColumns)

	rows, err := r.pool.Query(ctx, query, agreementNo)
	if err != nil {
		return nil, fmt.Errorf("ptp: list: %w", err)
	}
	defer rows.Close()

	out := make([]Promise, 0, 8)
	for rows.Next() {
		p, err := scanPromise(rows)
		if err != nil {
			return nil, fmt.Errorf("ptp: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ptp: iterate: %w", err)
	}
	return out, nil
}

// Settle closes an open promise as kept or broken.
func (r *Repository) Settle(ctx context.Context, promiseID string, status Status) (Promise, error) {
	if status != StatusKept && status != StatusBroken {
		return Promise{}, ErrBadStatus
	}

	query := fmt.Sprintf(`
		UPDATE promises
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING %s
	`, promiseColumns)

	p, err := scanPromise(r.pool.QueryRow(ctx, query, promiseID, status))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Promise{}, fmt.Errorf("ptp: settle: %w", err)
	}

	var current Status
	if err := r.pool.QueryRow(ctx, `SELECT status FROM promises WHERE id = $1`, promiseID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Promise{}, ErrNotFound
		}
		return Promise{}, fmt.Errorf("ptp: settle fetch: %w", err)
	}
	return Promise{}, ErrBadStatus
}

func scanPromise(row pgx.Row) (Promise, error) {
	var p Promise
	err := row.Scan(
		&p.ID,
		&p.AgreementNo,
		&p.AgentName,
		&p.Amount,
		&p.DueDate,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Promise{}, err
	}
	return p, nil
}
