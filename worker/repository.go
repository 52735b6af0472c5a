package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the worker does not exist.
	ErrNotFound = errors.New("worker: not found")
	// ErrDuplicateUsername signals that the username is already registered.
	ErrDuplicateUsername = errors.New("worker: username already exists")
)

// Repository handles data access for worker accounts.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (Worker, error)
	GetByUsername(ctx context.Context, username string) (Worker, error)
	GetByID(ctx context.Context, id string) (Worker, error)
	Approve(ctx context.Context, id string) (Worker, error)
	ListEligible(ctx context.Context, role Role) ([]string, error)
}

// CreateParams contains write parameters for creating workers.
type CreateParams struct {
	Username     string
	FullName     string
	PasswordHash string
	Role         Role
}

const workerColumns = `id, username, full_name, password_hash, role, approved, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a new, not-yet-approved worker account.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (Worker, error) {
	insertSQL := fmt.Sprintf(`
		INSERT INTO workers (username, full_name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING %s
	`, workerColumns)

	w, err := scanWorker(r.pool.QueryRow(ctx, insertSQL, params.Username, params.FullName, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Worker{}, ErrDuplicateUsername
		}
		return Worker{}, fmt.Errorf("worker: create: %w", err)
	}
	return w, nil
}

// GetByUsername retrieves a worker by username.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (Worker, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM workers WHERE username = $1`, workerColumns)

	w, err := scanWorker(r.pool.QueryRow(ctx, selectSQL, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Worker{}, ErrNotFound
		}
		return Worker{}, fmt.Errorf("worker: get by username: %w", err)
	}
	return w, nil
}

// GetByID retrieves a worker by ID.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Worker, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM workers WHERE id = $1`, workerColumns)

	w, err := scanWorker(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Worker{}, ErrNotFound
		}
		return Worker{}, fmt.Errorf("worker: get by id: %w", err)
	}
	return w, nil
}

// Approve marks an account eligible for assignment pools.
func (r *PGRepository) Approve(ctx context.Context, id string) (Worker, error) {
	updateSQL := fmt.Sprintf(`
		UPDATE workers
		SET approved = true, updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, workerColumns)

	w, err := scanWorker(r.pool.QueryRow(ctx, updateSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Worker{}, ErrNotFound
		}
		return Worker{}, fmt.Errorf("worker: approve: %w", err)
	}
	return w, nil
}

// ListEligible returns the usernames of approved workers holding the role,
// ordered by username. The stable order keeps repeated round-robin runs over
// the same pool reproducible.
func (r *PGRepository) ListEligible(ctx context.Context, role Role) ([]string, error) {
	const query = `
		SELECT username
		FROM workers
		WHERE role = $1 AND approved
		ORDER BY username ASC
	`

	rows, err := r.pool.Query(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("worker: list eligible: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0, 16)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("worker: scan eligible: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("worker: iterate eligible: %w", err)
	}
	return names, nil
}

func scanWorker(row pgx.Row) (Worker, error) {
	var w Worker
	err := row.Scan(
		&w.ID,
		&w.Username,
		&w.FullName,
		&w.PasswordHash,
		&w.Role,
		&w.Approved,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return Worker{}, err
	}
	return w, nil
}
