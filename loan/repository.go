package loan

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no loan row exists for the agreement number.
	ErrNotFound = errors.New("loan: not found")
	// ErrDuplicateAgreement signals the agreement number already exists.
	ErrDuplicateAgreement = errors.New("loan: duplicate agreement number")
)

const loanColumns = `id, agreement_no, customer_name, employer, masked_company, contact_no,
       address, outstanding, assigned_to, tracer_code, assigned_at, created_at, updated_at`

// Repository holds the transactional write path used by the reconciler. It is
// stateless; every method operates on the caller's transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// GetForUpdate locks and returns the loan row for an agreement number.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, agreementNo string) (Loan, error) {
	query := fmt.Sprintf(`SELECT %s FROM loans WHERE agreement_no = $1 FOR UPDATE`, loanColumns)

	l, err := scanLoan(tx.QueryRow(ctx, query, agreementNo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, ErrNotFound
		}
		return Loan{}, fmt.Errorf("loan: get for update: %w", err)
	}
	return l, nil
}

// Insert writes a new loan record.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, l Loan) error {
	const insertSQL = `
INSERT INTO loans (agreement_no, customer_name, employer, masked_company, contact_no,
                   address, outstanding, assigned_to, tracer_code)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := tx.Exec(ctx, insertSQL,
		l.AgreementNo,
		l.CustomerName,
		l.Employer,
		l.MaskedCompany,
		l.ContactNo,
		l.Address,
		l.Outstanding,
		l.AssignedTo,
		l.TracerCode,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAgreement
		}
		return fmt.Errorf("loan: insert %s: %w", l.AgreementNo, err)
	}
	return nil
}

// FillBlanks persists a blank-filled update. AssignedTo is never written here;
// the SQL only touches descriptive fields plus the set-if-blank tracer code.
func (r *Repository) FillBlanks(ctx context.Context, tx pgx.Tx, l Loan) error {
	const updateSQL = `
UPDATE loans
SET customer_name  = $2,
    employer       = $3,
    masked_company = $4,
    contact_no     = $5,
    address        = $6,
    outstanding    = $7,
    tracer_code    = COALESCE(NULLIF(tracer_code, ''), $8),
    updated_at     = now()
WHERE agreement_no = $1
`
	tag, err := tx.Exec(ctx, updateSQL,
		l.AgreementNo,
		l.CustomerName,
		l.Employer,
		l.MaskedCompany,
		l.ContactNo,
		l.Address,
		l.Outstanding,
		l.TracerCode,
	)
	if err != nil {
		return fmt.Errorf("loan: fill blanks %s: %w", l.AgreementNo, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Directory serves the read side: filtered unassigned selections and single
// lookups outside any transaction.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// Unassigned returns the loans matching the filter set, ordered by agreement
// number so repeated runs see a stable sequence.
func (d *Directory) Unassigned(ctx context.Context, filters Filters) ([]Loan, error) {
	where, args := filters.SQLWhere()
	query := fmt.Sprintf(`SELECT %s FROM loans WHERE %s ORDER BY agreement_no ASC`, loanColumns, where)

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loan: list unassigned: %w", err)
	}
	defer rows.Close()

	loans := make([]Loan, 0, 64)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("loan: scan unassigned: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loan: iterate unassigned: %w", err)
	}
	return loans, nil
}

// Get fetches one loan by agreement number.
func (d *Directory) Get(ctx context.Context, agreementNo string) (Loan, error) {
	query := fmt.Sprintf(`SELECT %s FROM loans WHERE agreement_no = $1`, loanColumns)

	l, err := scanLoan(d.pool.QueryRow(ctx, query, agreementNo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, ErrNotFound
		}
		return Loan{}, fmt.Errorf("loan: get %s: %w", agreementNo, err)
	}
	return l, nil
}

func scanLoan(row pgx.Row) (Loan, error) {
	var l Loan
	err := row.Scan(
		&l.ID,
		&l.AgreementNo,
		&l.CustomerName,
		&l.Employer,
		&l.MaskedCompany,
		&l.ContactNo,
		&l.Address,
		&l.Outstanding,
		&l.AssignedTo,
		&l.TracerCode,
		&l.AssignedAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return Loan{}, err
	}
	return l, nil
}
