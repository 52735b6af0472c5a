package loan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"caseflow/ingest"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ReconcileRepository defines the data access the reconciler needs inside its
// transaction.
type ReconcileRepository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, agreementNo string) (Loan, error)
	Insert(ctx context.Context, tx pgx.Tx, l Loan) error
	FillBlanks(ctx context.Context, tx pgx.Tx, l Loan) error
}

// Reconciler merges uploaded portfolio rows into the loan store. The whole
// batch runs in one transaction: per-row problems skip that row and continue,
// storage failures roll everything back.
type Reconciler struct {
	pool TxBeginner
	repo ReconcileRepository
	now  func() time.Time
	log  *logrus.Entry
}

func NewReconciler(pool TxBeginner, repo ReconcileRepository) *Reconciler {
	if repo == nil {
		repo = NewRepository()
	}
	return &Reconciler{
		pool: pool,
		repo: repo,
		now:  time.Now,
		log:  logrus.WithField("component", "reconciler"),
	}
}

type rowOutcome int

const (
	outcomeInserted rowOutcome = iota
	outcomeUpdated
	outcomeSkipped
)

// Reconcile applies one uploaded batch against the store.
func (rc *Reconciler) Reconcile(ctx context.Context, rows []ingest.Row, policy Policy) (Report, error) {
	report := Report{BatchID: uuid.NewString()}

	tx, err := rc.pool.Begin(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("loan: begin reconcile tx: %w", err)
	}
	defer tx.Rollback(ctx)

	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		outcome, skip, err := rc.reconcileRow(ctx, tx, row, policy, seen)
		if err != nil {
			return Report{}, fmt.Errorf("loan: reconcile batch %s: %w", report.BatchID, err)
		}
		switch outcome {
		case outcomeInserted:
			report.Inserted++
		case outcomeUpdated:
			report.Updated++
		case outcomeSkipped:
			report.Skips = append(report.Skips, skip)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Report{}, fmt.Errorf("loan: commit reconcile tx: %w", err)
	}

	rc.log.WithFields(logrus.Fields{
		"batch_id": report.BatchID,
		"inserted": report.Inserted,
		"updated":  report.Updated,
		"skipped":  report.Skipped(),
	}).Info("reconcile batch applied")

	return report, nil
}

// reconcileRow decides the fate of one row. A returned Skip is a local,
// recovered condition; a returned error is a storage failure that aborts the
// batch.
func (rc *Reconciler) reconcileRow(ctx context.Context, tx pgx.Tx, row ingest.Row, policy Policy, seen map[string]struct{}) (rowOutcome, Skip, error) {
	agreementNo := strings.TrimSpace(row.AgreementNo)
	if agreementNo == "" {
		return outcomeSkipped, Skip{Reason: SkipMissingKey}, nil
	}

	if _, dup := seen[agreementNo]; dup {
		return outcomeSkipped, Skip{AgreementNo: agreementNo, Reason: SkipDuplicateInFile}, nil
	}
	seen[agreementNo] = struct{}{}

	if reason, ok := validateRow(row); !ok {
		return outcomeSkipped, Skip{AgreementNo: agreementNo, Reason: SkipRowError, Detail: reason}, nil
	}

	assignee := strings.TrimSpace(row.AssignedTo)
	if assignee == "" {
		assignee = strings.TrimSpace(policy.DefaultAssignee)
	}
	if assignee == AssigneeUnassigned {
		assignee = ""
	}

	existing, err := rc.repo.GetForUpdate(ctx, tx, agreementNo)
	switch {
	case errors.Is(err, ErrNotFound):
		code := strings.TrimSpace(row.TracerCode)
		if code == "" {
			code = TracerCode(assignee, rc.now())
		}
		insert := Loan{
			AgreementNo:   agreementNo,
			CustomerName:  row.CustomerName,
			Employer:      row.Employer,
			MaskedCompany: row.MaskedCompany,
			ContactNo:     row.ContactNo,
			Address:       row.Address,
			Outstanding:   row.Outstanding,
			AssignedTo:    assignee,
			TracerCode:    code,
		}
		if err := rc.repo.Insert(ctx, tx, insert); err != nil {
			return 0, Skip{}, err
		}
		return outcomeInserted, Skip{}, nil

	case err != nil:
		return 0, Skip{}, err
	}

	if !policy.UpdateExisting {
		return outcomeSkipped, Skip{AgreementNo: agreementNo, Reason: SkipAlreadyExists}, nil
	}

	update := fillBlanks(existing, row)
	if update.TracerCode == "" {
		if code := strings.TrimSpace(row.TracerCode); code != "" {
			update.TracerCode = code
		} else {
			update.TracerCode = TracerCode(assignee, rc.now())
		}
	}
	if err := rc.repo.FillBlanks(ctx, tx, update); err != nil {
		return 0, Skip{}, err
	}
	return outcomeUpdated, Skip{}, nil
}

// fillBlanks coalesces incoming values into blank descriptive fields only.
// AssignedTo is deliberately untouched: assignment is a separate operation.
func fillBlanks(existing Loan, row ingest.Row) Loan {
	out := existing
	if out.CustomerName == "" {
		out.CustomerName = row.CustomerName
	}
	if out.Employer == "" {
		out.Employer = row.Employer
	}
	if out.MaskedCompany == "" {
		out.MaskedCompany = row.MaskedCompany
	}
	if out.ContactNo == "" {
		out.ContactNo = row.ContactNo
	}
	if out.Address == "" {
		out.Address = row.Address
	}
	if out.Outstanding == "" {
		out.Outstanding = row.Outstanding
	}
	return out
}

// validateRow rejects cells that would corrupt the store. Today that is a
// non-numeric outstanding balance; the check runs before any write so the
// row is skipped, not the batch.
func validateRow(row ingest.Row) (string, bool) {
	if row.Outstanding == "" {
		return "", true
	}
	cleaned := strings.ReplaceAll(row.Outstanding, ",", "")
	if _, err := strconv.ParseFloat(cleaned, 64); err != nil {
		return fmt.Sprintf("outstanding %q is not numeric", row.Outstanding), false
	}
	return "", true
}
