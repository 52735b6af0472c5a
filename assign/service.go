package assign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"caseflow/loan"
)

// Mode selects which side of the workflow a run distributes for. Tracer
// assignment lives on the loan row; agent assignment is a separate
// association so a loan can hold both concurrently.
type Mode string

const (
	ModeTracer Mode = "tracer"
	ModeAgent  Mode = "agent"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the write path for one assignment batch plus the persisted
// round-robin cursor.
type Repository interface {
	// AssignTracer claims a loan for a tracer. It reports false when the loan
	// already carries an assignment, which the service treats as a recovered
	// per-loan conflict.
	AssignTracer(ctx context.Context, tx pgx.Tx, agreementNo, worker, tracerCode string) (bool, error)
	// AssignAgent claims a loan for an agent under the one-active-agent
	// unique key, reporting false on conflict.
	AssignAgent(ctx context.Context, tx pgx.Tx, agreementNo, agent string) (bool, error)
	GetOffset(ctx context.Context, key string) (int, error)
	SetOffset(ctx context.Context, tx pgx.Tx, key string, value int) error
	ResetOffset(ctx context.Context, key string) error
}

// Params describes one distribution request. AgreementNos must already be
// filtered to currently-unassigned loans; the write path still refuses any
// loan that gained an assignment in the meantime.
type Params struct {
	Mode         Mode
	AgreementNos []string
	Workers      []string
	Options      Options
}

// Result reports what one run actually did.
type Result struct {
	RunID      string
	Assigned   int
	Refused    int
	PerWorker  map[string]int
	NextOffset int
}

// Service applies round-robin plans as single atomic batches.
type Service struct {
	pool TxBeginner
	repo Repository
	now  func() time.Time
	log  *logrus.Entry
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool: pool,
		repo: repo,
		now:  time.Now,
		log:  logrus.WithField("component", "assign"),
	}
}

// Assign distributes the given loans across the worker ring. All writes land
// in one transaction: a storage failure rolls the whole batch back, while a
// per-loan conflict only refuses that loan.
func (s *Service) Assign(ctx context.Context, params Params) (Result, error) {
	slots, offset, err := Plan(params.AgreementNos, params.Workers, params.Options)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		RunID:     uuid.NewString(),
		PerWorker: make(map[string]int, len(params.Workers)),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("assign: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	day := s.now()
	for _, slot := range slots {
		var claimed bool
		switch params.Mode {
		case ModeAgent:
			claimed, err = s.repo.AssignAgent(ctx, tx, slot.AgreementNo, slot.Worker)
		default:
			claimed, err = s.repo.AssignTracer(ctx, tx, slot.AgreementNo, slot.Worker, loan.TracerCode(slot.Worker, day))
		}
		if err != nil {
			return Result{}, fmt.Errorf("assign: run %s: %w", result.RunID, err)
		}
		if !claimed {
			result.Refused++
			continue
		}
		result.Assigned++
		result.PerWorker[slot.Worker]++
	}

	result.NextOffset = NextOffset(offset, result.Assigned, len(params.Workers))
	if params.Options.RememberOffset {
		if err := s.repo.SetOffset(ctx, tx, cursorKey(params.Mode), result.NextOffset); err != nil {
			return Result{}, fmt.Errorf("assign: persist cursor: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("assign: commit run %s: %w", result.RunID, err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id":   result.RunID,
		"mode":     params.Mode,
		"assigned": result.Assigned,
		"refused":  result.Refused,
		"workers":  len(params.Workers),
	}).Info("assignment run applied")

	return result, nil
}

// LoadOffset reads the persisted cursor for a mode so callers can thread it
// into Options.StartOffset explicitly.
func (s *Service) LoadOffset(ctx context.Context, mode Mode) (int, error) {
	return s.repo.GetOffset(ctx, cursorKey(mode))
}

// ResetOffset zeroes the persisted cursor. Admin action only.
func (s *Service) ResetOffset(ctx context.Context, mode Mode) error {
	return s.repo.ResetOffset(ctx, cursorKey(mode))
}

func cursorKey(mode Mode) string {
	if mode == ModeAgent {
		return "rr_offset_agent"
	}
	return "rr_offset_tracer"
}
