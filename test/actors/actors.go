package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"caseflow/assign"
	"caseflow/ingest"
	"caseflow/loan"
	"caseflow/ptp"
)

// Uploader reconciles small random portfolio batches drawn from a bounded
// agreement-number space, so re-uploads collide with earlier batches and
// exercise the skip and blank-fill paths.
func Uploader(ctx context.Context, pool *pgxpool.Pool, prefix string, stop <-chan struct{}) error {
	reconciler := loan.NewReconciler(pool, nil)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		batch := make([]ingest.Row, 0, 5)
		for i := 0; i < 5; i++ {
			n := rand.Intn(200)
			batch = append(batch, ingest.Row{
				AgreementNo:  fmt.Sprintf("%s-%04d", prefix, n),
				CustomerName: fmt.Sprintf("Customer %d", n),
				Outstanding:  fmt.Sprintf("%d.50", 100+rand.Intn(5000)),
			})
		}
		_, _ = reconciler.Reconcile(ctx, batch, loan.Policy{UpdateExisting: true})
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// TracerAssigner repeatedly distributes the current unassigned selection over
// the tracer pool, resuming from the stored cursor. Claims lost to concurrent
// assigners surface as refusals, not errors.
func TracerAssigner(ctx context.Context, pool *pgxpool.Pool, tracers []string, stop <-chan struct{}) error {
	svc := assign.NewService(pool, assign.NewPGRepository(pool))
	directory := loan.NewDirectory(pool)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		loans, err := directory.Unassigned(ctx, loan.Filters{})
		if err == nil && len(loans) > 0 {
			agreementNos := make([]string, 0, len(loans))
			for _, l := range loans {
				agreementNos = append(agreementNos, l.AgreementNo)
			}
			offset, err := svc.LoadOffset(ctx, assign.ModeTracer)
			if err == nil {
				_, _ = svc.Assign(ctx, assign.Params{
					Mode:         assign.ModeTracer,
					AgreementNos: agreementNos,
					Workers:      tracers,
					Options: assign.Options{
						Limit:          10,
						StartOffset:    offset,
						RememberOffset: true,
					},
				})
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// AgentAssigner distributes known loans over the agent pool. The unique
// association key makes duplicate claims no-ops.
func AgentAssigner(ctx context.Context, pool *pgxpool.Pool, agents []string, stop <-chan struct{}) error {
	svc := assign.NewService(pool, assign.NewPGRepository(pool))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		agreementNos := listAgreements(ctx, pool, 30)
		if len(agreementNos) > 0 {
			_, _ = svc.Assign(ctx, assign.Params{
				Mode:         assign.ModeAgent,
				AgreementNos: agreementNos,
				Workers:      agents,
				Options:      assign.Options{Shuffle: true},
			})
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// PromiseRecorder records promises against the agent's own assignments and
// settles open ones, exercising the assignment guard and status transitions.
func PromiseRecorder(ctx context.Context, pool *pgxpool.Pool, agent string, stop <-chan struct{}) error {
	svc := ptp.NewService(ptp.NewRepository(pool))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var agreementNo string
		err := pool.QueryRow(ctx,
			`SELECT agreement_no FROM agent_assignments WHERE agent_name = $1 ORDER BY random() LIMIT 1`,
			agent).Scan(&agreementNo)
		if err == nil {
			due := time.Now().AddDate(0, 0, 7+rand.Intn(21))
			p, err := svc.Record(ctx, agreementNo, agent, float64(100+rand.Intn(900)), due)
			if err == nil && rand.Intn(2) == 0 {
				status := ptp.StatusKept
				if rand.Intn(2) == 0 {
					status = ptp.StatusBroken
				}
				_, _ = svc.Settle(ctx, p.ID, status)
			}
		}
		time.Sleep(time.Duration(80+rand.Intn(120)) * time.Millisecond)
	}
}

func listAgreements(ctx context.Context, pool *pgxpool.Pool, limit int) []string {
	rows, err := pool.Query(ctx, `SELECT agreement_no FROM loans ORDER BY random() LIMIT $1`, limit)
	if err != nil {
		return nil
	}
	defer rows.Close()

	out := make([]string, 0, limit)
	for rows.Next() {
		var no string
		if rows.Scan(&no) == nil {
			out = append(out, no)
		}
	}
	return out
}
