package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_unique_agreement_no",
			SQL: `SELECT agreement_no, COUNT(*) FROM loans
                  GROUP BY agreement_no HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_no_empty_agreement_no",
			SQL:  `SELECT id FROM loans WHERE agreement_no = ''`,
		},
		{
			Name: "O3_tracer_assignment_has_code",
			SQL: `SELECT agreement_no, assigned_to FROM loans
                  WHERE assigned_to NOT IN ('', 'Unassigned') AND tracer_code = ''`,
		},
		{
			Name: "O4_tracer_assignment_has_timestamp",
			SQL: `SELECT agreement_no FROM loans
                  WHERE assigned_to NOT IN ('', 'Unassigned') AND assigned_at IS NULL`,
		},
		{
			Name: "O5_single_agent_per_loan",
			SQL: `SELECT agreement_no, COUNT(*) FROM agent_assignments
                  GROUP BY agreement_no HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_agent_assignment_references_loan",
			SQL: `SELECT aa.agreement_no FROM agent_assignments aa
                  LEFT JOIN loans l ON l.agreement_no = aa.agreement_no
                  WHERE l.agreement_no IS NULL`,
		},
		{
			Name: "O7_promise_backed_by_assignment",
			SQL: `SELECT p.id FROM promises p
                  LEFT JOIN agent_assignments aa
                    ON aa.agreement_no = p.agreement_no AND aa.agent_name = p.agent_name
                  WHERE aa.agreement_no IS NULL`,
		},
		{
			Name: "O8_cursor_non_negative",
			SQL: `SELECT key, value FROM app_settings
                  WHERE key LIKE 'rr_offset_%' AND value ~ '^-'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
