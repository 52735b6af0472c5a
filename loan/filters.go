package loan

import (
	"fmt"
	"strings"
	"time"
)

// Filters narrows the unassigned-loan selection fed to the assignment engine.
// The zero value selects every unassigned loan. Each supplied field is ANDed
// onto the base "assigned_to is empty" predicate.
type Filters struct {
	TracerCode    string
	MaskedCompany string
	From          *time.Time
	To            *time.Time
}

// SQLWhere renders the predicate as a WHERE fragment with numbered
// placeholders starting at $1, leaving query-language concerns to the
// repository that embeds it.
func (f Filters) SQLWhere() (string, []any) {
	conds := []string{"assigned_to = ''"}
	args := make([]any, 0, 4)

	if f.TracerCode != "" {
		args = append(args, "%"+f.TracerCode+"%")
		conds = append(conds, fmt.Sprintf("tracer_code ILIKE $%d", len(args)))
	}
	if f.MaskedCompany != "" {
		args = append(args, "%"+f.MaskedCompany+"%")
		conds = append(conds, fmt.Sprintf("masked_company ILIKE $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("assigned_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("assigned_at <= $%d", len(args)))
	}

	return strings.Join(conds, " AND "), args
}

// Match evaluates the same predicate in memory. Test fakes use it so unit
// tests and the SQL translation cannot drift apart silently.
func (f Filters) Match(l Loan) bool {
	if l.AssignedTo != "" {
		return false
	}
	if f.TracerCode != "" && !containsFold(l.TracerCode, f.TracerCode) {
		return false
	}
	if f.MaskedCompany != "" && !containsFold(l.MaskedCompany, f.MaskedCompany) {
		return false
	}
	if f.From != nil && (l.AssignedAt == nil || l.AssignedAt.Before(*f.From)) {
		return false
	}
	if f.To != nil && (l.AssignedAt == nil || l.AssignedAt.After(*f.To)) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
