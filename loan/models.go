package loan

import "time"

// Loan mirrors the loans table columns touched by reconciliation and
// assignment. AssignedTo empty means the loan is unassigned; TracerCode is
// filled once and never overwritten.
type Loan struct {
	ID            string
	AgreementNo   string
	CustomerName  string
	Employer      string
	MaskedCompany string
	ContactNo     string
	Address       string
	Outstanding   string
	AssignedTo    string
	TracerCode    string
	AssignedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AssigneeUnassigned is the sentinel a caller passes as DefaultAssignee when
// uploaded rows without an assignee should be inserted unassigned.
const AssigneeUnassigned = "Unassigned"

// Policy controls how Reconcile treats each uploaded row.
type Policy struct {
	DefaultAssignee string
	UpdateExisting  bool
}

// SkipReason classifies why a row was not written.
type SkipReason string

const (
	SkipMissingKey      SkipReason = "missing-key"
	SkipDuplicateInFile SkipReason = "duplicate-in-file"
	SkipAlreadyExists   SkipReason = "already-exists"
	SkipRowError        SkipReason = "row-error"
)

// Skip records one skipped row with its reason.
type Skip struct {
	AgreementNo string
	Reason      SkipReason
	Detail      string
}

// Report summarizes one reconciliation batch. Callers always receive counts
// and per-row skip reasons, never a bare success flag.
type Report struct {
	BatchID  string
	Inserted int
	Updated  int
	Skips    []Skip
}

// Skipped returns the number of rows that were not written.
func (r Report) Skipped() int {
	return len(r.Skips)
}
