package ptp

import "time"

// Status represents the lifecycle of a promise-to-pay.
type Status string

const (
	StatusOpen   Status = "open"
	StatusKept   Status = "kept"
	StatusBroken Status = "broken"
)

// Promise mirrors the promises table: an agent-recorded commitment by the
// debtor to pay an amount by a date.
type Promise struct {
	ID          string
	AgreementNo string
	AgentName   string
	Amount      float64
	DueDate     time.Time
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
