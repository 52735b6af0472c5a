package assign

import (
	"errors"
	"math/rand"
)

// ErrInsufficientWorkers is returned when a distribution is attempted with
// fewer than two workers. Nothing is written in that case.
var ErrInsufficientWorkers = errors.New("assign: at least two workers required")

// Options tunes one distribution run.
type Options struct {
	// Shuffle randomizes loan order before distribution.
	Shuffle bool
	// Limit caps how many loans are distributed (0 = all), applied after the
	// shuffle.
	Limit int
	// StartOffset rotates the worker ring so repeated runs can continue a
	// previous rotation instead of always starting at worker 0.
	StartOffset int
	// RememberOffset persists the follow-up offset for the next run.
	RememberOffset bool
}

// Slot pairs one loan with the worker the round-robin assigned it to.
type Slot struct {
	AgreementNo string
	Worker      string
}

// Plan computes the round-robin distribution of loanIDs over workers and
// returns the slots plus the effective starting offset. The plan is pure:
// callers apply it transactionally. Workers appearing twice in the list
// receive two ring slots; that doubles their share and matches the observed
// production behaviour.
func Plan(loanIDs, workers []string, opts Options) ([]Slot, int, error) {
	if len(workers) < 2 {
		return nil, 0, ErrInsufficientWorkers
	}

	ids := make([]string, len(loanIDs))
	copy(ids, loanIDs)

	if opts.Shuffle {
		rand.Shuffle(len(ids), func(i, j int) {
			ids[i], ids[j] = ids[j], ids[i]
		})
	}
	if opts.Limit > 0 && opts.Limit < len(ids) {
		ids = ids[:opts.Limit]
	}

	offset := opts.StartOffset % len(workers)
	if offset < 0 {
		offset += len(workers)
	}

	slots := make([]Slot, len(ids))
	for i, id := range ids {
		slots[i] = Slot{
			AgreementNo: id,
			Worker:      workers[(i+offset)%len(workers)],
		}
	}
	return slots, offset, nil
}

// NextOffset returns the cursor value a follow-up run should start from after
// assigning `assigned` loans from `offset` over `workerCount` ring slots.
func NextOffset(offset, assigned, workerCount int) int {
	if workerCount <= 0 {
		return 0
	}
	return (offset + assigned) % workerCount
}
