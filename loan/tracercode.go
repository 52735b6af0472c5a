package loan

import (
	"fmt"
	"strings"
	"time"
)

const (
	tracerCodePrefix   = "TRC"
	tracerCodeFallback = "GEN"
)

// TracerCode derives the tracer code for an assignee on the given day:
// TRC-<first three letters of the assignee's first name token, uppercased and
// X-padded>-<YYMMDD>. Deterministic for a given (assignee, day) pair so
// re-running a batch on the same day yields identical codes. Re-running on a
// later day produces a different code for rows that still need one; that
// follows from the set-if-blank rule and is intentional.
func TracerCode(assignee string, day time.Time) string {
	token := tracerCodeFallback
	if fields := strings.Fields(assignee); len(fields) > 0 {
		token = fields[0]
	}

	runes := []rune(strings.ToUpper(token))
	if len(runes) > 3 {
		runes = runes[:3]
	}
	for len(runes) < 3 {
		runes = append(runes, 'X')
	}

	return fmt.Sprintf("%s-%s-%s", tracerCodePrefix, string(runes), day.Format("060102"))
}
