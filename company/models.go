package company

import "time"

// Mapping resolves an obfuscated employer name from an uploaded portfolio to
// the real company a tracer should contact.
type Mapping struct {
	MaskedName    string
	CanonicalName string
	Notes         string
	UpdatedAt     time.Time
}
