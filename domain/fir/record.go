// Package fir owns the FIRRecord type and its PostgreSQL-backed store: the
// relational half of the pipeline's persisted state, holding one row per
// finalised (or in-progress) First Information Report.
package fir

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// Status is the lifecycle state of a FIRRecord.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
)

// numberPattern matches the FIR number grammar: FIR-{8 lowercase hex}-{14 digit YYYYMMDDhhmmss}.
var numberPattern = regexp.MustCompile(`^FIR-[0-9a-f]{8}-\d{14}$`)

// ValidNumber reports whether s matches the FIR number grammar.
func ValidNumber(s string) bool {
	return numberPattern.MatchString(s)
}

// NewNumber generates a FIR number for the given instant: FIR-{8 random hex
// lowercase}-{UTC timestamp, YYYYMMDDhhmmss}. Collisions are handled by the
// caller retrying allocation against the unique index on fir_number.
func NewNumber(now time.Time) (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate fir number: %w", err)
	}
	return fmt.Sprintf("FIR-%s-%s", hex.EncodeToString(buf[:]), now.UTC().Format("20060102150405")), nil
}

// Record is a FIRRecord: the rendered narrative plus the metadata needed to
// authenticate and look it up, keyed by its fir_number.
type Record struct {
	FIRNumber   string
	SessionID   string
	Status      Status
	Content     string
	AuthKeyHash string
	CreatedAt   time.Time
	FinalizedAt *time.Time
}
