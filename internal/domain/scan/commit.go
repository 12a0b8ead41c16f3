package scan

import (
	"time"

	"github.com/drfirst/medscan/internal/domain/medication"
)

// ResolveCondition applies the commit precedence: an explicit user choice,
// then the auto-selected suggestion, then the caller's default.
func ResolveCondition(explicit, auto, fallback medication.Opt[string]) medication.Opt[string] {
	for _, c := range []medication.Opt[string]{explicit, auto, fallback} {
		if c.IsSet() {
			return c
		}
	}
	return medication.None[string]()
}

// BuildRecord produces the final record handed to the caller. The accumulator
// is copied so later session changes cannot reach the result. A set patient
// (from the caller's Config or SetPatient) replaces the name read from the
// label; an unset one keeps the label's name.
func BuildRecord(acc medication.Record, condition, patient medication.Opt[string], id string, at time.Time) medication.Record {
	rec := acc
	if w, ok := acc.Warnings.Get(); ok {
		rec.Warnings = medication.Some(append([]string(nil), w...))
	}
	rec.ID = id
	rec.ScannedAt = at.UTC()
	rec.PrescribedFor = condition
	if patient.IsSet() {
		rec.PatientName = patient
	}
	return rec
}
