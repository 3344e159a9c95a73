package driven

import (
	"github.com/custodia-labs/testseek/internal/core/domain"
)

// Normaliser transforms raw corpus records into canonical TestDocs.
// Each normaliser handles one source format; dispatch is by predicate.
type Normaliser interface {
	// Name identifies the format, used in provenance and warnings.
	Name() string

	// Matches reports whether this normaliser understands the record.
	Matches(raw *domain.RawRecord) bool

	// Normalise transforms the record. Warnings are non-fatal notes
	// (fallback uid, unrecognised priority, duplicate step index).
	Normalise(raw *domain.RawRecord) (*domain.TestDoc, []string, error)
}

// NormaliserRegistry resolves the normaliser for a record.
type NormaliserRegistry interface {
	// Resolve returns the first registered normaliser whose predicate
	// matches, or an error when none does.
	Resolve(raw *domain.RawRecord) (Normaliser, error)
}
