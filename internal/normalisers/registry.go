package normalisers

import (
	"fmt"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
)

// Ensure Registry implements the interface.
var _ driven.NormaliserRegistry = (*Registry)(nil)

// Registry dispatches records to the first normaliser whose predicate
// matches, in registration order.
type Registry struct {
	normalisers []driven.Normaliser
}

// NewRegistry creates a registry with the given normalisers.
func NewRegistry(normalisers ...driven.Normaliser) *Registry {
	return &Registry{normalisers: normalisers}
}

// NewDefaultRegistry registers the built-in corpus formats. Order
// matters: Xray records also carry testCaseId-like fields, so the more
// specific predicate goes first.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewXrayNormaliser(),
		NewTestRailNormaliser(),
	)
}

// Resolve returns the first matching normaliser.
func (r *Registry) Resolve(raw *domain.RawRecord) (driven.Normaliser, error) {
	for _, n := range r.normalisers {
		if n.Matches(raw) {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: no normaliser recognises the record", domain.ErrInvalidInput)
}
