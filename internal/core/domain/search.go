package domain

import "fmt"

// Search bounds.
const (
	// DefaultTopK is used when the caller does not pass top_k.
	DefaultTopK = 20

	// MaxTopK is the largest accepted top_k.
	MaxTopK = 100

	// MaxQueryLen bounds the query text in bytes.
	MaxQueryLen = 8 * 1024

	// DefaultOverfetch is the step-tier over-request factor compensating
	// for parent rollup shrinkage.
	DefaultOverfetch = 3

	// MaxFanoutK caps top_k * overfetch regardless of configuration.
	MaxFanoutK = 1000
)

// Scope selects which tiers a search consults.
type Scope string

// Search scopes.
const (
	ScopeAll   Scope = "all"
	ScopeDocs  Scope = "docs"
	ScopeSteps Scope = "steps"
)

// Valid reports whether the scope is recognised.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeDocs, ScopeSteps:
		return true
	}
	return false
}

// SearchOptions configures a semantic search.
type SearchOptions struct {
	// TopK is the number of results to return (1..MaxTopK, default DefaultTopK).
	TopK int

	// Filter constrains results by metadata. Nil matches everything.
	Filter *Filter

	// Scope selects the tiers to search. Empty means ScopeAll.
	Scope Scope
}

// Normalise fills defaults and validates bounds.
func (o *SearchOptions) Normalise() error {
	if o.TopK == 0 {
		o.TopK = DefaultTopK
	}
	if o.TopK < 1 || o.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d", ErrInvalidInput, MaxTopK)
	}
	if o.Scope == "" {
		o.Scope = ScopeAll
	}
	if !o.Scope.Valid() {
		return fmt.Errorf("%w: scope must be one of all, docs, steps", ErrInvalidInput)
	}
	if err := o.Filter.Validate(); err != nil {
		return err
	}
	return nil
}

// SearchHit is one ranked retrieval result. The doc payload is
// denormalised into the hit so callers need no second lookup.
type SearchHit struct {
	// Doc is the full matched test document.
	Doc TestDoc `json:"doc"`

	// Score is the fused relevance score in [0, 1].
	Score float64 `json:"score"`

	// DocScore is the doc-tier similarity, when that tier contributed.
	DocScore float64 `json:"doc_score,omitempty"`

	// StepScore is the best step-tier similarity, when steps contributed.
	StepScore float64 `json:"step_score,omitempty"`

	// MatchedStepIndices lists the steps of the doc that matched the
	// query, ascending. Empty when only the doc tier matched.
	MatchedStepIndices []int `json:"matched_step_indices"`
}

// SearchResult is a ranked hit list plus the soft warning raised when one
// fan-out branch failed.
type SearchResult struct {
	// Hits in descending fused-score order.
	Hits []SearchHit `json:"hits"`

	// Warning is set when results are partial (one tier failed).
	Warning string `json:"warning,omitempty"`
}

// FusionWeights are the linear score-fusion coefficients.
type FusionWeights struct {
	// Doc weights the doc-tier similarity.
	Doc float64

	// Step weights the best step-tier similarity.
	Step float64
}

// DefaultFusionWeights favour whole-document similarity.
var DefaultFusionWeights = FusionWeights{Doc: 0.7, Step: 0.3}

// Validate checks that the weights are non-negative and sum to 1.
func (w FusionWeights) Validate() error {
	if w.Doc < 0 || w.Step < 0 {
		return fmt.Errorf("%w: fusion weights must be non-negative", ErrFatalConfig)
	}
	const epsilon = 1e-9
	if sum := w.Doc + w.Step; sum < 1-epsilon || sum > 1+epsilon {
		return fmt.Errorf("%w: fusion weights must sum to 1, got %g", ErrFatalConfig, sum)
	}
	return nil
}
