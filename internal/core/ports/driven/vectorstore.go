package driven

import (
	"context"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// DocPoint is one doc-tier upsert: the document, its vector, and the
// payload derived from it.
type DocPoint struct {
	Doc    domain.TestDoc
	Vector []float32
}

// StepPoint is one step-tier upsert. The parent's filterable payload is
// denormalised onto the step so filters push down on both tiers.
type StepPoint struct {
	ParentUID string
	Step      domain.TestStep
	Vector    []float32
}

// DocHit is a doc-tier kNN result.
type DocHit struct {
	// UID of the matched document.
	UID string

	// Score is the normalised similarity in [0, 1]; 1 is identical.
	Score float64

	// Doc is the stored payload.
	Doc domain.TestDoc
}

// StepHit is a step-tier kNN result.
type StepHit struct {
	// ParentUID identifies the step's parent document.
	ParentUID string

	// Index of the step within its parent.
	Index int

	// Score is the normalised similarity in [0, 1].
	Score float64
}

// Counts are the per-tier point counts.
type Counts struct {
	Docs  int64
	Steps int64
}

// VectorStore is the typed interface over the two-tier vector database.
// Scores returned by the kNN operations are normalised similarities in
// [0, 1] and directly comparable across tiers.
//
// Implementations enforce uid uniqueness on the doc tier and
// (parent_uid, index) uniqueness on the step tier.
type VectorStore interface {
	// EnsureSchema creates the two collections if needed and validates
	// that an existing schema matches the given vector dimension.
	// A mismatch is a fatal configuration error.
	EnsureSchema(ctx context.Context, dim int) error

	// UpsertDocs writes a batch of doc-tier points.
	UpsertDocs(ctx context.Context, points []DocPoint) error

	// UpsertSteps writes a batch of step-tier points.
	UpsertSteps(ctx context.Context, points []StepPoint) error

	// DeleteDocByUID removes a document point. Safe if absent.
	DeleteDocByUID(ctx context.Context, uid string) error

	// DeleteStepsByParent removes all steps of a document. Safe if absent.
	DeleteStepsByParent(ctx context.Context, uid string) error

	// KnnDocs returns the k nearest doc-tier points under the filter.
	KnnDocs(ctx context.Context, vec []float32, k int, filter *domain.Filter) ([]DocHit, error)

	// KnnSteps returns the k nearest step-tier points under the filter.
	// Filters target the parent's payload (denormalised on each step).
	KnnSteps(ctx context.Context, vec []float32, k int, filter *domain.Filter) ([]StepHit, error)

	// FetchDocByUID returns the stored payload for a document, or a
	// not-found error.
	FetchDocByUID(ctx context.Context, uid string) (*domain.TestDoc, error)

	// FindDocsByExternalKey scrolls the doc tier for documents with the
	// exact external key, up to limit.
	FindDocsByExternalKey(ctx context.Context, key string, limit int) ([]domain.TestDoc, error)

	// FetchDocVector returns the stored embedding for a document, used
	// by similar-to search.
	FetchDocVector(ctx context.Context, uid string) ([]float32, error)

	// FetchStepsByParent returns a document's steps in index order.
	FetchStepsByParent(ctx context.Context, uid string) ([]domain.TestStep, error)

	// Counts returns the per-tier point counts.
	Counts(ctx context.Context) (Counts, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
