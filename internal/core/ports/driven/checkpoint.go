package driven

import (
	"context"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// CheckpointStore persists ingestion progress so an interrupted run can
// resume from the last completed chunk. One checkpoint exists per source;
// writes are atomic.
type CheckpointStore interface {
	// Get returns the checkpoint for a source, or a not-found error.
	Get(ctx context.Context, sourceID string) (*domain.Checkpoint, error)

	// Save creates or replaces the checkpoint for its source.
	Save(ctx context.Context, cp *domain.Checkpoint) error

	// Delete removes the checkpoint once a run completes cleanly.
	Delete(ctx context.Context, sourceID string) error

	// Close releases resources.
	Close() error
}
