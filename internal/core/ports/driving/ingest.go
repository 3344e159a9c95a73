package driving

import (
	"context"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// RecordSource yields raw records lazily so corpora larger than memory
// can be ingested. Next returns nil when the source is exhausted.
type RecordSource interface {
	// ID names the source, used for checkpointing and provenance.
	ID() string

	// Next returns the next record, or (nil, nil) at end of input.
	Next() (*domain.RawRecord, error)

	// Close releases resources.
	Close() error
}

// IngestService runs the ingestion pipeline.
type IngestService interface {
	// Ingest streams the source through normalisation, embedding and
	// upsert, checkpointing per chunk. Re-running over the same source
	// converges to the same store state.
	Ingest(ctx context.Context, source RecordSource) (*domain.IngestReport, error)
}
