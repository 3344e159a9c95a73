package driven

import (
	"context"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// EmbeddingProvider turns batches of text into fixed-dimension unit
// vectors. Implementations wrap a remote service (OpenAI, Ollama) behind
// a batching/retry layer; the rest of the core never branches on which
// backend is in use.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, in input order. Each
	// vector has Dimensions() elements and is L2-normalised. Empty
	// strings are embedded as-is.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size. Before the first
	// successful call it returns the configured assertion (0 when the
	// dimension is discovered from the backend).
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Stats returns the provider's counters.
	Stats() domain.EmbedStats

	// Ping validates the backend is reachable with a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
