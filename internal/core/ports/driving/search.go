package driving

import (
	"context"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// SearchService is the retrieval surface: semantic search, similar-to,
// and direct lookup by external key.
type SearchService interface {
	// Search runs a hybrid doc + step search for the query text.
	Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResult, error)

	// FindSimilar ranks tests by similarity to a stored reference test,
	// excluding the reference itself. The reference is addressed by uid.
	FindSimilar(ctx context.Context, uid string, opts domain.SearchOptions) (*domain.SearchResult, error)

	// GetByExternalKey returns the single test with the given external
	// key, a not-found error, or a conflict error naming the candidates
	// when the key is ambiguous.
	GetByExternalKey(ctx context.Context, key string) (*domain.TestDoc, error)
}
