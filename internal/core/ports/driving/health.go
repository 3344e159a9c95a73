package driving

import (
	"context"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// HealthService reports service liveness and store statistics.
type HealthService interface {
	// Check probes the store and the embedding provider and returns a
	// snapshot. Probe failures are reported in the snapshot, not as an
	// error.
	Check(ctx context.Context) (*domain.HealthSnapshot, error)
}
