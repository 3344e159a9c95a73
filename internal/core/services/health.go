package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
	"github.com/custodia-labs/testseek/internal/core/ports/driving"
	"github.com/custodia-labs/testseek/internal/logger"
)

// Ensure HealthService implements the interface.
var _ driving.HealthService = (*HealthService)(nil)

// probeTimeout bounds each health probe so a hung backend cannot stall
// the health tool.
const probeTimeout = 5 * time.Second

// HealthService probes the store and the embedding provider and reports
// a snapshot with per-tier counts.
type HealthService struct {
	store    driven.VectorStore
	embedder driven.EmbeddingProvider
	version  string

	lastEmbedOK atomic.Int64 // unix nanos of the last successful embed probe
}

// NewHealthService creates a health service.
func NewHealthService(store driven.VectorStore, embedder driven.EmbeddingProvider, version string) *HealthService {
	return &HealthService{store: store, embedder: embedder, version: version}
}

// RecordEmbedSuccess notes a successful embedding call, so callers can
// reflect real traffic in the snapshot rather than probes alone.
func (s *HealthService) RecordEmbedSuccess() {
	s.lastEmbedOK.Store(time.Now().UnixNano())
}

// Check probes both backends. Probe failures show up in the snapshot.
func (s *HealthService) Check(ctx context.Context) (*domain.HealthSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	snap := &domain.HealthSnapshot{Version: s.version}

	if err := s.store.Ping(ctx); err != nil {
		logger.Warn("Store probe failed: %v", err)
	} else {
		snap.StoreReachable = true
		counts, err := s.store.Counts(ctx)
		if err != nil {
			logger.Warn("Store counts failed: %v", err)
		} else {
			snap.DocCount = counts.Docs
			snap.StepCount = counts.Steps
		}
	}

	if s.embedder != nil {
		snap.EmbedModel = s.embedder.ModelName()
		stats := s.embedder.Stats()
		snap.EmbedStats = &stats
		if err := s.embedder.Ping(ctx); err != nil {
			logger.Warn("Embedding probe failed: %v", err)
		} else {
			snap.EmbedProviderOK = true
			s.RecordEmbedSuccess()
		}
	}

	if ns := s.lastEmbedOK.Load(); ns > 0 {
		snap.LastSuccessfulEmbedAt = time.Unix(0, ns).UTC()
	}

	return snap, nil
}
