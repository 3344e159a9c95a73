package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
	"github.com/custodia-labs/testseek/internal/core/ports/driving"
	"github.com/custodia-labs/testseek/internal/logger"
)

// Ensure RetrievalService implements the interface.
var _ driving.SearchService = (*RetrievalService)(nil)

// MaxLookupCandidates bounds the external-key lookup scroll.
const MaxLookupCandidates = 16

// rollup accumulates the step hits of one parent document.
type rollup struct {
	bestScore float64
	bestIndex int
	indices   []int
}

// RetrievalService runs the hybrid two-tier search: concurrent kNN over
// the doc and step tiers, parent rollup, linear score fusion, and
// step-match annotation.
type RetrievalService struct {
	store    driven.VectorStore
	embedder driven.EmbeddingProvider

	mu        sync.RWMutex
	weights   domain.FusionWeights
	overfetch int
}

// NewRetrievalService creates a retrieval service with the given fusion
// weights and step over-fetch factor.
func NewRetrievalService(
	store driven.VectorStore,
	embedder driven.EmbeddingProvider,
	weights domain.FusionWeights,
	overfetch int,
) *RetrievalService {
	if overfetch < 1 {
		overfetch = domain.DefaultOverfetch
	}
	return &RetrievalService{
		store:     store,
		embedder:  embedder,
		weights:   weights,
		overfetch: overfetch,
	}
}

// SetWeights replaces the fusion weights. Called on config hot-reload.
func (s *RetrievalService) SetWeights(w domain.FusionWeights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.weights = w
	s.mu.Unlock()
	logger.Info("Fusion weights updated: doc=%.2f step=%.2f", w.Doc, w.Step)
	return nil
}

func (s *RetrievalService) currentWeights() domain.FusionWeights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// Search performs a hybrid semantic search for the query text.
func (s *RetrievalService) Search(
	ctx context.Context, query string, opts domain.SearchOptions,
) (*domain.SearchResult, error) {
	logger.Section("Search Execution")

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query text is required", domain.ErrInvalidInput)
	}
	if len(query) > domain.MaxQueryLen {
		return nil, fmt.Errorf("%w: query exceeds %d bytes", domain.ErrInvalidInput, domain.MaxQueryLen)
	}
	if err := opts.Normalise(); err != nil {
		return nil, err
	}
	logger.Debug("Query: %q, top_k=%d, scope=%s", query, opts.TopK, opts.Scope)

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for one text", domain.ErrInternal, len(vecs))
	}

	return s.fanOut(ctx, vecs[0], opts, "")
}

// FindSimilar ranks tests by similarity to a stored reference test.
// The reference's stored vector is reused as the query vector and the
// reference itself is excluded from the results.
func (s *RetrievalService) FindSimilar(
	ctx context.Context, uid string, opts domain.SearchOptions,
) (*domain.SearchResult, error) {
	logger.Section("Similar-To Execution")

	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, fmt.Errorf("%w: reference uid is required", domain.ErrInvalidInput)
	}
	if err := opts.Normalise(); err != nil {
		return nil, err
	}

	vec, err := s.store.FetchDocVector(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("fetch reference vector for %q: %w", uid, err)
	}

	// Over-request by one so the excluded reference does not shrink the
	// result set below top_k.
	opts.TopK++
	result, err := s.fanOut(ctx, vec, opts, uid)
	if err != nil {
		return nil, err
	}
	if len(result.Hits) > opts.TopK-1 {
		result.Hits = result.Hits[:opts.TopK-1]
	}
	return result, nil
}

// GetByExternalKey returns the unique test with the given external key.
func (s *RetrievalService) GetByExternalKey(ctx context.Context, key string) (*domain.TestDoc, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: external key is required", domain.ErrInvalidInput)
	}

	docs, err := s.store.FindDocsByExternalKey(ctx, key, MaxLookupCandidates)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", key, err)
	}
	switch len(docs) {
	case 0:
		return nil, fmt.Errorf("no test with external key %q: %w", key, domain.ErrNotFound)
	case 1:
		return &docs[0], nil
	default:
		uids := make([]string, len(docs))
		for i := range docs {
			uids[i] = docs[i].UID
		}
		sort.Strings(uids)
		return nil, fmt.Errorf("external key %q matches %d tests (%s): %w",
			key, len(docs), strings.Join(uids, ", "), domain.ErrConflict)
	}
}

// fanOut runs the tier searches selected by the scope, merges the
// results and hydrates the hits. excludeUID drops one document from the
// results (similar-to excludes the reference).
//
//nolint:gocyclo // The merge covers every scope/branch-failure combination.
func (s *RetrievalService) fanOut(
	ctx context.Context, qvec []float32, opts domain.SearchOptions, excludeUID string,
) (*domain.SearchResult, error) {
	weights := s.currentWeights()

	wantDocs := opts.Scope != domain.ScopeSteps
	wantSteps := opts.Scope == domain.ScopeSteps ||
		(opts.Scope == domain.ScopeAll && weights.Step > 0)

	kStep := opts.TopK * s.overfetch
	if kStep > domain.MaxFanoutK {
		kStep = domain.MaxFanoutK
	}

	var (
		docHits  []driven.DocHit
		stepHits []driven.StepHit
		docErr   error
		stepErr  error
		wg       sync.WaitGroup
	)

	if wantDocs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docHits, docErr = s.store.KnnDocs(ctx, qvec, opts.TopK, opts.Filter)
		}()
	}
	if wantSteps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stepHits, stepErr = s.store.KnnSteps(ctx, qvec, kStep, opts.Filter)
		}()
	}
	wg.Wait()

	logger.Debug("Fan-out: %d doc hits (err=%v), %d step hits (err=%v)",
		len(docHits), docErr, len(stepHits), stepErr)

	warning := ""
	switch {
	case wantDocs && wantSteps && docErr != nil && stepErr != nil:
		return nil, fmt.Errorf("both search branches failed: doc=%v, step=%w", docErr, stepErr)
	case docErr != nil:
		if !wantSteps {
			return nil, fmt.Errorf("doc search: %w", docErr)
		}
		warning = "doc tier unavailable, results from step tier only"
		logger.Warn("Doc branch failed: %v", docErr)
	case stepErr != nil:
		if !wantDocs {
			return nil, fmt.Errorf("step search: %w", stepErr)
		}
		warning = "step tier unavailable, results from doc tier only"
		logger.Warn("Step branch failed: %v", stepErr)
	}

	// Parent rollup of step hits.
	rollups := make(map[string]*rollup)
	for _, hit := range stepHits {
		r, ok := rollups[hit.ParentUID]
		if !ok {
			r = &rollup{bestScore: hit.Score, bestIndex: hit.Index}
			rollups[hit.ParentUID] = r
		}
		if hit.Score > r.bestScore || (hit.Score == r.bestScore && hit.Index < r.bestIndex) {
			r.bestScore = hit.Score
			r.bestIndex = hit.Index
		}
		r.indices = append(r.indices, hit.Index)
	}

	// Score fusion.
	hits := make(map[string]*domain.SearchHit)
	for _, dh := range docHits {
		if dh.UID == excludeUID {
			continue
		}
		doc := dh.Doc
		hits[dh.UID] = &domain.SearchHit{Doc: doc, DocScore: dh.Score}
	}
	for uid, r := range rollups {
		if uid == excludeUID {
			continue
		}
		h, ok := hits[uid]
		if !ok {
			h = &domain.SearchHit{Doc: domain.TestDoc{UID: uid}}
			hits[uid] = h
		}
		h.StepScore = r.bestScore
		sort.Ints(r.indices)
		h.MatchedStepIndices = dedupInts(r.indices)
	}

	ranked := make([]*domain.SearchHit, 0, len(hits))
	for _, h := range hits {
		switch opts.Scope {
		case domain.ScopeDocs:
			h.Score = h.DocScore
		case domain.ScopeSteps:
			h.Score = h.StepScore
		default:
			h.Score = weights.Doc*h.DocScore + weights.Step*h.StepScore
		}
		ranked = append(ranked, h)
	}

	// Deterministic ordering: score desc, uid asc, best step index asc.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Doc.UID != ranked[j].Doc.UID {
			return ranked[i].Doc.UID < ranked[j].Doc.UID
		}
		return bestIndex(ranked[i]) < bestIndex(ranked[j])
	})
	if len(ranked) > opts.TopK {
		ranked = ranked[:opts.TopK]
	}

	// Hydrate step-only hits whose payload was not attached yet.
	out := make([]domain.SearchHit, 0, len(ranked))
	for _, h := range ranked {
		if h.Doc.Title == "" {
			doc, err := s.store.FetchDocByUID(ctx, h.Doc.UID)
			if err != nil {
				logger.Warn("Hydration failed for %s: %v", h.Doc.UID, err)
				continue
			}
			h.Doc = *doc
		}
		if h.MatchedStepIndices == nil {
			h.MatchedStepIndices = []int{}
		}
		out = append(out, *h)
	}

	logger.Info("Search complete: %d hits", len(out))
	return &domain.SearchResult{Hits: out, Warning: warning}, nil
}

func bestIndex(h *domain.SearchHit) int {
	if len(h.MatchedStepIndices) == 0 {
		return 0
	}
	return h.MatchedStepIndices[0]
}

func dedupInts(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}
