package qdrant

import (
	"context"
	"fmt"
	"sort"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
)

// globOverfetch compensates for client-side wildcard filtering: the
// search requests this many times k and trims after evaluating the
// pattern.
const globOverfetch = 4

// KnnDocs returns the k nearest doc-tier points under the filter.
func (s *Store) KnnDocs(
	ctx context.Context, vec []float32, k int, filter *domain.Filter,
) ([]driven.DocHit, error) {
	limit := k
	postFilter := needsGlobPostFilter(filter)
	if postFilter {
		limit = k * globOverfetch
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.docCollection,
		Vector:         vec,
		Limit:          uint64(limit),
		Filter:         translateFilter(filter),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("knn docs: %w: %w", domain.ErrTransient, err)
	}

	hits := make([]driven.DocHit, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		doc, err := parseDocPayload(pt.GetPayload())
		if err != nil {
			return nil, err
		}
		if postFilter && !domain.MatchGlob(filter.ExternalKeyPattern, doc.ExternalKey) {
			continue
		}
		hits = append(hits, driven.DocHit{
			UID:   doc.UID,
			Score: normaliseScore(pt.GetScore()),
			Doc:   *doc,
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// KnnSteps returns the k nearest step-tier points under the filter.
func (s *Store) KnnSteps(
	ctx context.Context, vec []float32, k int, filter *domain.Filter,
) ([]driven.StepHit, error) {
	limit := k
	postFilter := needsGlobPostFilter(filter)
	if postFilter {
		limit = k * globOverfetch
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.stepCollection,
		Vector:         vec,
		Limit:          uint64(limit),
		Filter:         translateFilter(filter),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("knn steps: %w: %w", domain.ErrTransient, err)
	}

	hits := make([]driven.StepHit, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		payload := pt.GetPayload()
		if postFilter &&
			!domain.MatchGlob(filter.ExternalKeyPattern, payload[fieldExternalKey].GetStringValue()) {
			continue
		}
		hits = append(hits, driven.StepHit{
			ParentUID: payload[fieldParentUID].GetStringValue(),
			Index:     int(payload[fieldStepIndex].GetIntegerValue()),
			Score:     normaliseScore(pt.GetScore()),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// FindDocsByExternalKey scrolls the doc tier for an exact external key.
func (s *Store) FindDocsByExternalKey(
	ctx context.Context, key string, limit int,
) ([]domain.TestDoc, error) {
	scrollLimit := uint32(limit)
	resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: s.docCollection,
		Filter:         matchUID(fieldExternalKey, key),
		Limit:          &scrollLimit,
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("scroll by external key: %w: %w", domain.ErrTransient, err)
	}

	docs := make([]domain.TestDoc, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		doc, err := parseDocPayload(pt.GetPayload())
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// FetchStepsByParent returns a document's steps in index order.
func (s *Store) FetchStepsByParent(ctx context.Context, uid string) ([]domain.TestStep, error) {
	// A single scroll page covers any realistic step count.
	scrollLimit := uint32(1024)
	resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: s.stepCollection,
		Filter:         matchUID(fieldParentUID, uid),
		Limit:          &scrollLimit,
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("scroll steps of %s: %w: %w", uid, domain.ErrTransient, err)
	}

	steps := make([]domain.TestStep, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		step, err := parseStepPayload(pt.GetPayload())
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })
	return steps, nil
}

// normaliseScore maps Qdrant's cosine similarity (in [-1, 1] for unit
// vectors) into [0, 1] so scores compare across tiers and 1 means
// identical.
func normaliseScore(score float32) float64 {
	normalised := (float64(score) + 1) / 2
	if normalised < 0 {
		return 0
	}
	if normalised > 1 {
		return 1
	}
	return normalised
}
