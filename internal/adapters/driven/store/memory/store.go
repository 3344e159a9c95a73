// Package memory provides an in-memory implementation of the vector
// store port. It backs tests and offline development; kNN is exact
// (brute-force dot product over unit vectors) rather than approximate.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.VectorStore = (*Store)(nil)

type docEntry struct {
	doc domain.TestDoc
	vec []float32
}

type stepEntry struct {
	parentUID string
	step      domain.TestStep
	vec       []float32
}

// Store is an in-memory two-tier vector store.
type Store struct {
	mu    sync.RWMutex
	dim   int
	docs  map[string]docEntry
	steps map[string]map[int]stepEntry
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		docs:  make(map[string]docEntry),
		steps: make(map[string]map[int]stepEntry),
	}
}

// EnsureSchema fixes the vector dimension on first call and rejects a
// differing dimension afterwards.
func (s *Store) EnsureSchema(_ context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = dim
		return nil
	}
	if dim != s.dim {
		return fmt.Errorf("%w: store dimension %d, configured %d", domain.ErrFatalConfig, s.dim, dim)
	}
	return nil
}

// UpsertDocs writes a batch of doc-tier points.
func (s *Store) UpsertDocs(_ context.Context, points []driven.DocPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if err := s.checkDim(p.Vector); err != nil {
			return err
		}
		s.docs[p.Doc.UID] = docEntry{doc: p.Doc, vec: p.Vector}
	}
	return nil
}

// UpsertSteps writes a batch of step-tier points.
func (s *Store) UpsertSteps(_ context.Context, points []driven.StepPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if err := s.checkDim(p.Vector); err != nil {
			return err
		}
		byIdx, ok := s.steps[p.ParentUID]
		if !ok {
			byIdx = make(map[int]stepEntry)
			s.steps[p.ParentUID] = byIdx
		}
		byIdx[p.Step.Index] = stepEntry{parentUID: p.ParentUID, step: p.Step, vec: p.Vector}
	}
	return nil
}

func (s *Store) checkDim(vec []float32) error {
	if s.dim != 0 && len(vec) != s.dim {
		return fmt.Errorf("%w: vector dimension %d, store dimension %d", domain.ErrFatalConfig, len(vec), s.dim)
	}
	return nil
}

// DeleteDocByUID removes a document point.
func (s *Store) DeleteDocByUID(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, uid)
	return nil
}

// DeleteStepsByParent removes all steps of a document.
func (s *Store) DeleteStepsByParent(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.steps, uid)
	return nil
}

// KnnDocs returns the k nearest doc-tier points under the filter.
func (s *Store) KnnDocs(_ context.Context, vec []float32, k int, filter *domain.Filter) ([]driven.DocHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]driven.DocHit, 0, len(s.docs))
	for _, e := range s.docs {
		if !filter.Matches(&e.doc) {
			continue
		}
		hits = append(hits, driven.DocHit{
			UID:   e.doc.UID,
			Score: similarity(vec, e.vec),
			Doc:   e.doc,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].UID < hits[j].UID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// KnnSteps returns the k nearest step-tier points under the filter,
// evaluated against the parent's payload.
func (s *Store) KnnSteps(_ context.Context, vec []float32, k int, filter *domain.Filter) ([]driven.StepHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []driven.StepHit
	for parentUID, byIdx := range s.steps {
		if parent, ok := s.docs[parentUID]; ok && !filter.Matches(&parent.doc) {
			continue
		}
		for _, e := range byIdx {
			hits = append(hits, driven.StepHit{
				ParentUID: parentUID,
				Index:     e.step.Index,
				Score:     similarity(vec, e.vec),
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].ParentUID != hits[j].ParentUID {
			return hits[i].ParentUID < hits[j].ParentUID
		}
		return hits[i].Index < hits[j].Index
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// FetchDocByUID returns the stored payload for a document.
func (s *Store) FetchDocByUID(_ context.Context, uid string) (*domain.TestDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[uid]
	if !ok {
		return nil, fmt.Errorf("doc %q: %w", uid, domain.ErrNotFound)
	}
	doc := e.doc
	return &doc, nil
}

// FindDocsByExternalKey scrolls the doc tier for an exact external key.
func (s *Store) FindDocsByExternalKey(_ context.Context, key string, limit int) ([]domain.TestDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []domain.TestDoc
	for _, e := range s.docs {
		if e.doc.ExternalKey == key {
			docs = append(docs, e.doc)
			if len(docs) >= limit {
				break
			}
		}
	}
	return docs, nil
}

// FetchDocVector returns the stored embedding for a document.
func (s *Store) FetchDocVector(_ context.Context, uid string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[uid]
	if !ok {
		return nil, fmt.Errorf("doc %q: %w", uid, domain.ErrNotFound)
	}
	return e.vec, nil
}

// FetchStepsByParent returns a document's steps in index order.
func (s *Store) FetchStepsByParent(_ context.Context, uid string) ([]domain.TestStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byIdx, ok := s.steps[uid]
	if !ok {
		return nil, nil
	}
	steps := make([]domain.TestStep, 0, len(byIdx))
	for _, e := range byIdx {
		steps = append(steps, e.step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })
	return steps, nil
}

// Counts returns the per-tier point counts.
func (s *Store) Counts(_ context.Context) (driven.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stepCount int64
	for _, byIdx := range s.steps {
		stepCount += int64(len(byIdx))
	}
	return driven.Counts{Docs: int64(len(s.docs)), Steps: stepCount}, nil
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close releases nothing.
func (s *Store) Close() error { return nil }

// similarity maps the dot product of unit vectors into [0, 1].
func similarity(a, b []float32) float64 {
	var dot float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return (dot + 1) / 2
}
