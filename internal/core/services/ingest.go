package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
	"github.com/custodia-labs/testseek/internal/core/ports/driving"
	"github.com/custodia-labs/testseek/internal/logger"
)

// Ensure IngestService implements the interface.
var _ driving.IngestService = (*IngestService)(nil)

// restoreAfter is the number of consecutive chunk successes that clear
// the backpressure delay.
const restoreAfter = 3

// IngestConfig carries the pipeline tunables.
type IngestConfig struct {
	// ChunkSize is the number of records embedded and upserted together.
	ChunkSize int

	// Parallel bounds concurrently processed chunks.
	Parallel int

	// ChunkTimeout is the per-chunk deadline. Zero means no deadline.
	ChunkTimeout time.Duration

	// ThrottleDelay is the initial dispatch delay applied after a
	// throttled chunk; it doubles per further throttle and clears after
	// restoreAfter consecutive successes.
	ThrottleDelay time.Duration
}

// IngestService streams raw records through normalisation, batch
// embedding and idempotent two-tier upsert, checkpointing after every
// chunk so an interrupted run resumes where it stopped.
type IngestService struct {
	store       driven.VectorStore
	embedder    driven.EmbeddingProvider
	checkpoints driven.CheckpointStore
	registry    driven.NormaliserRegistry
	cfg         IngestConfig

	uidLocks *keyMutex

	mu     sync.Mutex
	active map[string]bool
}

// NewIngestService creates the ingestion pipeline.
func NewIngestService(
	store driven.VectorStore,
	embedder driven.EmbeddingProvider,
	checkpoints driven.CheckpointStore,
	registry driven.NormaliserRegistry,
	cfg IngestConfig,
) *IngestService {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 500
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 2
	}
	if cfg.ThrottleDelay == 0 {
		cfg.ThrottleDelay = 2 * time.Second
	}
	return &IngestService{
		store:       store,
		embedder:    embedder,
		checkpoints: checkpoints,
		registry:    registry,
		cfg:         cfg,
		uidLocks:    newKeyMutex(),
		active:      make(map[string]bool),
	}
}

// run holds the mutable state of one ingestion run.
type run struct {
	sourceID string

	mu           sync.Mutex
	docsIn       int
	docsWritten  int
	stepsWritten int
	warnings     []string
	errs         int
	deferred     map[int]bool
	completed    map[int]bool
	watermark    int // highest contiguous completed chunk index

	// backpressure
	baseDelay time.Duration
	delay     time.Duration
	successes int
}

func (r *run) warnf(format string, args ...any) {
	r.mu.Lock()
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
	r.mu.Unlock()
	logger.Warn(format, args...)
}

// markCompleted records a finished chunk and advances the contiguous
// watermark past it and any previously deferred chunks.
func (r *run) markCompleted(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[idx] = true
	for r.completed[r.watermark+1] || r.deferred[r.watermark+1] {
		r.watermark++
	}
}

func (r *run) markDeferred(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferred[idx] = true
	r.errs++
	for r.completed[r.watermark+1] || r.deferred[r.watermark+1] {
		r.watermark++
	}
}

func (r *run) checkpoint(started time.Time) *domain.Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	deferred := make([]int, 0, len(r.deferred))
	for idx := range r.deferred {
		deferred = append(deferred, idx)
	}
	sort.Ints(deferred)
	return &domain.Checkpoint{
		SourceID:           r.sourceID,
		LastChunkCompleted: r.watermark,
		DeferredChunks:     deferred,
		DocsWritten:        r.docsWritten,
		StepsWritten:       r.stepsWritten,
		StartedAt:          started,
		UpdatedAt:          time.Now().UTC(),
	}
}

// Ingest runs the pipeline for one source. Re-running over the same
// source converges to the same store state regardless of how many times
// any chunk was attempted.
func (s *IngestService) Ingest(
	ctx context.Context, source driving.RecordSource,
) (*domain.IngestReport, error) {
	sourceID := source.ID()

	s.mu.Lock()
	if s.active[sourceID] {
		s.mu.Unlock()
		return nil, fmt.Errorf("ingestion of %q already running: %w", sourceID, domain.ErrConflict)
	}
	s.active[sourceID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, sourceID)
		s.mu.Unlock()
	}()

	logger.Section("Ingestion")
	logger.Info("Ingesting source %s (chunk=%d, parallel=%d)", sourceID, s.cfg.ChunkSize, s.cfg.Parallel)

	started := time.Now().UTC()
	r := &run{
		sourceID:  sourceID,
		deferred:  make(map[int]bool),
		completed: make(map[int]bool),
		watermark: -1,
		baseDelay: s.cfg.ThrottleDelay,
	}

	// Resume from the last checkpoint, if one exists.
	if cp, err := s.checkpoints.Get(ctx, sourceID); err == nil && cp != nil {
		r.watermark = cp.LastChunkCompleted
		r.docsWritten = cp.DocsWritten
		r.stepsWritten = cp.StepsWritten
		for _, idx := range cp.DeferredChunks {
			r.deferred[idx] = true
		}
		for i := 0; i <= cp.LastChunkCompleted; i++ {
			if !r.deferred[i] {
				r.completed[i] = true
			}
		}
		started = cp.StartedAt
		logger.Info("Resuming from checkpoint: chunk %d completed", cp.LastChunkCompleted)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	fatal, err := s.processChunks(ctx, source, r, started)
	if err != nil {
		return nil, err
	}

	// End-of-run retry pass over deferred chunks, unless a fatal error
	// already stopped the run.
	if !fatal {
		if err := s.retryDeferred(ctx, source, r, started); err != nil {
			return nil, err
		}
	}

	report := s.finishRun(ctx, r, started, fatal)
	if fatal {
		return report, fmt.Errorf("ingestion halted: %w", domain.ErrFatalConfig)
	}
	return report, nil
}

// processChunks streams the source and dispatches chunks to a bounded
// worker pool.
func (s *IngestService) processChunks(
	ctx context.Context, source driving.RecordSource, r *run, started time.Time,
) (fatal bool, err error) {
	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, s.cfg.Parallel)
		fatalMu  sync.Mutex
		fatalHit bool
	)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunkIdx := -1
	for {
		records, readErr := s.readChunk(source, r)
		if readErr != nil {
			wg.Wait()
			return false, fmt.Errorf("read source %q: %w", r.sourceID, readErr)
		}
		if len(records) == 0 {
			break
		}
		chunkIdx++

		// Chunks at or below the resumed watermark were fully ingested
		// by the interrupted run.
		r.mu.Lock()
		skip := r.completed[chunkIdx] || r.deferred[chunkIdx]
		delay := r.delay
		r.mu.Unlock()
		if skip {
			logger.Debug("Chunk %d already handled, skipping", chunkIdx)
			continue
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-runCtx.Done():
			}
		}

		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			wg.Wait()
			fatalMu.Lock()
			defer fatalMu.Unlock()
			if fatalHit {
				return true, nil
			}
			return false, ctx.Err()
		}

		wg.Add(1)
		go func(idx int, recs []*domain.RawRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			chunkErr := s.processChunk(runCtx, recs, r)
			switch {
			case chunkErr == nil:
				r.markCompleted(idx)
				r.noteSuccess()
			case errors.Is(chunkErr, domain.ErrFatalConfig):
				logger.Warn("Fatal error in chunk %d: %v", idx, chunkErr)
				fatalMu.Lock()
				fatalHit = true
				fatalMu.Unlock()
				cancel()
			case errors.Is(chunkErr, context.Canceled):
				// Run cancelled; leave the chunk unrecorded so a resume
				// picks it up.
			default:
				r.warnf("Chunk %d deferred: %v", idx, chunkErr)
				r.markDeferred(idx)
				r.noteThrottle(chunkErr)
			}

			if cpErr := s.checkpoints.Save(runCtx, r.checkpoint(started)); cpErr != nil &&
				!errors.Is(cpErr, context.Canceled) {
				logger.Warn("Checkpoint save failed: %v", cpErr)
			}
		}(chunkIdx, records)
	}

	wg.Wait()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	if !fatalHit && ctx.Err() != nil {
		return false, ctx.Err()
	}
	return fatalHit, nil
}

// readChunk pulls up to ChunkSize records from the source.
func (s *IngestService) readChunk(source driving.RecordSource, r *run) ([]*domain.RawRecord, error) {
	records := make([]*domain.RawRecord, 0, s.cfg.ChunkSize)
	for len(records) < s.cfg.ChunkSize {
		rec, err := source.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		r.mu.Lock()
		r.docsIn++
		r.mu.Unlock()
		records = append(records, rec)
	}
	return records, nil
}

// processChunk normalises, embeds and upserts one chunk.
func (s *IngestService) processChunk(ctx context.Context, records []*domain.RawRecord, r *run) error {
	if s.cfg.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ChunkTimeout)
		defer cancel()
	}

	docs := s.normaliseChunk(records, r)
	if len(docs) == 0 {
		return nil
	}

	// Embed plan: flat text arrays with back-pointers.
	docTexts := make([]string, len(docs))
	var stepTexts []string
	type stepRef struct{ doc, step int }
	var stepRefs []stepRef
	for i, doc := range docs {
		docTexts[i] = doc.EmbedText()
		for j, step := range doc.Steps {
			stepTexts = append(stepTexts, step.EmbedText())
			stepRefs = append(stepRefs, stepRef{doc: i, step: j})
		}
	}

	docVecs, skippedDocs, err := s.embedWithSkips(ctx, docTexts, r)
	if err != nil {
		return fmt.Errorf("embed doc texts: %w", err)
	}
	stepVecs, skippedSteps, err := s.embedWithSkips(ctx, stepTexts, r)
	if err != nil {
		return fmt.Errorf("embed step texts: %w", err)
	}

	// Upsert per uid under its lock: step-delete happens-before
	// doc-upsert happens-before step-upsert, so a crash mid-sequence
	// leaves at worst a step-less doc that the resume fully replaces.
	now := time.Now().UTC()
	for i, doc := range docs {
		if skippedDocs[i] {
			continue
		}
		doc.IngestedAt = now

		steps := make([]driven.StepPoint, 0, len(doc.Steps))
		for k, ref := range stepRefs {
			if ref.doc != i || skippedSteps[k] {
				continue
			}
			steps = append(steps, driven.StepPoint{
				ParentUID: doc.UID,
				Step:      doc.Steps[ref.step],
				Vector:    stepVecs[k],
			})
		}

		if err := s.upsertDoc(ctx, doc, docVecs[i], steps); err != nil {
			return err
		}

		r.mu.Lock()
		r.docsWritten++
		r.stepsWritten += len(steps)
		r.mu.Unlock()
	}
	return nil
}

// normaliseChunk turns raw records into validated TestDocs, skipping
// invalid records with a warning. When the same uid appears twice in a
// chunk the last record wins.
func (s *IngestService) normaliseChunk(records []*domain.RawRecord, r *run) []*domain.TestDoc {
	byUID := make(map[string]int)
	docs := make([]*domain.TestDoc, 0, len(records))
	for _, rec := range records {
		norm, err := s.registry.Resolve(rec)
		if err != nil {
			r.warnf("Record skipped (no normaliser): %v", err)
			r.mu.Lock()
			r.errs++
			r.mu.Unlock()
			continue
		}
		doc, warns, err := norm.Normalise(rec)
		for _, w := range warns {
			r.warnf("%s: %s", norm.Name(), w)
		}
		if err != nil {
			r.warnf("Record skipped (%s): %v", norm.Name(), err)
			r.mu.Lock()
			r.errs++
			r.mu.Unlock()
			continue
		}
		if err := doc.Validate(); err != nil {
			r.warnf("Record skipped (invalid): %v", err)
			r.mu.Lock()
			r.errs++
			r.mu.Unlock()
			continue
		}
		if prev, ok := byUID[doc.UID]; ok {
			r.warnf("Duplicate uid %s in chunk, last record wins", doc.UID)
			docs[prev] = doc
			continue
		}
		byUID[doc.UID] = len(docs)
		docs = append(docs, doc)
	}
	return docs
}

// embedWithSkips embeds texts, dropping individual inputs the provider
// rejects as invalid and marking them skipped. Transient failures (after
// the provider's own retries) propagate to defer the whole chunk.
func (s *IngestService) embedWithSkips(
	ctx context.Context, texts []string, r *run,
) (vectors [][]float32, skipped []bool, err error) {
	skipped = make([]bool, len(texts))
	vectors = make([][]float32, len(texts))
	if len(texts) == 0 {
		return vectors, skipped, nil
	}

	// Positions of texts still to embed, in input order.
	live := make([]int, len(texts))
	for i := range live {
		live[i] = i
	}

	for len(live) > 0 {
		batch := make([]string, len(live))
		for i, pos := range live {
			batch[i] = texts[pos]
		}

		vecs, err := s.embedder.Embed(ctx, batch)
		if err == nil {
			for i, pos := range live {
				vectors[pos] = vecs[i]
			}
			return vectors, skipped, nil
		}

		var inputErr *domain.InputError
		if !errors.As(err, &inputErr) {
			return nil, nil, err
		}
		if inputErr.Index < 0 || inputErr.Index >= len(live) {
			return nil, nil, err
		}
		pos := live[inputErr.Index]
		skipped[pos] = true
		r.warnf("Text %d rejected by embedding provider: %s", pos, inputErr.Reason)
		live = append(live[:inputErr.Index], live[inputErr.Index+1:]...)
	}
	return vectors, skipped, nil
}

// upsertDoc performs the per-uid critical section.
func (s *IngestService) upsertDoc(
	ctx context.Context, doc *domain.TestDoc, vec []float32, steps []driven.StepPoint,
) error {
	s.uidLocks.Lock(doc.UID)
	defer s.uidLocks.Unlock(doc.UID)

	if err := s.store.DeleteStepsByParent(ctx, doc.UID); err != nil {
		return fmt.Errorf("delete steps of %s: %w", doc.UID, err)
	}
	if err := s.store.UpsertDocs(ctx, []driven.DocPoint{{Doc: *doc, Vector: vec}}); err != nil {
		return fmt.Errorf("upsert doc %s: %w", doc.UID, err)
	}
	if len(steps) > 0 {
		if err := s.store.UpsertSteps(ctx, steps); err != nil {
			return fmt.Errorf("upsert steps of %s: %w", doc.UID, err)
		}
	}
	return nil
}

// retryDeferred re-reads the source and retries the chunks recorded as
// deferred. Chunks that fail again stay deferred in the final report.
func (s *IngestService) retryDeferred(
	ctx context.Context, source driving.RecordSource, r *run, started time.Time,
) error {
	r.mu.Lock()
	pending := len(r.deferred)
	r.mu.Unlock()
	if pending == 0 {
		return nil
	}

	logger.Info("Retrying %d deferred chunks", pending)

	// The source was consumed by the main pass; a retry needs a fresh
	// read. Sources that cannot be re-read keep their chunks deferred.
	rewound, ok := source.(interface{ Rewind() error })
	if !ok {
		r.warnf("Source %s does not support re-reading, %d chunks stay deferred", r.sourceID, pending)
		return nil
	}
	if err := rewound.Rewind(); err != nil {
		return fmt.Errorf("rewind source: %w", err)
	}

	chunkIdx := -1
	for {
		records, err := s.readChunkQuiet(source)
		if err != nil {
			return fmt.Errorf("re-read source: %w", err)
		}
		if len(records) == 0 {
			break
		}
		chunkIdx++

		r.mu.Lock()
		isDeferred := r.deferred[chunkIdx]
		r.mu.Unlock()
		if !isDeferred {
			continue
		}

		if err := s.processChunk(ctx, records, r); err != nil {
			if errors.Is(err, domain.ErrFatalConfig) {
				return err
			}
			r.warnf("Chunk %d failed again: %v", chunkIdx, err)
			continue
		}

		r.mu.Lock()
		delete(r.deferred, chunkIdx)
		r.completed[chunkIdx] = true
		r.mu.Unlock()
		if err := s.checkpoints.Save(ctx, r.checkpoint(started)); err != nil {
			logger.Warn("Checkpoint save failed: %v", err)
		}
	}
	return nil
}

// readChunkQuiet reads a chunk without touching the docsIn counter
// (used by the retry pass, which re-reads records already counted).
func (s *IngestService) readChunkQuiet(source driving.RecordSource) ([]*domain.RawRecord, error) {
	records := make([]*domain.RawRecord, 0, s.cfg.ChunkSize)
	for len(records) < s.cfg.ChunkSize {
		rec, err := source.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

// finishRun assembles the report and clears the checkpoint on a clean
// completion. A fatal stop keeps the checkpoint for resume-after-fix.
func (s *IngestService) finishRun(
	ctx context.Context, r *run, started time.Time, fatal bool,
) *domain.IngestReport {
	r.mu.Lock()
	deferred := make([]int, 0, len(r.deferred))
	for idx := range r.deferred {
		deferred = append(deferred, idx)
	}
	sort.Ints(deferred)
	report := &domain.IngestReport{
		SourceID:       r.sourceID,
		DocsIn:         r.docsIn,
		DocsWritten:    r.docsWritten,
		StepsWritten:   r.stepsWritten,
		Warnings:       r.warnings,
		Errors:         r.errs,
		DeferredChunks: deferred,
		Duration:       time.Since(started),
	}
	r.mu.Unlock()

	if !fatal && len(deferred) == 0 {
		if err := s.checkpoints.Delete(ctx, r.sourceID); err != nil &&
			!errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Checkpoint delete failed: %v", err)
		}
	}

	logger.Info("Ingestion finished: %d in, %d docs written, %d steps written, %d errors",
		report.DocsIn, report.DocsWritten, report.StepsWritten, report.Errors)
	return report
}

// noteSuccess and noteThrottle implement the dispatcher backpressure:
// a throttled chunk introduces a delay before subsequent dispatches,
// cleared after restoreAfter consecutive successes.
func (r *run) noteSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes++
	if r.successes >= restoreAfter {
		r.delay = 0
	}
}

func (r *run) noteThrottle(err error) {
	if !errors.Is(err, domain.ErrTransient) && !errors.Is(err, domain.ErrRateLimited) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = 0
	if r.delay == 0 {
		r.delay = r.baseDelay
	} else if r.delay < 30*time.Second {
		r.delay *= 2
	}
}
