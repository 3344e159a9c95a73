// Package batch wraps a raw embedding client with the behaviour every
// provider shares: sub-batching, bounded in-flight parallelism, retry
// with exponential backoff, failure classification counters, vector
// normalisation and dimension discovery.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
	"github.com/custodia-labs/testseek/internal/logger"
)

// Ensure Provider implements the interface.
var _ driven.EmbeddingProvider = (*Provider)(nil)

// Client is the raw per-backend embedding call. Implementations return
// errors already classified onto the domain kinds: transient failures
// wrap ErrTransient, rejected inputs are *domain.InputError with the
// index local to the submitted batch, configuration failures wrap
// ErrFatalConfig.
type Client interface {
	// EmbedBatch embeds one batch, order-preserving. tokens is the
	// backend-reported usage, 0 when unknown.
	EmbedBatch(ctx context.Context, texts []string) (vectors [][]float32, tokens int, err error)

	// ModelName returns the backend model identifier.
	ModelName() string

	// Ping validates connectivity with a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Default tuning values.
const (
	DefaultBatchSize   = 25
	DefaultParallelism = 4
	DefaultMaxAttempts = 4
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultBackoffCap  = 8 * time.Second
)

// Config tunes the batching layer.
type Config struct {
	// BatchSize is the number of texts per backend call (default 25).
	BatchSize int

	// Parallelism bounds concurrent in-flight batches (default 4).
	Parallelism int

	// MaxAttempts bounds tries per batch, first attempt included.
	MaxAttempts int

	// BaseBackoff and BackoffCap shape the exponential retry delay.
	BaseBackoff time.Duration
	BackoffCap  time.Duration

	// Dim asserts the embedding dimension. Zero discovers it from the
	// first successful call; a non-zero mismatch is fatal.
	Dim int
}

func (c *Config) applyDefaults() {
	if c.BatchSize < 1 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Parallelism < 1 {
		c.Parallelism = DefaultParallelism
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
}

// Provider is the batching embedding provider.
type Provider struct {
	client Client
	cfg    Config

	dim atomic.Int64

	requests          atomic.Int64
	tokens            atomic.Int64
	transientFailures atomic.Int64
	inputFailures     atomic.Int64
	configFailures    atomic.Int64
}

// NewProvider wraps a raw client.
func NewProvider(client Client, cfg Config) *Provider {
	cfg.applyDefaults()
	p := &Provider{client: client, cfg: cfg}
	p.dim.Store(int64(cfg.Dim))
	return p
}

// Embed embeds all texts, preserving input order. Batches are dispatched
// concurrently up to the configured parallelism; each batch retries
// transient failures with exponential backoff.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	type batchResult struct {
		offset int
		vecs   [][]float32
		err    error
	}

	batches := 0
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		batches++
	}
	results := make(chan batchResult, batches)
	sem := make(chan struct{}, p.cfg.Parallelism)

	var wg sync.WaitGroup
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		wg.Add(1)
		go func(offset int, chunk []string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			vecs, err := p.embedBatchWithRetry(ctx, chunk)
			results <- batchResult{offset: offset, vecs: vecs, err: err}
		}(start, texts[start:end])
	}
	wg.Wait()
	close(results)

	out := make([][]float32, len(texts))
	var firstErr error
	for res := range results {
		if res.err != nil {
			// An input rejection is re-tagged with the global index so
			// callers can skip exactly the offending text.
			var inputErr *domain.InputError
			if errors.As(res.err, &inputErr) && inputErr.Index >= 0 {
				res.err = &domain.InputError{Index: res.offset + inputErr.Index, Reason: inputErr.Reason}
			}
			if firstErr == nil || priority(res.err) > priority(firstErr) {
				firstErr = res.err
			}
			continue
		}
		for i, vec := range res.vecs {
			out[res.offset+i] = vec
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// priority orders concurrent batch errors so the most actionable one
// surfaces: fatal > invalid input > everything else.
func priority(err error) int {
	switch {
	case errors.Is(err, domain.ErrFatalConfig):
		return 2
	case errors.Is(err, domain.ErrInvalidInput):
		return 1
	default:
		return 0
	}
}

func (p *Provider) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := p.cfg.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		p.requests.Add(1)
		vecs, tokens, err := p.client.EmbedBatch(ctx, texts)
		if err == nil {
			p.tokens.Add(int64(tokens))
			return p.finishBatch(texts, vecs)
		}

		switch {
		case errors.Is(err, domain.ErrFatalConfig):
			p.configFailures.Add(1)
			return nil, err
		case errors.Is(err, domain.ErrInvalidInput):
			p.inputFailures.Add(1)
			return nil, err
		default:
			p.transientFailures.Add(1)
			lastErr = err
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		logger.Debug("Embedding batch failed (attempt %d/%d), retrying in %s: %v",
			attempt, p.cfg.MaxAttempts, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > p.cfg.BackoffCap {
			backoff = p.cfg.BackoffCap
		}
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", p.cfg.MaxAttempts, lastErr)
}

// finishBatch validates the shape of a successful response, pins the
// dimension on first success, and normalises every vector to unit
// length. A zero vector is passed through unchanged.
func (p *Provider) finishBatch(texts []string, vecs [][]float32) ([][]float32, error) {
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: backend returned %d vectors for %d texts",
			domain.ErrTransient, len(vecs), len(texts))
	}
	for _, vec := range vecs {
		if err := p.checkDim(len(vec)); err != nil {
			p.configFailures.Add(1)
			return nil, err
		}
		normalise(vec)
	}
	return vecs, nil
}

func (p *Provider) checkDim(got int) error {
	for {
		known := p.dim.Load()
		if known == 0 {
			if p.dim.CompareAndSwap(0, int64(got)) {
				logger.Info("Embedding dimension discovered: %d", got)
				return nil
			}
			continue
		}
		if int(known) != got {
			return fmt.Errorf("%w: embedding dimension %d, expected %d", domain.ErrFatalConfig, got, known)
		}
		return nil
	}
}

func normalise(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}

// Dimensions returns the asserted or discovered embedding dimension.
func (p *Provider) Dimensions() int {
	return int(p.dim.Load())
}

// ModelName returns the backend model identifier.
func (p *Provider) ModelName() string {
	return p.client.ModelName()
}

// Stats returns the provider counters.
func (p *Provider) Stats() domain.EmbedStats {
	return domain.EmbedStats{
		Requests:          p.requests.Load(),
		TokensConsumed:    p.tokens.Load(),
		TransientFailures: p.transientFailures.Load(),
		InputFailures:     p.inputFailures.Load(),
		ConfigFailures:    p.configFailures.Load(),
	}
}

// Ping validates the backend is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}
