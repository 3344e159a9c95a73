package batch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// scriptedClient embeds each text to a vector derived from its numeric
// value and fails on command.
type scriptedClient struct {
	mu          sync.Mutex
	calls       int
	maxBatch    int
	failures    []error          // consumed one per call before succeeding
	failOnFirst map[string]error // keyed by the batch's first text, fires once
	dim         int
}

func (c *scriptedClient) EmbedBatch(_ context.Context, texts []string) ([][]float32, int, error) {
	c.mu.Lock()
	c.calls++
	if len(texts) > c.maxBatch {
		c.maxBatch = len(texts)
	}
	var err error
	if len(c.failures) > 0 {
		err = c.failures[0]
		c.failures = c.failures[1:]
	}
	if err == nil && len(texts) > 0 {
		if scripted, ok := c.failOnFirst[texts[0]]; ok {
			err = scripted
			delete(c.failOnFirst, texts[0])
		}
	}
	c.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}

	dim := c.dim
	if dim == 0 {
		dim = 4
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		n, _ := strconv.Atoi(text)
		vec := make([]float32, dim)
		vec[0] = float32(n)
		out[i] = vec
	}
	return out, len(texts), nil
}

func (c *scriptedClient) ModelName() string          { return "scripted" }
func (c *scriptedClient) Ping(context.Context) error { return nil }
func (c *scriptedClient) Close() error               { return nil }

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i + 1)
	}
	return out
}

func TestEmbedPreservesOrderAcrossBatches(t *testing.T) {
	client := &scriptedClient{}
	p := NewProvider(client, Config{BatchSize: 3, Parallelism: 4})

	vecs, err := p.Embed(context.Background(), texts(10))
	require.NoError(t, err)
	require.Len(t, vecs, 10)

	for i, vec := range vecs {
		// Each vector was (i+1, 0, 0, 0) before normalisation, so the
		// unit vector is always (1, 0, 0, 0).
		require.Len(t, vec, 4, "index %d", i)
		assert.InDelta(t, 1.0, float64(vec[0]), 1e-6, "index %d", i)
	}
	assert.Equal(t, 4, client.calls)
	assert.LessOrEqual(t, client.maxBatch, 3)
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	client := &scriptedClient{failures: []error{
		fmt.Errorf("http 503: %w", domain.ErrTransient),
		fmt.Errorf("timeout: %w", domain.ErrTransient),
	}}
	p := NewProvider(client, Config{BatchSize: 10, BaseBackoff: time.Millisecond})

	vecs, err := p.Embed(context.Background(), texts(2))
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 3, client.calls)

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Requests)
	assert.Equal(t, int64(2), stats.TransientFailures)
}

func TestEmbedGivesUpAfterMaxAttempts(t *testing.T) {
	failures := make([]error, 5)
	for i := range failures {
		failures[i] = fmt.Errorf("http 500: %w", domain.ErrTransient)
	}
	client := &scriptedClient{failures: failures}
	p := NewProvider(client, Config{MaxAttempts: 3, BaseBackoff: time.Millisecond})

	_, err := p.Embed(context.Background(), texts(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 3, client.calls)
}

func TestEmbedDoesNotRetryInputErrors(t *testing.T) {
	client := &scriptedClient{failOnFirst: map[string]error{
		"3": &domain.InputError{Index: 1, Reason: "input too long"},
	}}
	p := NewProvider(client, Config{BatchSize: 2, Parallelism: 1, BaseBackoff: time.Millisecond})

	// Texts 1..4 split into batches [1,2] and [3,4]; the second batch is
	// rejected at local index 1, which re-tags to global index 3.
	_, err := p.Embed(context.Background(), texts(4))
	require.Error(t, err)

	var inputErr *domain.InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, 3, inputErr.Index)
	assert.Equal(t, int64(1), p.Stats().InputFailures)
}

func TestEmbedDoesNotRetryFatalConfig(t *testing.T) {
	client := &scriptedClient{failures: []error{
		fmt.Errorf("bad api key: %w", domain.ErrFatalConfig),
	}}
	p := NewProvider(client, Config{BaseBackoff: time.Millisecond})

	_, err := p.Embed(context.Background(), texts(1))
	assert.ErrorIs(t, err, domain.ErrFatalConfig)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, int64(1), p.Stats().ConfigFailures)
}

func TestDimensionDiscoveryAndMismatch(t *testing.T) {
	client := &scriptedClient{dim: 4}
	p := NewProvider(client, Config{})
	assert.Equal(t, 0, p.Dimensions())

	_, err := p.Embed(context.Background(), texts(1))
	require.NoError(t, err)
	assert.Equal(t, 4, p.Dimensions())

	// The backend changing dimension mid-flight is fatal.
	client.mu.Lock()
	client.dim = 8
	client.mu.Unlock()
	_, err = p.Embed(context.Background(), texts(1))
	assert.ErrorIs(t, err, domain.ErrFatalConfig)
}

func TestConfiguredDimensionAsserted(t *testing.T) {
	client := &scriptedClient{dim: 4}
	p := NewProvider(client, Config{Dim: 8})

	_, err := p.Embed(context.Background(), texts(1))
	assert.ErrorIs(t, err, domain.ErrFatalConfig)
}

func TestEmbedEmptyInput(t *testing.T) {
	p := NewProvider(&scriptedClient{}, Config{})
	vecs, err := p.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestZeroVectorPassesThrough(t *testing.T) {
	client := &scriptedClient{}
	p := NewProvider(client, Config{})

	// Text "0" embeds to the zero vector, which stays unnormalised.
	vecs, err := p.Embed(context.Background(), []string{"0"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	for _, v := range vecs[0] {
		assert.Zero(t, v)
	}
}
