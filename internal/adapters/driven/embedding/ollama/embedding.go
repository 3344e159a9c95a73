// Package ollama provides a raw embedding client for a local Ollama
// instance, used behind the batching provider.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/testseek/internal/adapters/driven/embedding/batch"
	"github.com/custodia-labs/testseek/internal/core/domain"
)

// Ensure Client implements the interface.
var _ batch.Client = (*Client)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "nomic-embed-text"
	DefaultTimeout = 30 * time.Second
)

// Config holds configuration for the Ollama embedding client.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model to use (default: nomic-embed-text).
	Model string

	// Timeout is the request timeout (default: 30s).
	Timeout time.Duration
}

// Client calls the Ollama embed endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// embedRequest is the Ollama batch API request format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the Ollama batch API response format.
type embedResponse struct {
	Embeddings      [][]float64 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	Error           string      `json:"error,omitempty"`
}

// NewClient creates a new Ollama embedding client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
	}
}

// EmbedBatch embeds one batch of texts, order-preserving.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, 0, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("ollama: request failed: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("ollama: read response: %w: %w", domain.ErrTransient, err)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, 0, fmt.Errorf("ollama: parse response: %w: %w", domain.ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// An unknown model never fixes itself by retrying.
		return nil, 0, fmt.Errorf("ollama: model %q not available: %w: %s",
			c.model, domain.ErrFatalConfig, parsed.Error)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, 0, &domain.InputError{Index: -1, Reason: fmt.Sprintf("ollama rejected the batch: %s", parsed.Error)}
	case resp.StatusCode != http.StatusOK:
		return nil, 0, fmt.Errorf("ollama: status %d: %w: %s", resp.StatusCode, domain.ErrTransient, parsed.Error)
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, 0, fmt.Errorf("ollama: got %d embeddings for %d inputs: %w",
			len(parsed.Embeddings), len(texts), domain.ErrTransient)
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, emb := range parsed.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		out[i] = vec
	}

	return out, parsed.PromptEvalCount, nil
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// Ping validates the instance is reachable with a one-token request.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.EmbedBatch(ctx, []string{"ping"})
	return err
}

// Close releases resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
