// Package openai provides a raw embedding client for the OpenAI API,
// used behind the batching provider.
package openai

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
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the OpenAI embedding client.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	// Can be changed for Azure OpenAI or compatible APIs.
	BaseURL string

	// Model is the embedding model to use (default: text-embedding-3-small).
	Model string

	// Timeout is the request timeout (default: 60s).
	Timeout time.Duration

	// Dimensions requests a reduced dimension from the API.
	// Only applicable to text-embedding-3-* models.
	Dimensions int
}

// Client calls the OpenAI embeddings endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
}

// embeddingRequest is the OpenAI API request format.
type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// embeddingResponse is the OpenAI API response format.
type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a new OpenAI embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai: API key is required", domain.ErrFatalConfig)
	}
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
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// EmbedBatch embeds one batch of texts, order-preserving.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	reqBody := embeddingRequest{
		Model: c.model,
		Input: texts,
	}
	// Only text-embedding-3-* models accept a dimensions override.
	if c.dimensions > 0 &&
		(c.model == "text-embedding-3-small" || c.model == "text-embedding-3-large") {
		reqBody.Dimensions = c.dimensions
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: request failed: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: read response: %w: %w", domain.ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, c.classifyHTTPError(resp.StatusCode, respBody)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, 0, fmt.Errorf("openai: parse response: %w: %w", domain.ErrTransient, err)
	}
	if parsed.Error != nil {
		return nil, 0, fmt.Errorf("openai: API error: %w: %s", domain.ErrTransient, parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, 0, fmt.Errorf("openai: got %d embeddings for %d inputs: %w",
			len(parsed.Data), len(texts), domain.ErrTransient)
	}

	// The API may return entries out of order; place them by index.
	out := make([][]float32, len(texts))
	for _, entry := range parsed.Data {
		if entry.Index < 0 || entry.Index >= len(texts) {
			return nil, 0, fmt.Errorf("openai: embedding index %d out of range: %w",
				entry.Index, domain.ErrTransient)
		}
		vec := make([]float32, len(entry.Embedding))
		for i, v := range entry.Embedding {
			vec[i] = float32(v)
		}
		out[entry.Index] = vec
	}

	return out, parsed.Usage.TotalTokens, nil
}

// classifyHTTPError maps OpenAI HTTP failures onto the domain kinds.
func (c *Client) classifyHTTPError(status int, body []byte) error {
	var parsed embeddingResponse
	message := ""
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		message = parsed.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("openai: authentication failed (status %d): %w: %s",
			status, domain.ErrFatalConfig, message)
	case status == http.StatusBadRequest:
		// The API does not report which input was rejected.
		return &domain.InputError{Index: -1, Reason: fmt.Sprintf("openai rejected the batch: %s", message)}
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("openai: rate limited: %w: %s", domain.ErrTransient, message)
	case status >= 500:
		return fmt.Errorf("openai: server error (status %d): %w: %s", status, domain.ErrTransient, message)
	default:
		return fmt.Errorf("openai: unexpected status %d: %w: %s", status, domain.ErrInternal, message)
	}
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// Ping validates the API key and connectivity with a one-token request.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.EmbedBatch(ctx, []string{"ping"})
	return err
}

// Close releases resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
