// Package mcp provides the MCP (Model Context Protocol) server adapter
// for Testseek. It exposes the retrieval and ingestion core to AI
// assistants through five tools with stable input and output shapes.
package mcp

import (
	"encoding/json"
	"errors"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// Required-port errors.
var (
	ErrMissingSearchService = errors.New("mcp: search service is required")
	ErrMissingHealthService = errors.New("mcp: health service is required")
)

// toolError is the stable error envelope every tool returns on failure.
type toolError struct {
	Kind         domain.ErrorKind `json:"kind"`
	Message      string           `json:"message"`
	RetryAfterMS int64            `json:"retry_after_ms,omitempty"`
}

func (e *toolError) Error() string {
	data, err := json.Marshal(e)
	if err != nil {
		return e.Message
	}
	return string(data)
}

// mapError wraps a core error into the envelope. Internal errors are
// redacted; every other kind keeps its message, which the core already
// writes for users.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	kind := domain.Kind(err)
	message := err.Error()
	if kind == domain.KindInternal {
		message = "internal error"
	}

	envelope := &toolError{Kind: kind, Message: message}
	var rateErr *domain.RateLimitError
	if errors.As(err, &rateErr) {
		envelope.RetryAfterMS = rateErr.RetryAfter.Milliseconds()
	}
	return envelope
}
