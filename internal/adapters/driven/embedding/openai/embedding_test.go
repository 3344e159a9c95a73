package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, domain.ErrFatalConfig)
}

func TestEmbedBatchOrdersByIndex(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		// Return entries out of order; the client must place by index.
		resp := map[string]any{
			"data": []map[string]any{
				{"embedding": []float64{0, 1}, "index": 1},
				{"embedding": []float64{1, 0}, "index": 0},
			},
			"usage": map[string]any{"total_tokens": 7},
		}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	})

	vecs, tokens, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(1), vecs[1][1])
	assert.Equal(t, 7, tokens)
}

func TestEmbedBatchErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorised is fatal",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrFatalConfig)
			},
		},
		{
			name:   "bad request is invalid input",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				var inputErr *domain.InputError
				require.ErrorAs(t, err, &inputErr)
				assert.Equal(t, -1, inputErr.Index)
			},
		},
		{
			name:   "rate limit is transient",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrTransient)
			},
		},
		{
			name:   "server error is transient",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrTransient)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`)) //nolint:errcheck
			})

			_, _, err := client.EmbedBatch(context.Background(), []string{"a"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":[{"embedding":[1],"index":0}]}`)) //nolint:errcheck
	})

	_, _, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrTransient)
}
