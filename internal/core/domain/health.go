package domain

import "time"

// HealthSnapshot is the stable shape returned by the check_health tool.
type HealthSnapshot struct {
	// StoreReachable is true when the vector store answered the probe.
	StoreReachable bool `json:"store_reachable"`

	// DocCount and StepCount are the point counts per tier.
	DocCount  int64 `json:"doc_count"`
	StepCount int64 `json:"step_count"`

	// EmbedProviderOK is true when the embedding provider answered a
	// lightweight probe.
	EmbedProviderOK bool `json:"embed_provider_ok"`

	// EmbedModel names the configured embedding model.
	EmbedModel string `json:"embed_model,omitempty"`

	// LastSuccessfulEmbedAt is the time of the most recent successful
	// embedding call, zero if none has happened yet.
	LastSuccessfulEmbedAt time.Time `json:"last_successful_embed_at,omitzero"`

	// EmbedStats carries the provider counters.
	EmbedStats *EmbedStats `json:"embed_stats,omitempty"`

	// Version of the service.
	Version string `json:"version"`
}

// EmbedStats are the counters exposed by the embedding provider.
type EmbedStats struct {
	// Requests counts batch calls issued to the backend.
	Requests int64 `json:"requests"`

	// TokensConsumed is reported when the backend returns usage.
	TokensConsumed int64 `json:"tokens_consumed"`

	// TransientFailures, InputFailures and ConfigFailures count failed
	// batch calls by class.
	TransientFailures int64 `json:"transient_failures"`
	InputFailures     int64 `json:"input_failures"`
	ConfigFailures    int64 `json:"config_failures"`
}
