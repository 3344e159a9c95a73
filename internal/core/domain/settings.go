package domain

import (
	"fmt"
	"time"
)

// Settings holds every recognised configuration option. Values come from
// the TOML config file with environment overrides applied on top; the
// zero value is completed by ApplyDefaults.
type Settings struct {
	// EmbedProvider selects the embedding backend ("openai" or "ollama").
	EmbedProvider string `toml:"embed_provider"`

	// EmbedModel is the provider-specific model identifier.
	EmbedModel string `toml:"embed_model"`

	// EmbedDim is the asserted embedding dimension. A store or provider
	// reporting a different dimension is a fatal configuration error.
	EmbedDim int `toml:"embed_dim"`

	// StoreDSN is the vector store address (host:port for Qdrant gRPC).
	StoreDSN string `toml:"store_dsn"`

	// WDoc and WStep are the score-fusion weights.
	WDoc  float64 `toml:"w_doc"`
	WStep float64 `toml:"w_step"`

	// Overfetch is the step-tier over-request factor.
	Overfetch int `toml:"overfetch"`

	// BatchIngest is the ingestion chunk size.
	BatchIngest int `toml:"b_ingest"`

	// ParallelIngest bounds concurrent chunk embedding.
	ParallelIngest int `toml:"p_ingest"`

	// BatchEmbed is the embedding sub-batch size.
	BatchEmbed int `toml:"b_embed"`

	// ParallelEmbed bounds in-flight embedding batches.
	ParallelEmbed int `toml:"p_embed"`

	// CheckpointPath is the durable location of the ingestion checkpoint.
	CheckpointPath string `toml:"checkpoint_path"`

	// SearchTimeout is the per-search deadline.
	SearchTimeout time.Duration `toml:"search_timeout"`

	// IngestChunkTimeout is the per-chunk ingestion deadline.
	IngestChunkTimeout time.Duration `toml:"ingest_chunk_timeout"`

	// ShutdownGrace holds the shutdown_grace / SHUTDOWN_GRACE value. The
	// serve command does not read it: its HTTP shutdown window comes from
	// its own --shutdown-grace flag (default 30s).
	ShutdownGrace time.Duration `toml:"shutdown_grace"`

	// SearchRatePerMin and IngestRatePerMin are the tool QPS caps.
	SearchRatePerMin int `toml:"search_rate_per_min"`
	IngestRatePerMin int `toml:"ingest_rate_per_min"`
}

// ApplyDefaults fills every unset field with its default.
func (s *Settings) ApplyDefaults() {
	if s.EmbedProvider == "" {
		s.EmbedProvider = "openai"
	}
	if s.StoreDSN == "" {
		s.StoreDSN = "localhost:6334"
	}
	if s.WDoc == 0 && s.WStep == 0 {
		s.WDoc = DefaultFusionWeights.Doc
		s.WStep = DefaultFusionWeights.Step
	}
	if s.Overfetch == 0 {
		s.Overfetch = DefaultOverfetch
	}
	if s.BatchIngest == 0 {
		s.BatchIngest = 500
	}
	if s.ParallelIngest == 0 {
		s.ParallelIngest = 2
	}
	if s.BatchEmbed == 0 {
		s.BatchEmbed = 25
	}
	if s.ParallelEmbed == 0 {
		s.ParallelEmbed = 4
	}
	if s.SearchTimeout == 0 {
		s.SearchTimeout = 10 * time.Second
	}
	if s.IngestChunkTimeout == 0 {
		s.IngestChunkTimeout = 2 * time.Minute
	}
	if s.ShutdownGrace == 0 {
		s.ShutdownGrace = 30 * time.Second
	}
	if s.SearchRatePerMin == 0 {
		s.SearchRatePerMin = 60
	}
	if s.IngestRatePerMin == 0 {
		s.IngestRatePerMin = 5
	}
}

// Validate rejects configurations the service cannot run with.
func (s *Settings) Validate() error {
	if err := (FusionWeights{Doc: s.WDoc, Step: s.WStep}).Validate(); err != nil {
		return err
	}
	if s.Overfetch < 1 {
		return fmt.Errorf("%w: overfetch must be >= 1", ErrFatalConfig)
	}
	if s.BatchIngest < 1 || s.BatchEmbed < 1 {
		return fmt.Errorf("%w: batch sizes must be >= 1", ErrFatalConfig)
	}
	if s.ParallelIngest < 1 || s.ParallelEmbed < 1 {
		return fmt.Errorf("%w: parallelism must be >= 1", ErrFatalConfig)
	}
	if s.EmbedDim < 0 {
		return fmt.Errorf("%w: embed_dim must be positive", ErrFatalConfig)
	}
	return nil
}

// Weights returns the configured fusion weights.
func (s *Settings) Weights() FusionWeights {
	return FusionWeights{Doc: s.WDoc, Step: s.WStep}
}
