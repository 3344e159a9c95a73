// Command testseek is the semantic test-retrieval service: it ingests
// test-case corpora into a two-tier vector index and serves retrieval
// to AI assistants over MCP and to humans through the CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/testseek/internal/adapters/driven/checkpoint/sqlite"
	configfile "github.com/custodia-labs/testseek/internal/adapters/driven/config/file"
	"github.com/custodia-labs/testseek/internal/adapters/driven/embedding/batch"
	"github.com/custodia-labs/testseek/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/testseek/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/testseek/internal/adapters/driven/store/qdrant"
	"github.com/custodia-labs/testseek/internal/adapters/driving/cli"
	mcpserver "github.com/custodia-labs/testseek/internal/adapters/driving/mcp"
	"github.com/custodia-labs/testseek/internal/connectors/jsonfile"
	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driving"
	"github.com/custodia-labs/testseek/internal/core/services"
	"github.com/custodia-labs/testseek/internal/logger"
	"github.com/custodia-labs/testseek/internal/normalisers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "testseek: %v\n", err)
		os.Exit(1)
	}
}

//nolint:gocyclo // Startup wiring is necessarily sequential.
func run() error {
	// Optional .env for local development; real deployments set the
	// environment directly.
	godotenv.Load() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settingsStore, err := configfile.NewSettingsStore(os.Getenv("TESTSEEK_CONFIG_DIR"))
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer settingsStore.Close()

	settings := settingsStore.Settings()
	applyEnvOverrides(&settings)
	if err := settings.Validate(); err != nil {
		return err
	}

	embedder, err := buildEmbedder(settings)
	if err != nil {
		return err
	}
	defer embedder.Close()

	store, err := qdrant.NewStore(qdrant.Config{Addr: settings.StoreDSN})
	if err != nil {
		return err
	}
	defer store.Close()

	if err := ensureSchema(ctx, store, embedder, settings); err != nil {
		return err
	}

	checkpoints, err := sqlite.NewStore(settings.CheckpointPath)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer checkpoints.Close()

	retrieval := services.NewRetrievalService(store, embedder, settings.Weights(), settings.Overfetch)
	if err := settingsStore.Watch(func(updated domain.Settings) {
		applyEnvOverrides(&updated)
		if err := retrieval.SetWeights(updated.Weights()); err != nil {
			logger.Warn("Ignoring reloaded fusion weights: %v", err)
		}
	}); err != nil {
		logger.Warn("Config watch unavailable: %v", err)
	}

	ingest := services.NewIngestService(store, embedder, checkpoints, normalisers.NewDefaultRegistry(),
		services.IngestConfig{
			ChunkSize:    settings.BatchIngest,
			Parallel:     settings.ParallelIngest,
			ChunkTimeout: settings.IngestChunkTimeout,
		})

	health := services.NewHealthService(store, embedder, cli.Version)

	limiter := services.NewToolLimiter(map[string]int{
		"search_tests":       settings.SearchRatePerMin,
		"find_similar_tests": settings.SearchRatePerMin,
		"get_test_by_key":    settings.SearchRatePerMin,
		"ingest_tests":       settings.IngestRatePerMin,
	})

	search := withSearchTimeout(retrieval, settings.SearchTimeout)
	openSource := func(path string) (driving.RecordSource, error) {
		return jsonfile.NewSource(path)
	}

	cli.SetServices(cli.Services{
		Search:     search,
		Ingest:     ingest,
		Health:     health,
		OpenSource: openSource,
		MCPPorts: &mcpserver.Ports{
			Search:     search,
			Ingest:     ingest,
			Health:     health,
			OpenSource: openSource,
			Limiter:    limiter,
		},
	})

	return cli.Execute(ctx)
}

// buildEmbedder constructs the configured provider behind the batcher.
func buildEmbedder(settings domain.Settings) (*batch.Provider, error) {
	batchCfg := batch.Config{
		BatchSize:   settings.BatchEmbed,
		Parallelism: settings.ParallelEmbed,
		Dim:         settings.EmbedDim,
	}

	switch settings.EmbedProvider {
	case "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			BaseURL:    os.Getenv("OPENAI_BASE_URL"),
			Model:      settings.EmbedModel,
			Dimensions: settings.EmbedDim,
		})
		if err != nil {
			return nil, err
		}
		return batch.NewProvider(client, batchCfg), nil

	case "ollama":
		client := ollama.NewClient(ollama.Config{
			BaseURL: os.Getenv("OLLAMA_BASE_URL"),
			Model:   settings.EmbedModel,
		})
		return batch.NewProvider(client, batchCfg), nil

	default:
		return nil, fmt.Errorf("%w: unknown embed provider %q", domain.ErrFatalConfig, settings.EmbedProvider)
	}
}

// ensureSchema validates or creates the store collections. With no
// asserted dimension the provider is probed once to discover it; when
// neither works, or the store check fails with a non-fatal error, the
// schema check is skipped and startup continues without it.
func ensureSchema(ctx context.Context, store *qdrant.Store, embedder *batch.Provider, settings domain.Settings) error {
	dim := settings.EmbedDim
	if dim == 0 {
		if err := embedder.Ping(ctx); err != nil {
			logger.Warn("Embedding probe failed, schema check skipped: %v", err)
			return nil
		}
		dim = embedder.Dimensions()
	}
	if dim == 0 {
		return nil
	}

	err := store.EnsureSchema(ctx, dim)
	if err == nil {
		return nil
	}
	if domain.Kind(err) == domain.KindFatalConfig {
		return err
	}
	logger.Warn("Store schema check failed, continuing: %v", err)
	return nil
}

// timeoutSearch bounds every retrieval operation with the configured
// search deadline.
type timeoutSearch struct {
	driving.SearchService
	timeout time.Duration
}

func withSearchTimeout(inner driving.SearchService, timeout time.Duration) driving.SearchService {
	if timeout <= 0 {
		return inner
	}
	return &timeoutSearch{SearchService: inner, timeout: timeout}
}

func (s *timeoutSearch) Search(
	ctx context.Context, query string, opts domain.SearchOptions,
) (*domain.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.SearchService.Search(ctx, query, opts)
}

func (s *timeoutSearch) FindSimilar(
	ctx context.Context, uid string, opts domain.SearchOptions,
) (*domain.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.SearchService.FindSimilar(ctx, uid, opts)
}

// applyEnvOverrides layers environment variables over the file
// settings.
func applyEnvOverrides(s *domain.Settings) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("EMBED_PROVIDER", &s.EmbedProvider)
	setString("EMBED_MODEL", &s.EmbedModel)
	setInt("EMBED_DIM", &s.EmbedDim)
	setString("STORE_DSN", &s.StoreDSN)
	setFloat("W_DOC", &s.WDoc)
	setFloat("W_STEP", &s.WStep)
	setInt("OVERFETCH", &s.Overfetch)
	setInt("B_INGEST", &s.BatchIngest)
	setInt("P_INGEST", &s.ParallelIngest)
	setInt("B_EMBED", &s.BatchEmbed)
	setInt("P_EMBED", &s.ParallelEmbed)
	setString("CHECKPOINT_PATH", &s.CheckpointPath)
	setDuration("SEARCH_TIMEOUT", &s.SearchTimeout)
	setDuration("INGEST_CHUNK_TIMEOUT", &s.IngestChunkTimeout)
	setDuration("SHUTDOWN_GRACE", &s.ShutdownGrace)
}
