package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibimina/kbengine/db"
	"github.com/ibimina/kbengine/internal/agent"
	"github.com/ibimina/kbengine/internal/config"
	"github.com/ibimina/kbengine/internal/embed"
	"github.com/ibimina/kbengine/internal/ingest"
	"github.com/ibimina/kbengine/internal/kb"
	"github.com/ibimina/kbengine/internal/log"
	"github.com/ibimina/kbengine/internal/resolver"
)

// defaultGoogleAIModel is the embedding model used when the googleai
// provider is selected without an explicit model.
const defaultGoogleAIModel = "text-embedding-004"

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	store, err := provideStore(ctx, cfg, a, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store

	embedder, err := provideEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Embedder = embedder

	pipeline, err := ingest.New(store, embedder, logger, ingest.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		BatchSize:    cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ingestion pipeline: %w", err)
	}
	a.Pipeline = pipeline

	res, err := resolver.New(store, embedder, logger, resolver.Options{
		MatchCount:      cfg.MatchCount,
		MatchThreshold:  cfg.MatchThreshold,
		FallbackLimit:   cfg.FallbackLimit,
		FallbackOnEmpty: cfg.FallbackOnEmpty,
	})
	if err != nil {
		return nil, fmt.Errorf("creating resolver: %w", err)
	}
	a.Resolver = res

	facade, err := agent.New(res, logger)
	if err != nil {
		return nil, fmt.Errorf("creating agent facade: %w", err)
	}
	a.Facade = facade

	return a, nil
}

// provideStore creates the configured knowledge store, running migrations
// and opening a connection pool for the postgres backend.
func provideStore(ctx context.Context, cfg *config.Config, a *App, logger log.Logger) (kb.Store, error) {
	if cfg.StorageBackend == config.BackendMemory {
		return kb.NewMemoryStore(), nil
	}

	pool, cleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.cleanups = append(a.cleanups, func() error {
		cleanup()
		return nil
	})

	store, err := kb.NewPostgresStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating postgres store: %w", err)
	}
	return store, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}

	return pool, cleanup, nil
}

// provideEmbedder creates the configured embedding provider, wrapped with a
// rate limiter when embed_rate is set.
func provideEmbedder(ctx context.Context, cfg *config.Config) (kb.Embedder, error) {
	var (
		embedder kb.Embedder
		err      error
	)

	switch cfg.Provider {
	case config.ProviderOpenAI:
		model := cfg.EmbeddingModel
		if model == "" {
			model = embed.DefaultOpenAIModel
		}
		embedder, err = embed.NewOpenAIProvider(cfg.OpenAIAPIKey, model)
		if err != nil {
			return nil, fmt.Errorf("creating openai embedder: %w", err)
		}

	case config.ProviderGoogleAI:
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		model := cfg.EmbeddingModel
		if model == "" {
			model = defaultGoogleAIModel
		}
		embedder, err = embed.NewGenkitProvider(googlegenai.GoogleAIEmbedder(g, model))
		if err != nil {
			return nil, fmt.Errorf("creating googleai embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	return embed.NewLimitedProvider(embedder, cfg.EmbedRate, cfg.EmbedBurst), nil
}
