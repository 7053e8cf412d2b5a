package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/postgresql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/redis/go-redis/v9"

	"github.com/taxpilot/taxpilot/db"
	"github.com/taxpilot/taxpilot/internal/agent"
	"github.com/taxpilot/taxpilot/internal/cache"
	"github.com/taxpilot/taxpilot/internal/config"
	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/observability"
	"github.com/taxpilot/taxpilot/internal/pipeline"
	"github.com/taxpilot/taxpilot/internal/rag"
	"github.com/taxpilot/taxpilot/internal/store"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before genkit.Init so the first spans land.
	a.otelCleanup = observability.SetupTracing(ctx, cfg.Telemetry, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	mongoClient, err := store.Connect(ctx, cfg.MongoURI, logger)
	if err != nil {
		return nil, err
	}
	a.mongoClose = func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			logger.Warn("disconnecting mongodb", "error", err)
		}
	}
	a.Store = store.New(mongoClient, cfg.MongoDatabase, logger)
	if err := a.Store.EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	postgres, err := providePostgresPlugin(ctx, pool, cfg)
	if err != nil {
		return nil, err
	}

	g, err := provideGenkit(ctx, postgres)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	docStore, retriever, err := provideRAGComponents(ctx, g, postgres, embedder)
	if err != nil {
		return nil, err
	}
	a.DocStore = docStore
	a.Retriever = retriever
	a.Searcher = rag.NewSearcher(retriever)

	answerCache, redisClient, err := provideAnswerCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.redisClient = redisClient
	a.Engine = rag.NewEngine(g, a.Searcher, answerCache, cfg.FullModelName(), logger)

	a.Runtime = agent.NewRuntime(g, agent.RuntimeConfig{
		ModelName: cfg.FullModelName(),
	}, a.Store.ExecutionLogs, logger)

	provideAgents(a, cfg, logger)

	a.Pipeline = pipeline.New(
		a.Fetcher, a.Validator, a.Detector, a.Aggregator, a.Generator,
		a.Store.Transactions,
		time.Duration(cfg.StepIntervalSeconds)*time.Second,
		logger,
	)

	return a, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
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

	// Register the pgvector codec so vector columns scan natively.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

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

// providePostgresPlugin wraps the connection pool for Genkit's DocStore.
func providePostgresPlugin(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) (*postgresql.Postgres, error) {
	pEngine, err := postgresql.NewPostgresEngine(ctx, postgresql.WithPool(pool), postgresql.WithDatabase(cfg.PostgresDBName))
	if err != nil {
		return nil, fmt.Errorf("creating postgres engine: %w", err)
	}

	return &postgresql.Postgres{Engine: pEngine}, nil
}

// provideGenkit initializes Genkit with the GoogleAI and PostgreSQL plugins.
func provideGenkit(ctx context.Context, postgres *postgresql.Postgres) (*genkit.Genkit, error) {
	g := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}, postgres),
	)
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	return g, nil
}

// provideRAGComponents creates the Genkit PostgreSQL DocStore and Retriever.
// DocStore is used for indexing documents, Retriever for searching.
func provideRAGComponents(ctx context.Context, g *genkit.Genkit, postgres *postgresql.Postgres, embedder ai.Embedder) (*postgresql.DocStore, ai.Retriever, error) {
	cfg := rag.NewDocStoreConfig(embedder)
	docStore, retriever, err := postgresql.DefineRetriever(ctx, g, postgres, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("defining retriever: %w", err)
	}

	return docStore, retriever, nil
}

// provideAnswerCache connects Redis when configured. A missing Redis URL
// disables caching; a configured-but-unreachable Redis fails startup.
func provideAnswerCache(ctx context.Context, cfg *config.Config, logger log.Logger) (rag.AnswerCache, *redis.Client, error) {
	if !cfg.CacheEnabled() {
		return nil, nil, nil
	}

	client, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting redis: %w", err)
	}

	ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
	return cache.NewAnswerCache(client, ttl, logger), client, nil
}

// provideAgents constructs the five pipeline agents on the shared runtime.
func provideAgents(a *App, cfg *config.Config, logger log.Logger) {
	scraper := agent.NewScraper(agent.ScraperConfig{
		Parallelism: cfg.Scraper.Parallelism,
		Delay:       time.Duration(cfg.Scraper.DelayMs) * time.Millisecond,
		Timeout:     time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond,
	}, logger)

	indexer := rag.NewIndexer(a.DocStore, logger)

	a.Fetcher = agent.NewRegulationFetcher(a.Runtime, scraper, a.Store.Regulations, indexer, logger)
	a.Validator = agent.NewComplianceValidator(a.Runtime, a.Searcher, a.Store.Transactions, a.Store.Validations, logger)
	a.Detector = agent.NewAnomalyDetector(a.Runtime, a.Store.Transactions, a.Store.Anomalies, logger)
	a.Aggregator = agent.NewFilingAggregator(a.Runtime, a.Store.Transactions, a.Store.FilingReports, logger)
	a.Generator = agent.NewReportGenerator(a.Runtime, a.Store.FilingReports, a.Store.Anomalies, cfg.ReportDir, logger)
}
