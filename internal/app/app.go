// Package app wires the application together: storage, Genkit, agents, and
// the pipeline. Setup builds everything in dependency order; Close releases
// it in reverse.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/postgresql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/taxpilot/taxpilot/internal/agent"
	"github.com/taxpilot/taxpilot/internal/config"
	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/pipeline"
	"github.com/taxpilot/taxpilot/internal/rag"
	"github.com/taxpilot/taxpilot/internal/store"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit    *genkit.Genkit
	Embedder  ai.Embedder
	DBPool    *pgxpool.Pool
	DocStore  *postgresql.DocStore
	Retriever ai.Retriever
	Store     *store.Store

	// Retrieval
	Searcher *rag.Searcher
	Engine   *rag.Engine

	// Agents
	Runtime    *agent.Runtime
	Fetcher    *agent.RegulationFetcher
	Validator  *agent.ComplianceValidator
	Detector   *agent.AnomalyDetector
	Aggregator *agent.FilingAggregator
	Generator  *agent.ReportGenerator
	Pipeline   *pipeline.Pipeline

	redisClient *redis.Client
	mongoClose  func()
	dbCleanup   func()
	otelCleanup func()
}

// Close gracefully shuts down all resources in reverse setup order.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.Warn("closing redis client", "error", err)
		}
	}
	if a.mongoClose != nil {
		a.mongoClose()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
