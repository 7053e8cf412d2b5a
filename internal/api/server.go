package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxpilot/taxpilot/internal/agent"
	"github.com/taxpilot/taxpilot/internal/ingest"
	"github.com/taxpilot/taxpilot/internal/pipeline"
	"github.com/taxpilot/taxpilot/internal/rag"
	"github.com/taxpilot/taxpilot/internal/store"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Store       *store.Store               // Required
	Fetcher     *agent.RegulationFetcher   // Required
	Validator   *agent.ComplianceValidator // Required
	Detector    *agent.AnomalyDetector     // Required
	Aggregator  *agent.FilingAggregator    // Required
	Generator   *agent.ReportGenerator     // Required
	Engine      *rag.Engine                // Required
	Searcher    *rag.Searcher              // Required
	Pipeline    *pipeline.Pipeline         // Required
	Runtime     *agent.Runtime             // Optional: exposes the model circuit state on /ready
	Pool        *pgxpool.Pool              // Optional: nil disables the Postgres readiness check
	CORSOrigins []string                   // Allowed origins for CORS
	TrustProxy  bool                       // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int                        // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store is required")
	case cfg.Fetcher == nil || cfg.Validator == nil || cfg.Detector == nil ||
		cfg.Aggregator == nil || cfg.Generator == nil:
		return nil, errors.New("all five agents are required")
	case cfg.Engine == nil || cfg.Searcher == nil:
		return nil, errors.New("rag engine and searcher are required")
	case cfg.Pipeline == nil:
		return nil, errors.New("pipeline is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	parser := ingest.NewParser(logger)

	rh := &regulationHandler{
		fetcher:  cfg.Fetcher,
		searcher: cfg.Searcher,
		regs:     cfg.Store.Regulations,
		logger:   logger,
	}
	qh := &ragHandler{engine: cfg.Engine, logger: logger}
	ch := &complianceHandler{
		validator:   cfg.Validator,
		validations: cfg.Store.Validations,
		txs:         cfg.Store.Transactions,
		logger:      logger,
	}
	fh := &filingHandler{
		aggregator: cfg.Aggregator,
		parser:     parser,
		txs:        cfg.Store.Transactions,
		reports:    cfg.Store.FilingReports,
		logger:     logger,
	}
	ah := &anomalyHandler{
		detector:  cfg.Detector,
		anomalies: cfg.Store.Anomalies,
		logger:    logger,
	}
	ph := &reportHandler{
		generator: cfg.Generator,
		reports:   cfg.Store.FilingReports,
		logger:    logger,
	}
	plh := &pipelineHandler{
		pipe:     cfg.Pipeline,
		parser:   parser,
		txs:      cfg.Store.Transactions,
		execLogs: cfg.Store.ExecutionLogs,
		logger:   logger,
	}

	mux := http.NewServeMux()

	// Regulation corpus
	mux.HandleFunc("POST /api/v1/regulations/fetch", rh.fetch)
	mux.HandleFunc("POST /api/v1/regulations/sync", rh.sync)
	mux.HandleFunc("GET /api/v1/regulations/search", rh.search)
	mux.HandleFunc("GET /api/v1/regulations/domains", rh.domains)
	mux.HandleFunc("GET /api/v1/regulations/entity-types", rh.entityTypes)
	mux.HandleFunc("GET /api/v1/regulations/stats", rh.stats)
	mux.HandleFunc("GET /api/v1/regulations/{id}", rh.get)

	// Retrieval-augmented answers
	mux.HandleFunc("POST /api/v1/rag/query", qh.query)
	mux.HandleFunc("POST /api/v1/rag/hybrid-search", qh.hybridSearch)
	mux.HandleFunc("GET /api/v1/rag/capabilities", qh.capabilities)

	// Compliance validation
	mux.HandleFunc("POST /api/v1/compliance/validate", ch.validate)
	mux.HandleFunc("GET /api/v1/compliance/flagged-entries", ch.flaggedEntries)
	mux.HandleFunc("GET /api/v1/compliance/validation-summary", ch.validationSummary)

	// Filing preparation
	mux.HandleFunc("POST /api/v1/filing/upload", fh.upload)
	mux.HandleFunc("POST /api/v1/filing/generate", fh.generate)
	mux.HandleFunc("GET /api/v1/filing/readiness-summary", fh.readinessSummary)
	mux.HandleFunc("GET /api/v1/filing/filing-types", fh.filingTypes)
	mux.HandleFunc("GET /api/v1/filing/periods", fh.periods)

	// Anomalies
	mux.HandleFunc("POST /api/v1/anomalies/detect", ah.detect)
	mux.HandleFunc("GET /api/v1/anomalies", ah.list)
	mux.HandleFunc("GET /api/v1/anomalies/summary", ah.summary)
	mux.HandleFunc("POST /api/v1/anomalies/{id}/resolve", ah.resolve)
	mux.HandleFunc("POST /api/v1/anomalies/{id}/ignore", ah.ignore)
	mux.HandleFunc("GET /api/v1/anomalies/types", ah.types)
	mux.HandleFunc("GET /api/v1/anomalies/quick-fixes", ah.quickFixes)

	// Reports
	mux.HandleFunc("POST /api/v1/reports/generate", ph.generate)
	mux.HandleFunc("GET /api/v1/reports/{id}/status", ph.status)
	mux.HandleFunc("GET /api/v1/reports/list", ph.list)
	mux.HandleFunc("GET /api/v1/reports/summary", ph.summary)
	mux.HandleFunc("GET /api/v1/reports/download/{id}", ph.download)
	mux.HandleFunc("GET /api/v1/reports/schema-validation/{id}", ph.schemaValidation)

	// Pipeline
	mux.HandleFunc("POST /api/v1/pipeline/run", plh.run)
	mux.HandleFunc("GET /api/v1/pipeline/executions", plh.executions)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Store, cfg.Pool, cfg.Runtime, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
