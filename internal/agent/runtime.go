// Package agent implements the compliance agents and their shared runtime.
//
// The Runtime wraps every model call with rate limiting, exponential backoff
// retry, a circuit breaker, and execution audit logging. The five agents
// (regulation fetcher, compliance validator, anomaly detector, filing
// aggregator, report generator) build on it.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/store"
)

// ModelRuntime is the model-call surface agents depend on. *Runtime
// implements it; tests substitute fakes.
type ModelRuntime interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Track(ctx context.Context, agentName, input string, fn func(context.Context) (string, error)) (string, error)
}

// Runtime provides shared model access and execution auditing for agents.
type Runtime struct {
	g         *genkit.Genkit
	modelName string

	limiter     *rate.Limiter
	breaker     *CircuitBreaker
	retryConfig RetryConfig

	execLogs *store.ExecutionLogRepo // nil disables audit logging
	logger   log.Logger
}

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	ModelName string
	// RequestsPerSecond limits model calls across all agents. Zero uses the
	// default of 1 req/s with burst 2, matching free-tier Gemini quotas.
	RequestsPerSecond float64
	Retry             RetryConfig
	Breaker           CircuitBreakerConfig
}

// NewRuntime creates a Runtime. execLogs may be nil to disable auditing.
func NewRuntime(g *genkit.Genkit, cfg RuntimeConfig, execLogs *store.ExecutionLogRepo, logger log.Logger) *Runtime {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 && retryCfg.InitialInterval == 0 {
		retryCfg = DefaultRetryConfig()
	}
	return &Runtime{
		g:           g,
		modelName:   cfg.ModelName,
		limiter:     rate.NewLimiter(rate.Limit(rps), 2),
		breaker:     NewCircuitBreaker(cfg.Breaker),
		retryConfig: retryCfg,
		execLogs:    execLogs,
		logger:      logger,
	}
}

// Generate runs one model call through the circuit breaker, rate limiter,
// and retry loop, returning the response text.
func (r *Runtime) Generate(ctx context.Context, prompt string) (string, error) {
	if err := r.breaker.Allow(); err != nil {
		return "", fmt.Errorf("model call rejected: %w", err)
	}

	resp, err := r.generateWithRetry(ctx, prompt)
	if err != nil {
		r.breaker.Failure()
		return "", err
	}

	r.breaker.Success()
	return strings.TrimSpace(resp.Text()), nil
}

func (r *Runtime) generateWithRetry(ctx context.Context, prompt string) (*ai.ModelResponse, error) {
	var lastErr error
	delay := r.retryConfig.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= r.retryConfig.MaxRetries; attempt++ {
		// Rate limit each attempt, including retries.
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		resp, err := genkit.Generate(ctx, r.g,
			ai.WithModelName(r.modelName),
			ai.WithPrompt(prompt),
		)
		if err == nil {
			r.logger.Debug("model call succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}

		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("generating: %w", err)
		}

		if attempt == r.retryConfig.MaxRetries {
			break
		}

		r.logger.Debug("retrying after error",
			"attempt", attempt+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, r.retryConfig.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generating after %d retries (elapsed: %v): %w",
		r.retryConfig.MaxRetries, time.Since(start), lastErr)
}

// Track runs fn under an execution audit record. A record is written with
// status "In Progress" before fn runs, then finalized as Success or Error
// with the elapsed time. Audit write failures are logged, never fatal.
func (r *Runtime) Track(ctx context.Context, agentName, input string, fn func(context.Context) (string, error)) (string, error) {
	executionID := uuid.NewString()
	start := time.Now()

	if r.execLogs != nil {
		entry := &models.ExecutionLog{
			ExecutionID: executionID,
			AgentName:   agentName,
			Status:      models.ExecutionInProgress,
			Input:       truncate(input, 2000),
			StartedAt:   start.UTC(),
		}
		if err := r.execLogs.Start(ctx, entry); err != nil {
			r.logger.Warn("recording execution start failed",
				"agent", agentName, "execution_id", executionID, "error", err)
		}
	}

	output, err := fn(ctx)
	elapsed := time.Since(start)

	if r.execLogs != nil {
		var auditErr error
		if err != nil {
			auditErr = r.execLogs.Fail(ctx, executionID, err.Error(), elapsed)
		} else {
			auditErr = r.execLogs.Complete(ctx, executionID, truncate(output, 2000), elapsed)
		}
		if auditErr != nil {
			r.logger.Warn("recording execution result failed",
				"agent", agentName, "execution_id", executionID, "error", auditErr)
		}
	}

	if err != nil {
		r.logger.Error("agent execution failed",
			"agent", agentName, "execution_id", executionID, "elapsed", elapsed, "error", err)
		return "", err
	}

	r.logger.Info("agent execution completed",
		"agent", agentName, "execution_id", executionID, "elapsed", elapsed)
	return output, nil
}

// BreakerState exposes the circuit state for health reporting.
func (r *Runtime) BreakerState() CircuitState {
	return r.breaker.State()
}
