// Package pipeline orchestrates the end-to-end compliance run: status
// sanitization, regulation fetch and index sync, compliance validation,
// filing aggregation, anomaly detection, and report generation.
//
// Steps are paced by a shared rate limiter instead of fixed sleeps, so a run
// proceeds as fast as upstream quotas allow while never bursting past them.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/taxpilot/taxpilot/internal/agent"
	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/store"
)

// Step names reported in run results.
const (
	StepSanitize  = "sanitize_statuses"
	StepFetch     = "fetch_regulations"
	StepSync      = "sync_index"
	StepValidate  = "validate_compliance"
	StepAggregate = "aggregate_filing"
	StepDetect    = "detect_anomalies"
	StepReport    = "generate_report"
)

// StepResult records the outcome of one pipeline step.
type StepResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"` // "success" or "error"
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunResult is the outcome of a full pipeline run.
type RunResult struct {
	Steps     []StepResult  `json:"steps"`
	ReportID  string        `json:"report_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Succeeded bool          `json:"succeeded"`
}

// Options selects what a pipeline run produces.
type Options struct {
	FilingType string // default gstr3b
	// Period defaults to the previous calendar month. Callers ingesting a
	// CSV derive it from the file's date range first (ingest.DetectPeriod).
	Period string
	// SkipFetch reuses the existing regulation corpus instead of scraping.
	SkipFetch bool
}

// step is one unit of a run. Skipped steps produce no StepResult.
type step struct {
	name string
	skip bool
	fn   func(context.Context) (string, error)
}

// Pipeline wires the five agents into one ordered run.
type Pipeline struct {
	fetcher    *agent.RegulationFetcher
	validator  *agent.ComplianceValidator
	detector   *agent.AnomalyDetector
	aggregator *agent.FilingAggregator
	generator  *agent.ReportGenerator

	txs     *store.TransactionRepo
	limiter *rate.Limiter
	logger  log.Logger
}

// New creates a Pipeline. stepInterval is the minimum spacing between step
// starts; zero disables pacing.
func New(
	fetcher *agent.RegulationFetcher,
	validator *agent.ComplianceValidator,
	detector *agent.AnomalyDetector,
	aggregator *agent.FilingAggregator,
	generator *agent.ReportGenerator,
	txs *store.TransactionRepo,
	stepInterval time.Duration,
	logger log.Logger,
) *Pipeline {
	limit := rate.Inf
	if stepInterval > 0 {
		limit = rate.Every(stepInterval)
	}
	return &Pipeline{
		fetcher:    fetcher,
		validator:  validator,
		detector:   detector,
		aggregator: aggregator,
		generator:  generator,
		txs:        txs,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// Run executes the full pipeline. The run stops at the first failed step;
// the result always contains every step attempted.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*RunResult, error) {
	if opts.FilingType == "" {
		opts.FilingType = agent.FilingGSTR3B
	}
	if opts.Period == "" {
		opts.Period = time.Now().UTC().AddDate(0, -1, 0).Format("2006-01")
	}
	if _, _, err := agent.ParsePeriod(opts.Period); err != nil {
		return nil, err
	}

	result := &RunResult{StartedAt: time.Now().UTC()}
	p.logger.Info("pipeline run started",
		"filing_type", opts.FilingType, "period", opts.Period)

	var reportID string
	if err := p.execute(ctx, result, p.buildSteps(opts, &reportID)); err != nil {
		return result, err
	}

	result.ReportID = reportID
	result.Duration = time.Since(result.StartedAt)
	result.Succeeded = true
	p.logger.Info("pipeline run completed",
		"report_id", reportID, "duration", result.Duration)
	return result, nil
}

// buildSteps assembles the ordered step list for one run. reportID is
// filled by the aggregation step and consumed by report generation.
func (p *Pipeline) buildSteps(opts Options, reportID *string) []step {
	return []step{
		{StepSanitize, false, func(ctx context.Context) (string, error) {
			n, err := p.txs.SanitizeStatuses(ctx)
			return fmt.Sprintf("%d legacy statuses rewritten", n), err
		}},
		{StepFetch, opts.SkipFetch, func(ctx context.Context) (string, error) {
			fr, err := p.fetcher.Fetch(ctx, nil)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d regulations stored", fr.Stored), nil
		}},
		{StepSync, false, func(ctx context.Context) (string, error) {
			sr, err := p.fetcher.Sync(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d regulations indexed (%d chunks)", sr.Indexed, sr.Chunks), nil
		}},
		{StepValidate, false, func(ctx context.Context) (string, error) {
			vr, err := p.validator.ValidateBatch(ctx, nil)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d validated: %d valid, %d invalid, %d pending",
				vr.Total, vr.Valid, vr.Invalid, vr.Pending), nil
		}},
		{StepAggregate, false, func(ctx context.Context) (string, error) {
			rep, err := p.aggregator.Aggregate(ctx, opts.FilingType, opts.Period)
			if err != nil {
				return "", err
			}
			*reportID = rep.ReportID
			return fmt.Sprintf("report %s at %.1f%% readiness", rep.ReportID, rep.ReadinessLevel), nil
		}},
		{StepDetect, false, func(ctx context.Context) (string, error) {
			dr, err := p.detector.Detect(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d anomalies in %d transactions", len(dr.Anomalies), dr.Scanned), nil
		}},
		{StepReport, false, func(ctx context.Context) (string, error) {
			rep, err := p.generator.Generate(ctx, *reportID)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("report %s exported", rep.ReportID), nil
		}},
	}
}

// execute runs the steps in order, paced by the limiter, and stops at the
// first failure. Every attempted step is appended to result.Steps.
func (p *Pipeline) execute(ctx context.Context, result *RunResult, steps []step) error {
	for _, st := range steps {
		if st.skip {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pipeline pacing interrupted: %w", err)
		}

		sr := p.runStep(ctx, st.name, st.fn)
		result.Steps = append(result.Steps, sr)
		if sr.Status != "success" {
			result.Duration = time.Since(result.StartedAt)
			p.logger.Error("pipeline run failed", "step", sr.Name, "error", sr.Error)
			return fmt.Errorf("pipeline step %s: %s", sr.Name, sr.Error)
		}
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, name string, fn func(context.Context) (string, error)) StepResult {
	start := time.Now()
	p.logger.Info("pipeline step started", "step", name)

	detail, err := fn(ctx)
	sr := StepResult{
		Name:     name,
		Duration: time.Since(start),
		Detail:   detail,
	}
	if err != nil {
		sr.Status = "error"
		sr.Error = err.Error()
		return sr
	}
	sr.Status = "success"
	return sr
}
