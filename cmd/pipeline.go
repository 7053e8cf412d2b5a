package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taxpilot/taxpilot/internal/app"
	"github.com/taxpilot/taxpilot/internal/config"
	"github.com/taxpilot/taxpilot/internal/ingest"
	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/pipeline"
)

// timePrecision rounds durations for console output.
const timePrecision = time.Millisecond

// runPipeline runs the compliance pipeline once and exits.
func runPipeline() error {
	logger := initLogger()

	if err := checkRequiredEnv(); err != nil {
		return err
	}

	pipelineFlags := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	pipelineFlags.SetOutput(os.Stderr)
	filingType := pipelineFlags.String("filing-type", "", "filing type: gstr1, gstr3b, or tds")
	period := pipelineFlags.String("period", "", "period: YYYY-MM or YYYY-Qn (default: detected from the CSV, else previous month)")
	skipFetch := pipelineFlags.Bool("skip-fetch", false, "reuse the stored regulation corpus")
	csvPath := pipelineFlags.String("csv", "", "ingest a transaction CSV before the run")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := pipelineFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing pipeline flags: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if *csvPath != "" {
		txs, err := ingestCSV(ctx, a, *csvPath)
		if err != nil {
			return err
		}
		// Without an explicit -period the run covers the file's date range.
		if *period == "" {
			if detected, ok := ingest.DetectPeriod(txs); ok {
				*period = detected
				fmt.Printf("detected period %s from transaction dates\n", detected)
			}
		}
	}

	result, err := a.Pipeline.Run(ctx, pipeline.Options{
		FilingType: *filingType,
		Period:     *period,
		SkipFetch:  *skipFetch,
	})
	if result != nil {
		for _, step := range result.Steps {
			fmt.Printf("%-10s %-8s %s (%s)\n", step.Name, step.Status, step.Detail, step.Duration.Round(timePrecision))
		}
	}
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	fmt.Printf("\nreport %s generated in %s\n", result.ReportID, result.Duration.Round(timePrecision))
	return nil
}

// ingestCSV parses a local transaction CSV, stores its rows, and returns
// the parsed transactions.
func ingestCSV(ctx context.Context, a *app.App, path string) ([]models.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV: %w", err)
	}
	defer f.Close()

	parser := ingest.NewParser(a.Logger)
	txs, result, err := parser.Parse(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}

	inserted, err := a.Store.Transactions.InsertMany(ctx, txs)
	if err != nil {
		return nil, fmt.Errorf("storing transactions: %w", err)
	}

	fmt.Printf("ingested %d transactions (%d rows skipped, %d duplicates)\n",
		inserted, result.Skipped, len(txs)-inserted)
	return txs, nil
}
