// Package cmd contains the command-line entry points: serve, pipeline,
// version.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/taxpilot/taxpilot/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the main entry point. It handles flag parsing and command
// routing; main.go stays a minimal shim.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			printVersionInfo()
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "serve":
			return runServe()
		case "pipeline":
			return runPipeline()
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}

	printHelp()
	return nil
}

// initLogger builds the process logger. DEBUG in the environment enables
// debug level; TAXPILOT_LOG_JSON switches to JSON output for log shippers.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
		cfg.AddSource = true
	}
	if os.Getenv("TAXPILOT_LOG_JSON") != "" {
		cfg.JSON = true
	}
	return log.New(cfg)
}

// checkRequiredEnv verifies required environment variables before startup.
func checkRequiredEnv() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "taxpilot requires a Gemini API key for validation and retrieval.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "To set your API key:")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Get your API key at: https://ai.google.dev/")

		return fmt.Errorf("GEMINI_API_KEY not set")
	}
	return nil
}

func printVersionInfo() {
	fmt.Printf("taxpilot v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println("taxpilot - GST/TDS compliance automation")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  taxpilot serve [addr]       Start the JSON API server (default 127.0.0.1:8000)")
	fmt.Println("  taxpilot pipeline [flags]   Run the compliance pipeline once and exit")
	fmt.Println("  taxpilot version            Print version information")
	fmt.Println()
	fmt.Println("Pipeline flags:")
	fmt.Println("  -filing-type string   gstr1, gstr3b, or tds (default gstr3b)")
	fmt.Println("  -period string        YYYY-MM or YYYY-Qn (default: previous month)")
	fmt.Println("  -skip-fetch           reuse the stored regulation corpus")
	fmt.Println("  -csv string           ingest a transaction CSV before the run")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  GEMINI_API_KEY   required")
	fmt.Println("  MONGODB_URL      MongoDB connection string")
	fmt.Println("  DATABASE_URL     PostgreSQL connection string (pgvector)")
	fmt.Println("  REDIS_URL        optional answer cache")
	fmt.Println("  DEBUG            enable debug logging")
}
