// Package testutil provides shared testing utilities: quiet loggers and a
// PostgreSQL (pgvector) container harness for integration tests.
package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that discards all output.
// Use this in tests to reduce noise.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
