// Package store persists compliance documents in MongoDB.
//
// Each collection has a small repository type with explicit methods instead of
// a generic DAO. Repositories receive the *mongo.Database and a logger via
// their constructors.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taxpilot/taxpilot/internal/log"
)

// Collection names.
const (
	RegulationsCollection   = "regulations"
	TransactionsCollection  = "financial_transactions"
	ValidationsCollection   = "compliance_validations"
	AnomaliesCollection     = "anomalies"
	FilingReportsCollection = "filing_reports"
	ExecutionLogsCollection = "agent_execution_logs"
)

const connectTimeout = 10 * time.Second

// Connect establishes a MongoDB connection and verifies it with a ping.
// The caller owns the returned client and must call Disconnect.
func Connect(ctx context.Context, uri string, logger log.Logger) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// Best-effort disconnect; the ping error is the one that matters.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB")
	return client, nil
}

// Store bundles the per-collection repositories over one database handle.
type Store struct {
	Regulations   *RegulationRepo
	Transactions  *TransactionRepo
	Validations   *ValidationRepo
	Anomalies     *AnomalyRepo
	FilingReports *FilingReportRepo
	ExecutionLogs *ExecutionLogRepo

	db *mongo.Database
}

// New creates a Store over the named database.
func New(client *mongo.Client, database string, logger log.Logger) *Store {
	db := client.Database(database)
	return &Store{
		Regulations:   &RegulationRepo{col: db.Collection(RegulationsCollection), logger: logger.With("repo", "regulations")},
		Transactions:  &TransactionRepo{col: db.Collection(TransactionsCollection), logger: logger.With("repo", "transactions")},
		Validations:   &ValidationRepo{col: db.Collection(ValidationsCollection), logger: logger.With("repo", "validations")},
		Anomalies:     &AnomalyRepo{col: db.Collection(AnomaliesCollection), logger: logger.With("repo", "anomalies")},
		FilingReports: &FilingReportRepo{col: db.Collection(FilingReportsCollection), logger: logger.With("repo", "filing_reports")},
		ExecutionLogs: &ExecutionLogRepo{col: db.Collection(ExecutionLogsCollection), logger: logger.With("repo", "execution_logs")},
		db:            db,
	}
}

// EnsureIndexes creates the indexes each repository relies on.
// Safe to call on every startup; MongoDB treats existing indexes as no-ops.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	type indexed interface {
		ensureIndexes(ctx context.Context) error
	}
	for _, repo := range []indexed{
		s.Regulations, s.Transactions, s.Validations,
		s.Anomalies, s.FilingReports, s.ExecutionLogs,
	} {
		if err := repo.ensureIndexes(ctx); err != nil {
			return fmt.Errorf("ensuring indexes: %w", err)
		}
	}
	return nil
}

// Ping verifies the underlying connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("pinging MongoDB: %w", err)
	}
	return nil
}
