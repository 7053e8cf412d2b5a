package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
)

// TransactionRepo persists financial transactions.
type TransactionRepo struct {
	col    *mongo.Collection
	logger log.Logger
}

func (r *TransactionRepo) ensureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "date", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating transaction indexes: %w", err)
	}
	return nil
}

// InsertMany stores a batch of transactions, skipping duplicates on
// transaction_id. Returns the number actually inserted.
func (r *TransactionRepo) InsertMany(ctx context.Context, txs []models.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	docs := make([]any, 0, len(txs))
	for i := range txs {
		docs = append(docs, txs[i])
	}
	res, err := r.col.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		// Duplicate key errors on unordered inserts are expected for re-uploads;
		// everything else is fatal.
		var bulkErr mongo.BulkWriteException
		if !errors.As(err, &bulkErr) || !onlyDuplicateErrors(bulkErr) {
			return 0, fmt.Errorf("inserting %d transactions: %w", len(txs), err)
		}
	}
	inserted := 0
	if res != nil {
		inserted = len(res.InsertedIDs)
	}
	r.logger.Debug("transactions inserted", "requested", len(txs), "inserted", inserted)
	return inserted, nil
}

func onlyDuplicateErrors(e mongo.BulkWriteException) bool {
	for _, we := range e.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return len(e.WriteErrors) > 0
}

// Get returns the transaction with the given transaction_id.
func (r *TransactionRepo) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.col.FindOne(ctx, bson.M{"transaction_id": transactionID}).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding transaction %s: %w", transactionID, err)
	}
	return &tx, nil
}

// List returns transactions, optionally filtered by status, newest first.
func (r *TransactionRepo) List(ctx context.Context, status models.ComplianceStatus, limit int64) ([]models.Transaction, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer cur.Close(ctx)

	var txs []models.Transaction
	if err := cur.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("decoding transactions: %w", err)
	}
	return txs, nil
}

// ListPeriod returns transactions whose date falls within [from, to).
func (r *TransactionRepo) ListPeriod(ctx context.Context, from, to time.Time) ([]models.Transaction, error) {
	cur, err := r.col.Find(ctx, bson.M{
		"date": bson.M{"$gte": from, "$lt": to},
	}, options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing transactions for period: %w", err)
	}
	defer cur.Close(ctx)

	var txs []models.Transaction
	if err := cur.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("decoding transactions: %w", err)
	}
	return txs, nil
}

// UpdateStatus sets the compliance status of a transaction.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, transactionID string, status models.ComplianceStatus) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"transaction_id": transactionID},
		bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("updating transaction %s status: %w", transactionID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return nil
}

// SanitizeStatuses rewrites legacy raw statuses ("pass", "fail", "warning" and
// uppercase variants) to the canonical compliance statuses. Returns the number
// of documents rewritten.
func (r *TransactionRepo) SanitizeStatuses(ctx context.Context) (int64, error) {
	mapping := map[string]models.ComplianceStatus{
		"pass":    models.ComplianceValid,
		"PASS":    models.ComplianceValid,
		"fail":    models.ComplianceInvalid,
		"FAIL":    models.ComplianceInvalid,
		"warning": models.CompliancePending,
		"WARNING": models.CompliancePending,
		"VALID":   models.ComplianceValid,
		"INVALID": models.ComplianceInvalid,
		"PENDING": models.CompliancePending,
	}

	var total int64
	for raw, canonical := range mapping {
		res, err := r.col.UpdateMany(ctx,
			bson.M{"status": raw},
			bson.M{"$set": bson.M{"status": canonical}})
		if err != nil {
			return total, fmt.Errorf("sanitizing status %q: %w", raw, err)
		}
		total += res.ModifiedCount
	}
	if total > 0 {
		r.logger.Info("legacy transaction statuses sanitized", "count", total)
	}
	return total, nil
}

// CountByStatus returns transaction counts grouped by compliance status.
func (r *TransactionRepo) CountByStatus(ctx context.Context) (map[models.ComplianceStatus]int64, error) {
	cur, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("counting transactions by status: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding status counts: %w", err)
	}

	counts := make(map[models.ComplianceStatus]int64, len(rows))
	for _, row := range rows {
		counts[models.NormalizeComplianceStatus(row.ID)] += row.Count
	}
	return counts, nil
}
