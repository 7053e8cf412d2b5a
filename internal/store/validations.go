package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
)

// ValidationRepo persists compliance validation results.
type ValidationRepo struct {
	col    *mongo.Collection
	logger log.Logger
}

func (r *ValidationRepo) ensureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "transaction_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "validated_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating validation indexes: %w", err)
	}
	return nil
}

// Insert stores one validation result.
func (r *ValidationRepo) Insert(ctx context.Context, v *models.Validation) error {
	if _, err := r.col.InsertOne(ctx, v); err != nil {
		return fmt.Errorf("inserting validation for %s: %w", v.TransactionID, err)
	}
	return nil
}

// InsertMany stores a batch of validation results.
func (r *ValidationRepo) InsertMany(ctx context.Context, vs []models.Validation) error {
	if len(vs) == 0 {
		return nil
	}
	docs := make([]any, 0, len(vs))
	for i := range vs {
		docs = append(docs, vs[i])
	}
	if _, err := r.col.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("inserting %d validations: %w", len(vs), err)
	}
	r.logger.Debug("validations inserted", "count", len(vs))
	return nil
}

// Latest returns the most recent validation for a transaction.
func (r *ValidationRepo) Latest(ctx context.Context, transactionID string) (*models.Validation, error) {
	var v models.Validation
	err := r.col.FindOne(ctx,
		bson.M{"transaction_id": transactionID},
		options.FindOne().SetSort(bson.D{{Key: "validated_at", Value: -1}}),
	).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("validation for %s: %w", transactionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding validation for %s: %w", transactionID, err)
	}
	return &v, nil
}

// ListFlagged returns validations whose status is invalid or pending,
// newest first.
func (r *ValidationRepo) ListFlagged(ctx context.Context, limit int64) ([]models.Validation, error) {
	filter := bson.M{"status": bson.M{"$in": []models.ComplianceStatus{
		models.ComplianceInvalid, models.CompliancePending,
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "validated_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing flagged validations: %w", err)
	}
	defer cur.Close(ctx)

	var vs []models.Validation
	if err := cur.All(ctx, &vs); err != nil {
		return nil, fmt.Errorf("decoding validations: %w", err)
	}
	return vs, nil
}

// Summary returns validation counts grouped by status.
func (r *ValidationRepo) Summary(ctx context.Context) (map[models.ComplianceStatus]int64, error) {
	cur, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("summarizing validations: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding validation summary: %w", err)
	}

	counts := make(map[models.ComplianceStatus]int64, len(rows))
	for _, row := range rows {
		counts[models.NormalizeComplianceStatus(row.ID)] += row.Count
	}
	return counts, nil
}
