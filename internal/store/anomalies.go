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

// AnomalyRepo persists detected anomalies.
type AnomalyRepo struct {
	col    *mongo.Collection
	logger log.Logger
}

func (r *AnomalyRepo) ensureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "anomaly_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "severity", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating anomaly indexes: %w", err)
	}
	return nil
}

// InsertMany stores a batch of anomalies.
func (r *AnomalyRepo) InsertMany(ctx context.Context, as []models.Anomaly) error {
	if len(as) == 0 {
		return nil
	}
	docs := make([]any, 0, len(as))
	for i := range as {
		docs = append(docs, as[i])
	}
	if _, err := r.col.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("inserting %d anomalies: %w", len(as), err)
	}
	r.logger.Debug("anomalies inserted", "count", len(as))
	return nil
}

// Get returns the anomaly with the given anomaly_id.
func (r *AnomalyRepo) Get(ctx context.Context, anomalyID string) (*models.Anomaly, error) {
	var a models.Anomaly
	err := r.col.FindOne(ctx, bson.M{"anomaly_id": anomalyID}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("anomaly %s: %w", anomalyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding anomaly %s: %w", anomalyID, err)
	}
	return &a, nil
}

// List returns anomalies, optionally filtered by type, severity, and
// status, newest first. An empty status matches every lifecycle state.
func (r *AnomalyRepo) List(ctx context.Context, typ models.AnomalyType, severity models.Severity, status models.AnomalyStatus, limit int64) ([]models.Anomaly, error) {
	filter := bson.M{}
	if typ != "" {
		filter["type"] = typ
	}
	if severity != "" {
		filter["severity"] = severity
	}
	if status != "" {
		filter["status"] = status
	}

	opts := options.Find().SetSort(bson.D{{Key: "detected_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing anomalies: %w", err)
	}
	defer cur.Close(ctx)

	var as []models.Anomaly
	if err := cur.All(ctx, &as); err != nil {
		return nil, fmt.Errorf("decoding anomalies: %w", err)
	}
	return as, nil
}

// Resolve marks an anomaly resolved and stamps resolved_at.
func (r *AnomalyRepo) Resolve(ctx context.Context, anomalyID string) error {
	return r.setStatus(ctx, anomalyID, models.AnomalyResolved)
}

// Ignore marks an anomaly ignored so it drops out of open views without
// claiming it was fixed.
func (r *AnomalyRepo) Ignore(ctx context.Context, anomalyID string) error {
	return r.setStatus(ctx, anomalyID, models.AnomalyIgnored)
}

func (r *AnomalyRepo) setStatus(ctx context.Context, anomalyID string, status models.AnomalyStatus) error {
	set := bson.M{"status": status}
	if status == models.AnomalyResolved {
		set["resolved_at"] = time.Now().UTC()
	}
	res, err := r.col.UpdateOne(ctx,
		bson.M{"anomaly_id": anomalyID},
		bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("marking anomaly %s %s: %w", anomalyID, status, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("anomaly %s: %w", anomalyID, ErrNotFound)
	}
	return nil
}

// SetSuggestedFix stores a model-suggested fix on an anomaly.
func (r *AnomalyRepo) SetSuggestedFix(ctx context.Context, anomalyID, fix string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"anomaly_id": anomalyID},
		bson.M{"$set": bson.M{"suggested_fix": fix}})
	if err != nil {
		return fmt.Errorf("setting suggested fix on %s: %w", anomalyID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("anomaly %s: %w", anomalyID, ErrNotFound)
	}
	return nil
}

// Summary returns open anomaly counts grouped by type and severity.
func (r *AnomalyRepo) Summary(ctx context.Context) (map[models.AnomalyType]map[models.Severity]int64, error) {
	cur, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": models.AnomalyOpen}}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"type": "$type", "severity": "$severity"},
			"count": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("summarizing anomalies: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		ID struct {
			Type     string `bson:"type"`
			Severity string `bson:"severity"`
		} `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding anomaly summary: %w", err)
	}

	summary := make(map[models.AnomalyType]map[models.Severity]int64)
	for _, row := range rows {
		typ := models.AnomalyType(row.ID.Type)
		if summary[typ] == nil {
			summary[typ] = make(map[models.Severity]int64)
		}
		summary[typ][models.NormalizeSeverity(row.ID.Severity)] += row.Count
	}
	return summary, nil
}
