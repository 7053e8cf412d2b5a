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

// FilingReportRepo persists generated filing reports.
type FilingReportRepo struct {
	col    *mongo.Collection
	logger log.Logger
}

func (r *FilingReportRepo) ensureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "report_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "filing_type", Value: 1}, {Key: "period", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating filing report indexes: %w", err)
	}
	return nil
}

// Insert stores a filing report.
func (r *FilingReportRepo) Insert(ctx context.Context, rep *models.FilingReport) error {
	if _, err := r.col.InsertOne(ctx, rep); err != nil {
		return fmt.Errorf("inserting filing report %s: %w", rep.ReportID, err)
	}
	r.logger.Debug("filing report stored", "report_id", rep.ReportID, "filing_type", rep.FilingType)
	return nil
}

// Get returns the report with the given report_id.
func (r *FilingReportRepo) Get(ctx context.Context, reportID string) (*models.FilingReport, error) {
	var rep models.FilingReport
	err := r.col.FindOne(ctx, bson.M{"report_id": reportID}).Decode(&rep)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("filing report %s: %w", reportID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding filing report %s: %w", reportID, err)
	}
	return &rep, nil
}

// List returns reports, optionally filtered by filing type and period,
// newest first.
func (r *FilingReportRepo) List(ctx context.Context, filingType, period string, limit int64) ([]models.FilingReport, error) {
	filter := bson.M{}
	if filingType != "" {
		filter["filing_type"] = filingType
	}
	if period != "" {
		filter["period"] = period
	}
	opts := options.Find().SetSort(bson.D{{Key: "generated_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing filing reports: %w", err)
	}
	defer cur.Close(ctx)

	var reps []models.FilingReport
	if err := cur.All(ctx, &reps); err != nil {
		return nil, fmt.Errorf("decoding filing reports: %w", err)
	}
	return reps, nil
}

// UpdateStatus advances the lifecycle status of a report.
func (r *FilingReportRepo) UpdateStatus(ctx context.Context, reportID string, status models.FilingStatus) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"report_id": reportID},
		bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("updating filing report %s status: %w", reportID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("filing report %s: %w", reportID, ErrNotFound)
	}
	return nil
}

// SetSummary stores the generated narrative summary on a report.
func (r *FilingReportRepo) SetSummary(ctx context.Context, reportID, summary string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"report_id": reportID},
		bson.M{"$set": bson.M{"summary": summary}})
	if err != nil {
		return fmt.Errorf("setting summary on %s: %w", reportID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("filing report %s: %w", reportID, ErrNotFound)
	}
	return nil
}

// Summary returns report counts grouped by lifecycle status.
func (r *FilingReportRepo) Summary(ctx context.Context) (map[models.FilingStatus]int64, error) {
	cur, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("summarizing filing reports: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding filing report summary: %w", err)
	}

	counts := make(map[models.FilingStatus]int64, len(rows))
	for _, row := range rows {
		counts[models.FilingStatus(row.ID)] += row.Count
	}
	return counts, nil
}
