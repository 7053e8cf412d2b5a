package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
)

// ExecutionLogRepo persists agent execution audit records.
type ExecutionLogRepo struct {
	col    *mongo.Collection
	logger log.Logger
}

func (r *ExecutionLogRepo) ensureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "execution_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "agent_name", Value: 1}, {Key: "started_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating execution log indexes: %w", err)
	}
	return nil
}

// Start records the beginning of an agent execution.
func (r *ExecutionLogRepo) Start(ctx context.Context, entry *models.ExecutionLog) error {
	if _, err := r.col.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("inserting execution log %s: %w", entry.ExecutionID, err)
	}
	return nil
}

// Complete records a successful execution.
func (r *ExecutionLogRepo) Complete(ctx context.Context, executionID, output string, elapsed time.Duration) error {
	return r.finish(ctx, executionID, models.ExecutionSuccess, output, "", elapsed)
}

// Fail records a failed execution.
func (r *ExecutionLogRepo) Fail(ctx context.Context, executionID, errMsg string, elapsed time.Duration) error {
	return r.finish(ctx, executionID, models.ExecutionError, "", errMsg, elapsed)
}

func (r *ExecutionLogRepo) finish(ctx context.Context, executionID, status, output, errMsg string, elapsed time.Duration) error {
	now := time.Now().UTC()
	set := bson.M{
		"status":         status,
		"completed_at":   now,
		"execution_time": elapsed.Seconds(),
	}
	if output != "" {
		set["output"] = output
	}
	if errMsg != "" {
		set["error_message"] = errMsg
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"execution_id": executionID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("completing execution log %s: %w", executionID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("execution log %s: %w", executionID, ErrNotFound)
	}
	return nil
}

// Recent returns the most recent executions, optionally filtered by agent.
func (r *ExecutionLogRepo) Recent(ctx context.Context, agentName string, limit int64) ([]models.ExecutionLog, error) {
	filter := bson.M{}
	if agentName != "" {
		filter["agent_name"] = agentName
	}
	if limit <= 0 {
		limit = 50
	}
	cur, err := r.col.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing execution logs: %w", err)
	}
	defer cur.Close(ctx)

	var logs []models.ExecutionLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("decoding execution logs: %w", err)
	}
	return logs, nil
}
