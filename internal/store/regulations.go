package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// RegulationRepo persists tax regulations.
type RegulationRepo struct {
	col    *mongo.Collection
	logger log.Logger
}

func (r *RegulationRepo) ensureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "regulation_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "domain", Value: 1}, {Key: "entity_type", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating regulation indexes: %w", err)
	}
	return nil
}

// UpsertMany bulk-upserts regulations keyed by regulation_id.
func (r *RegulationRepo) UpsertMany(ctx context.Context, regs []models.Regulation) error {
	if len(regs) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(regs))
	for i := range regs {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"regulation_id": regs[i].RegulationID}).
			SetUpdate(bson.M{"$set": regs[i]}).
			SetUpsert(true))
	}
	if _, err := r.col.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("bulk upserting %d regulations: %w", len(regs), err)
	}
	r.logger.Debug("regulations upserted", "count", len(regs))
	return nil
}

// Get returns the regulation with the given regulation_id.
func (r *RegulationRepo) Get(ctx context.Context, regulationID string) (*models.Regulation, error) {
	var reg models.Regulation
	err := r.col.FindOne(ctx, bson.M{"regulation_id": regulationID}).Decode(&reg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("regulation %s: %w", regulationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding regulation %s: %w", regulationID, err)
	}
	return &reg, nil
}

// List returns regulations filtered by domain and entity type.
// Empty filter values match everything.
func (r *RegulationRepo) List(ctx context.Context, domain, entityType string, limit int64) ([]models.Regulation, error) {
	filter := bson.M{}
	if domain != "" {
		filter["domain"] = domain
	}
	if entityType != "" {
		filter["entity_type"] = entityType
	}

	opts := options.Find().SetSort(bson.D{{Key: "fetched_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing regulations: %w", err)
	}
	defer cur.Close(ctx)

	var regs []models.Regulation
	if err := cur.All(ctx, &regs); err != nil {
		return nil, fmt.Errorf("decoding regulations: %w", err)
	}
	return regs, nil
}

// Search returns regulations whose title or content matches the query text,
// optionally restricted by domain and entity type, sorted by title.
func (r *RegulationRepo) Search(ctx context.Context, query, domain, entityType string, limit int64) ([]models.Regulation, error) {
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
	filter := bson.M{"$or": []bson.M{
		{"title": pattern},
		{"content": pattern},
	}}
	if domain != "" {
		filter["domain"] = domain
	}
	if entityType != "" {
		filter["entity_type"] = entityType
	}

	opts := options.Find().SetSort(bson.D{{Key: "title", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("searching regulations: %w", err)
	}
	defer cur.Close(ctx)

	var regs []models.Regulation
	if err := cur.All(ctx, &regs); err != nil {
		return nil, fmt.Errorf("decoding regulations: %w", err)
	}
	return regs, nil
}

// ListUnindexed returns regulations not yet written to the vector store.
func (r *RegulationRepo) ListUnindexed(ctx context.Context) ([]models.Regulation, error) {
	cur, err := r.col.Find(ctx, bson.M{"indexed": false})
	if err != nil {
		return nil, fmt.Errorf("listing unindexed regulations: %w", err)
	}
	defer cur.Close(ctx)

	var regs []models.Regulation
	if err := cur.All(ctx, &regs); err != nil {
		return nil, fmt.Errorf("decoding regulations: %w", err)
	}
	return regs, nil
}

// MarkIndexed flags regulations as present in the vector store.
func (r *RegulationRepo) MarkIndexed(ctx context.Context, regulationIDs []string) error {
	if len(regulationIDs) == 0 {
		return nil
	}
	_, err := r.col.UpdateMany(ctx,
		bson.M{"regulation_id": bson.M{"$in": regulationIDs}},
		bson.M{"$set": bson.M{"indexed": true}})
	if err != nil {
		return fmt.Errorf("marking regulations indexed: %w", err)
	}
	return nil
}

// Domains returns the distinct regulation domains present in the collection.
func (r *RegulationRepo) Domains(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "domain")
}

// EntityTypes returns the distinct entity types present in the collection.
func (r *RegulationRepo) EntityTypes(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "entity_type")
}

func (r *RegulationRepo) distinct(ctx context.Context, field string) ([]string, error) {
	raw, err := r.col.Distinct(ctx, field, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", field, err)
	}
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			values = append(values, s)
		}
	}
	return values, nil
}

// Count returns the total number of regulations.
func (r *RegulationRepo) Count(ctx context.Context) (int64, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("counting regulations: %w", err)
	}
	return n, nil
}
