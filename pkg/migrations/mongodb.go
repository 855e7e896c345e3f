package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"erpmigrate/internal/constants"
)

// EnsureMongoCollections creates the indexes used by the run repository.
// Collections themselves are created on first insert.
func EnsureMongoCollections(ctx context.Context, db *mongo.Database) error {
	plan := map[string][]mongo.IndexModel{
		constants.CollectionRuns: {
			{
				Keys:    bson.D{{Key: "started_at", Value: -1}},
				Options: options.Index().SetName("idx_runs_started_at"),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "started_at", Value: -1}},
				Options: options.Index().SetName("idx_runs_status_started_at"),
			},
		},
		constants.CollectionReconciliations: {
			{
				Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "object_id", Value: 1}},
				Options: options.Index().SetName("idx_reconciliations_run_object").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "object_id", Value: 1}, {Key: "completed_at", Value: -1}},
				Options: options.Index().SetName("idx_reconciliations_object_completed_at"),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}},
				Options: options.Index().SetName("idx_reconciliations_status"),
			},
		},
	}

	for name, indexes := range plan {
		_, err := db.Collection(name).Indexes().CreateMany(ctx, indexes)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}
