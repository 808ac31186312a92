package migrations

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureFailureIndex prepares the collection holding batches that exhausted
// their retries.
func EnsureFailureIndex(ctx context.Context, db *mongo.Database, collection string) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "batch_id", Value: 1}, {Key: "target", Value: 1}},
			Options: options.Index().SetName("idx_failed_batches_batch_id_target").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "destination", Value: 1}, {Key: "failed_at", Value: -1}},
			Options: options.Index().SetName("idx_failed_batches_destination_failed_at"),
		},
		{
			Keys:    bson.D{{Key: "failed_at", Value: -1}},
			Options: options.Index().SetName("idx_failed_batches_failed_at"),
		},
	}

	if _, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
	}
	return nil
}

// EnsureEventIndexes prepares a target collection. The unique event_id
// index turns a replayed batch into duplicate-key errors instead of copies.
func EnsureEventIndexes(ctx context.Context, coll *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("idx_event_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "@timestamp", Value: -1}},
			Options: options.Index().SetName("idx_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "service", Value: 1}, {Key: "@timestamp", Value: -1}},
			Options: options.Index().SetName("idx_service_timestamp"),
		},
	}

	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
	}
	return nil
}
