package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureEmergencyIndexes creates the indexes the emergency collection relies
// on. The partial unique index on (reporter_id, ride_context.ride_id) for
// non-terminal documents is what makes the duplicate-trigger guard hold
// across processes, not just behind the in-process lock.
func EnsureEmergencyIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("emergencies")

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "reporter_id", Value: 1},
				{Key: "ride_context.ride_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"status": bson.M{"$in": bson.A{"active", "responding"}},
				}),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "reporter_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "last_location.timestamp", Value: -1}},
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create emergency indexes: %w", err)
	}

	return nil
}
