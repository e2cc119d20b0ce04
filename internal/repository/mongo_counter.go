package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSequenceRepository implements domain.SequenceRepository with one counter document per sequence
type MongoSequenceRepository struct {
	collection *mongo.Collection
}

func NewMongoSequenceRepository(db *mongo.Database) *MongoSequenceRepository {
	return &MongoSequenceRepository{
		collection: db.Collection("counters"),
	}
}

// Ensure creates the named counter at zero unless it already exists. Run at startup so the first
// transactional Next increments an existing document instead of racing on an upsert.
func (r *MongoSequenceRepository) Ensure(ctx context.Context, name string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$setOnInsert": bson.M{"value": int64(0)}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to ensure sequence %s: %w", name, err)
	}
	return nil
}

// Next atomically increments the named counter and returns the new value, starting at 1.
// Inside a transaction the increment rolls back with everything else.
func (r *MongoSequenceRepository) Next(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc struct {
		Value int64 `bson:"value"`
	}
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return doc.Value, nil
}
