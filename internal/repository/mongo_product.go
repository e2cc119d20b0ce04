package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mansoorceksport/storefront/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoProductRepository implements domain.ProductRepository.
// Products keep their catalog integer id as _id.
type MongoProductRepository struct {
	collection *mongo.Collection
}

func NewMongoProductRepository(db *mongo.Database) *MongoProductRepository {
	return &MongoProductRepository{
		collection: db.Collection("products"),
	}
}

func (r *MongoProductRepository) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&product)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

// GetByIDs loads the given products in one round trip. Unknown ids are absent from the map.
func (r *MongoProductRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	out := make(map[int64]*domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer cursor.Close(ctx)

	var products []*domain.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// DecrementStock subtracts n only while count >= n, so stock never goes negative.
func (r *MongoProductRepository) DecrementStock(ctx context.Context, id int64, n int) error {
	if n <= 0 {
		return nil
	}

	filter := bson.M{
		"_id":   id,
		"count": bson.M{"$gte": n},
	}
	update := bson.M{
		"$inc": bson.M{"count": -n},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrStockShortfall
	}
	return nil
}

// Upsert writes the whole product, keeping the original creation time.
func (r *MongoProductRepository) Upsert(ctx context.Context, product *domain.Product) error {
	now := time.Now().UTC()
	product.UpdatedAt = now

	update := bson.M{
		"$set": bson.M{
			"name":       product.Name,
			"price":      product.Price,
			"discount":   product.Discount,
			"count":      product.Count,
			"enabled":    product.Enabled,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}

	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": product.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}
