package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CounterRepository hands out monotonically increasing integer ids.
type CounterRepository interface {
	Next(ctx context.Context, name string) (int64, error)
	// Reserve allocates n consecutive ids and returns the first one.
	Reserve(ctx context.Context, name string, n int64) (int64, error)
}

type counterRepo struct {
	collection *mongo.Collection
}

func NewCounterRepository(db *DB) CounterRepository {
	return &counterRepo{
		collection: db.Database.Collection(collCounters),
	}
}

func (r *counterRepo) Next(ctx context.Context, name string) (int64, error) {
	return r.Reserve(ctx, name, 1)
}

func (r *counterRepo) Reserve(ctx context.Context, name string, n int64) (int64, error) {
	if n < 1 {
		return 0, fmt.Errorf("invalid id reservation size %d", n)
	}
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": n}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return doc.Seq - n + 1, nil
}
