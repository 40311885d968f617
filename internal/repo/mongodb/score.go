package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

type ScoreRepository interface {
	UpsertMany(ctx context.Context, scores []models.OperatorScore) error
	List(ctx context.Context) ([]models.OperatorScore, error)
}

type scoreRepo struct {
	collection *mongo.Collection
}

func NewScoreRepository(db *DB) ScoreRepository {
	return &scoreRepo{
		collection: db.Database.Collection(collOperatorScores),
	}
}

func (r *scoreRepo) UpsertMany(ctx context.Context, scores []models.OperatorScore) error {
	if len(scores) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(scores))
	for _, s := range scores {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": s.OperatorID}).
			SetReplacement(s).
			SetUpsert(true))
	}
	if _, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to upsert operator scores: %w", err)
	}
	return nil
}

func (r *scoreRepo) List(ctx context.Context) ([]models.OperatorScore, error) {
	opts := options.Find().SetSort(bson.D{{Key: "score", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list operator scores: %w", err)
	}
	return decodeAll[models.OperatorScore](ctx, cursor)
}
