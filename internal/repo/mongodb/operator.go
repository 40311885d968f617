package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

type OperatorRepository interface {
	GetByID(ctx context.Context, id string) (*models.Operator, error)
	// FindEligible returns the active operators among ids holding one of the
	// permission titles, directly or through a role.
	FindEligible(ctx context.Context, ids []string, titles []string) ([]*models.Operator, error)
	HasPermission(ctx context.Context, id string, titles []string) (bool, error)
	SetPerceivedBusyness(ctx context.Context, id string, value float64) error
}

type operatorRepo struct {
	collection *mongo.Collection
}

func NewOperatorRepository(db *DB) OperatorRepository {
	return &operatorRepo{
		collection: db.Database.Collection(collOperators),
	}
}

func (r *operatorRepo) GetByID(ctx context.Context, id string) (*models.Operator, error) {
	var op models.Operator
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&op); err != nil {
		return nil, notFound(err, "get operator")
	}
	return &op, nil
}

func eligiblePipeline(match bson.M, titles []string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$lookup", Value: bson.M{
			"from":         collRoles,
			"localField":   "role_ids",
			"foreignField": "_id",
			"as":           "roles",
		}}},
		{{Key: "$match", Value: bson.M{
			"$or": bson.A{
				bson.M{"permissions": bson.M{"$in": titles}},
				bson.M{"roles.permissions": bson.M{"$in": titles}},
			},
		}}},
		{{Key: "$project", Value: bson.M{"roles": 0}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
}

func (r *operatorRepo) FindEligible(ctx context.Context, ids []string, titles []string) ([]*models.Operator, error) {
	if len(ids) == 0 || len(titles) == 0 {
		return nil, nil
	}
	match := bson.M{
		"_id":       bson.M{"$in": ids},
		"is_active": true,
	}
	cursor, err := r.collection.Aggregate(ctx, eligiblePipeline(match, titles))
	if err != nil {
		return nil, fmt.Errorf("failed to find eligible operators: %w", err)
	}
	return decodeAll[*models.Operator](ctx, cursor)
}

func (r *operatorRepo) HasPermission(ctx context.Context, id string, titles []string) (bool, error) {
	ops, err := r.FindEligible(ctx, []string{id}, titles)
	if err != nil {
		return false, err
	}
	return len(ops) > 0, nil
}

func (r *operatorRepo) SetPerceivedBusyness(ctx context.Context, id string, value float64) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"perceived_busyness": value, "updated_at": time.Now()}},
		options.Update(),
	)
	if err != nil {
		return fmt.Errorf("failed to set perceived busyness: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}
