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

type ExternalUserRepository interface {
	// Touch upserts the user and marks it online.
	Touch(ctx context.Context, platform, chatID string) (*models.ExternalUser, error)
	GetByID(ctx context.Context, id string) (*models.ExternalUser, error)
	SetSuspended(ctx context.Context, id string, suspended bool) error
	SetOnline(ctx context.Context, id string, online bool) error
}

type externalUserRepo struct {
	collection *mongo.Collection
}

func NewExternalUserRepository(db *DB) ExternalUserRepository {
	return &externalUserRepo{
		collection: db.Database.Collection(collExternalUsers),
	}
}

func (r *externalUserRepo) Touch(ctx context.Context, platform, chatID string) (*models.ExternalUser, error) {
	now := time.Now()
	id := models.UniqueUserID(platform, chatID)
	update := bson.M{
		"$set": bson.M{
			"online":         true,
			"last_status_at": now,
			"updated_at":     now,
		},
		"$setOnInsert": bson.M{
			"platform":   platform,
			"chat_id":    chatID,
			"suspended":  false,
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var user models.ExternalUser
	if err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to upsert external user: %w", err)
	}
	return &user, nil
}

func (r *externalUserRepo) GetByID(ctx context.Context, id string) (*models.ExternalUser, error) {
	var user models.ExternalUser
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, notFound(err, "get external user")
	}
	return &user, nil
}

func (r *externalUserRepo) SetSuspended(ctx context.Context, id string, suspended bool) error {
	return r.set(ctx, id, bson.M{"suspended": suspended}, "suspend external user")
}

func (r *externalUserRepo) SetOnline(ctx context.Context, id string, online bool) error {
	return r.set(ctx, id, bson.M{"online": online, "last_status_at": time.Now()}, "update external user status")
}

func (r *externalUserRepo) set(ctx context.Context, id string, fields bson.M, action string) error {
	fields["updated_at"] = time.Now()
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	if result.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}
