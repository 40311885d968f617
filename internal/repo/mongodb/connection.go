package mongodb

import (
	"context"
	"errors"
	"fmt"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

const (
	collCounters         = "counters"
	collExternalUsers    = "external_users"
	collOperators        = "operators"
	collRoles            = "roles"
	collSessions         = "sessions"
	collChats            = "chats"
	collArchivedChats    = "archived_chats"
	collMessages         = "messages"
	collArchivedMessages = "archived_messages"
	collOperatorScores   = "operator_scores"
)

type DB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func (db *DB) Close(ctx context.Context) error {
	return db.Client.Disconnect(ctx)
}

type indexSpec struct {
	collection string
	model      mongo.IndexModel
}

var indexes = []indexSpec{
	{collChats, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_user_id"),
	}},
	{collChats, mongo.IndexModel{
		Keys: bson.D{{Key: "operator_id", Value: 1}, {Key: "created_at", Value: -1}},
	}},
	{collArchivedChats, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "archived_at", Value: -1}},
	}},
	{collArchivedChats, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	}},
	{collMessages, mongo.IndexModel{
		Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: 1}},
	}},
	{collArchivedMessages, mongo.IndexModel{
		Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: 1}},
	}},
	{collSessions, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_token", Value: 1}},
		Options: options.Index().SetUnique(true),
	}},
	{collSessions, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}},
}

// EnsureIndexes creates the indexes the relay relies on. The unique index on
// chats.user_id is what keeps a single open conversation per user.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	for _, idx := range indexes {
		name, err := db.Database.Collection(idx.collection).Indexes().CreateOne(ctx, idx.model)
		if err != nil {
			return fmt.Errorf("failed to create index on %s: %w", idx.collection, err)
		}
		log.Debugw(ctx, "index ensured", "collection", idx.collection, "index", name)
	}
	return nil
}

// mapWriteError turns duplicate key failures into models.ErrStorageConflict.
func mapWriteError(err error, action string) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s: %v", models.ErrStorageConflict, action, err)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

func notFound(err error, action string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ErrNotFound
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

func decodeAll[T any](ctx context.Context, cursor *mongo.Cursor) ([]T, error) {
	defer cursor.Close(ctx)

	var out []T
	for cursor.Next(ctx) {
		var item T
		if err := cursor.Decode(&item); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		out = append(out, item)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return out, nil
}
