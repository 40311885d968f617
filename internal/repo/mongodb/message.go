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

type MessageRepository interface {
	Create(ctx context.Context, chatID int64, text string, isFromUser bool) (*models.Message, error)
	ListByChat(ctx context.Context, chatID int64) ([]*models.Message, error)
	// Delete removes an open conversation message. It reports false when the
	// message is no longer there, e.g. it was archived with its conversation.
	Delete(ctx context.Context, id int64) (bool, error)
}

type messageRepo struct {
	collection *mongo.Collection
	counters   CounterRepository
}

func NewMessageRepository(db *DB, counters CounterRepository) MessageRepository {
	return &messageRepo{
		collection: db.Database.Collection(collMessages),
		counters:   counters,
	}
}

func (r *messageRepo) Create(ctx context.Context, chatID int64, text string, isFromUser bool) (*models.Message, error) {
	id, err := r.counters.Next(ctx, counterMessages)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		ID:         id,
		ChatID:     chatID,
		Text:       text,
		IsFromUser: isFromUser,
		CreatedAt:  time.Now(),
	}
	if _, err := r.collection.InsertOne(ctx, msg); err != nil {
		return nil, mapWriteError(err, "create message")
	}
	return msg, nil
}

func (r *messageRepo) ListByChat(ctx context.Context, chatID int64) ([]*models.Message, error) {
	opts := options.Find().SetSort(messageOrder)
	cursor, err := r.collection.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return decodeAll[*models.Message](ctx, cursor)
}

func (r *messageRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	return res.DeletedCount > 0, nil
}
