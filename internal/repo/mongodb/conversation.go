package mongodb

import (
	"context"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

const (
	counterChats    = "chats"
	counterMessages = "messages"
)

type ConversationRepository interface {
	GetOpenByUser(ctx context.Context, userID string) (*models.Conversation, error)
	GetByID(ctx context.Context, chatID int64) (*models.Conversation, error)
	// Create fails with models.ErrStorageConflict when the user already has
	// an open conversation.
	Create(ctx context.Context, userID, operatorID string) (*models.Conversation, error)
	ListByOperator(ctx context.Context, operatorID string) ([]*models.Conversation, error)
	// Touch fails with models.ErrNotFound once the conversation is archived.
	Touch(ctx context.Context, chatID int64) error

	// Archive moves the conversation and its messages to the archive in one
	// transaction.
	Archive(ctx context.Context, chatID int64) (*models.ArchivedConversation, error)
	LatestArchived(ctx context.Context, userID string) (*models.ArchivedConversation, error)
	// Unarchive opens a new conversation for operatorID carrying the archived
	// messages in their original order, then drops the archived copies.
	Unarchive(ctx context.Context, archived *models.ArchivedConversation, operatorID string) (*models.Conversation, error)
}

type conversationRepo struct {
	client           *mongo.Client
	chats            *mongo.Collection
	archivedChats    *mongo.Collection
	messages         *mongo.Collection
	archivedMessages *mongo.Collection
	counters         CounterRepository
}

func NewConversationRepository(db *DB, counters CounterRepository) ConversationRepository {
	return &conversationRepo{
		client:           db.Client,
		chats:            db.Database.Collection(collChats),
		archivedChats:    db.Database.Collection(collArchivedChats),
		messages:         db.Database.Collection(collMessages),
		archivedMessages: db.Database.Collection(collArchivedMessages),
		counters:         counters,
	}
}

func (r *conversationRepo) GetOpenByUser(ctx context.Context, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.chats.FindOne(ctx, bson.M{"user_id": userID}).Decode(&conv); err != nil {
		return nil, notFound(err, "get open conversation")
	}
	return &conv, nil
}

func (r *conversationRepo) GetByID(ctx context.Context, chatID int64) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.chats.FindOne(ctx, bson.M{"_id": chatID}).Decode(&conv); err != nil {
		return nil, notFound(err, "get conversation")
	}
	return &conv, nil
}

func (r *conversationRepo) Create(ctx context.Context, userID, operatorID string) (*models.Conversation, error) {
	id, err := r.counters.Next(ctx, counterChats)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	conv := &models.Conversation{
		ID:         id,
		UserID:     userID,
		OperatorID: operatorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := r.chats.InsertOne(ctx, conv); err != nil {
		return nil, mapWriteError(err, "create conversation")
	}
	return conv, nil
}

func (r *conversationRepo) ListByOperator(ctx context.Context, operatorID string) ([]*models.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := r.chats.Find(ctx, bson.M{"operator_id": operatorID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return decodeAll[*models.Conversation](ctx, cursor)
}

func (r *conversationRepo) Touch(ctx context.Context, chatID int64) error {
	res, err := r.chats.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{"$set": bson.M{"updated_at": time.Now()}})
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: conversation %d", models.ErrNotFound, chatID)
	}
	return nil
}

// inTransaction runs fn in a multi-document transaction. Writes outside the
// transaction that touch the same documents make it retry from the start.
func inTransaction[T any](ctx context.Context, client *mongo.Client, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	session, err := client.StartSession()
	if err != nil {
		return zero, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	out, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return fn(sc)
	})
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

func (r *conversationRepo) Archive(ctx context.Context, chatID int64) (*models.ArchivedConversation, error) {
	archived, err := inTransaction(ctx, r.client, func(ctx context.Context) (*archiveResult, error) {
		return r.archive(ctx, chatID)
	})
	if err != nil {
		return nil, err
	}
	log.Infow(ctx, "conversation archived", "chat_id", chatID, "messages", archived.messages)
	return archived.conv, nil
}

type archiveResult struct {
	conv     *models.ArchivedConversation
	messages int
}

func (r *conversationRepo) archive(ctx context.Context, chatID int64) (*archiveResult, error) {
	conv, err := r.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	msgs, err := r.findMessages(ctx, r.messages, chatID)
	if err != nil {
		return nil, err
	}

	archived := &models.ArchivedConversation{
		ID:         conv.ID,
		UserID:     conv.UserID,
		OperatorID: conv.OperatorID,
		CreatedAt:  conv.CreatedAt,
		ArchivedAt: time.Now(),
	}
	if _, err := r.archivedChats.InsertOne(ctx, archived); err != nil {
		return nil, mapWriteError(err, "archive conversation")
	}
	if len(msgs) > 0 {
		docs := make([]any, len(msgs))
		for i, m := range msgs {
			docs[i] = m
		}
		if _, err := r.archivedMessages.InsertMany(ctx, docs); err != nil {
			return nil, mapWriteError(err, "archive messages")
		}
		if _, err := r.messages.DeleteMany(ctx, copiedMessagesFilter(msgs)); err != nil {
			return nil, fmt.Errorf("failed to delete archived messages: %w", err)
		}
	}
	if _, err := r.chats.DeleteOne(ctx, bson.M{"_id": chatID}); err != nil {
		return nil, fmt.Errorf("failed to delete archived conversation: %w", err)
	}
	return &archiveResult{conv: archived, messages: len(msgs)}, nil
}

// copiedMessagesFilter matches exactly the messages that were copied, never
// one stored after they were read.
func copiedMessagesFilter(msgs []*models.Message) bson.M {
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return bson.M{"_id": bson.M{"$in": ids}}
}

func (r *conversationRepo) LatestArchived(ctx context.Context, userID string) (*models.ArchivedConversation, error) {
	opts := options.FindOne().SetSort(latestArchivedOrder)
	var archived models.ArchivedConversation
	if err := r.archivedChats.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&archived); err != nil {
		return nil, notFound(err, "get archived conversation")
	}
	return &archived, nil
}

func (r *conversationRepo) Unarchive(ctx context.Context, archived *models.ArchivedConversation, operatorID string) (*models.Conversation, error) {
	var restored int
	conv, err := inTransaction(ctx, r.client, func(ctx context.Context) (*models.Conversation, error) {
		msgs, err := r.findMessages(ctx, r.archivedMessages, archived.ID)
		if err != nil {
			return nil, err
		}
		restored = len(msgs)

		conv, err := r.Create(ctx, archived.UserID, operatorID)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			first, err := r.counters.Reserve(ctx, counterMessages, int64(len(msgs)))
			if err != nil {
				return nil, err
			}
			opts := options.InsertMany().SetOrdered(true)
			if _, err := r.messages.InsertMany(ctx, restoredMessages(msgs, conv.ID, first), opts); err != nil {
				return nil, mapWriteError(err, "restore messages")
			}
			if _, err := r.archivedMessages.DeleteMany(ctx, copiedMessagesFilter(msgs)); err != nil {
				return nil, fmt.Errorf("failed to delete archived messages: %w", err)
			}
		}
		if _, err := r.archivedChats.DeleteOne(ctx, bson.M{"_id": archived.ID}); err != nil {
			return nil, fmt.Errorf("failed to delete archived conversation: %w", err)
		}
		return conv, nil
	})
	if err != nil {
		return nil, err
	}
	log.Infow(ctx, "conversation unarchived",
		"archived_chat_id", archived.ID, "chat_id", conv.ID, "operator_id", operatorID, "messages", restored)
	return conv, nil
}

// restoredMessages renumbers archived messages from first on, keeping their
// order and timestamps.
func restoredMessages(msgs []*models.Message, chatID, first int64) []any {
	docs := make([]any, len(msgs))
	for i, m := range msgs {
		docs[i] = &models.Message{
			ID:         first + int64(i),
			ChatID:     chatID,
			Text:       m.Text,
			IsFromUser: m.IsFromUser,
			CreatedAt:  m.CreatedAt,
		}
	}
	return docs
}

var latestArchivedOrder = bson.D{{Key: "archived_at", Value: -1}, {Key: "_id", Value: -1}}

var messageOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

func (r *conversationRepo) findMessages(ctx context.Context, coll *mongo.Collection, chatID int64) ([]*models.Message, error) {
	opts := options.Find().SetSort(messageOrder)
	cursor, err := coll.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	return decodeAll[*models.Message](ctx, cursor)
}
