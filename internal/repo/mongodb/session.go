package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

type SessionRepository interface {
	// GetActive resolves a token to a session that has not expired yet.
	GetActive(ctx context.Context, token string) (*models.Session, error)
}

type sessionRepo struct {
	collection *mongo.Collection
}

func NewSessionRepository(db *DB) SessionRepository {
	return &sessionRepo{
		collection: db.Database.Collection(collSessions),
	}
}

func (r *sessionRepo) GetActive(ctx context.Context, token string) (*models.Session, error) {
	filter := bson.M{
		"session_token": token,
		"expires_at":    bson.M{"$gt": time.Now()},
	}
	var session models.Session
	if err := r.collection.FindOne(ctx, filter).Decode(&session); err != nil {
		return nil, notFound(err, "get session")
	}
	return &session, nil
}
