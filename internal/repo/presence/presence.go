package presence

import (
	"context"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "relay:operator:online:"

// Store publishes which operators hold a live connection so other relay
// instances and dashboards can see it.
type Store interface {
	MarkOnline(ctx context.Context, operatorID string) error
	MarkOffline(ctx context.Context, operatorID string) error
	IsOnline(ctx context.Context, operatorID string) (bool, error)
	// Refresh extends the ttl of every listed operator.
	Refresh(ctx context.Context, operatorIDs []string) error
}

func Key(operatorID string) string {
	return keyPrefix + operatorID
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) Store {
	return &redisStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *redisStore) MarkOnline(ctx context.Context, operatorID string) error {
	if err := s.client.Set(ctx, Key(operatorID), time.Now().Unix(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark operator online: %w", err)
	}
	return nil
}

func (s *redisStore) MarkOffline(ctx context.Context, operatorID string) error {
	if err := s.client.Del(ctx, Key(operatorID)).Err(); err != nil {
		return fmt.Errorf("failed to mark operator offline: %w", err)
	}
	return nil
}

func (s *redisStore) IsOnline(ctx context.Context, operatorID string) (bool, error) {
	n, err := s.client.Exists(ctx, Key(operatorID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read operator presence: %w", err)
	}
	return n > 0, nil
}

func (s *redisStore) Refresh(ctx context.Context, operatorIDs []string) error {
	if len(operatorIDs) == 0 {
		return nil
	}
	now := time.Now().Unix()
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range operatorIDs {
			p.Set(ctx, Key(id), now, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to refresh operator presence: %w", err)
	}
	return nil
}

type noopStore struct{}

// NewNoopStore is used when redis is not configured.
func NewNoopStore() Store {
	log.Infow(context.Background(), "redis not configured, operator presence stays in process")
	return noopStore{}
}

func (noopStore) MarkOnline(context.Context, string) error { return nil }
func (noopStore) MarkOffline(context.Context, string) error { return nil }
func (noopStore) IsOnline(context.Context, string) (bool, error) { return false, nil }
func (noopStore) Refresh(context.Context, []string) error { return nil }
