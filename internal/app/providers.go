package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/platform"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/mailer"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/presence"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/publisher"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/socket"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/storage"
	"github.com/nguyentranbao-ct/chat-relay/internal/server"
	"github.com/nguyentranbao-ct/chat-relay/internal/server/middleware"
	"github.com/nguyentranbao-ct/chat-relay/internal/usecase"
)

const connectTimeout = 10 * time.Second

func newMongoDB(lc fx.Lifecycle, cfg *config.Config) (*mongodb.DB, error) {
	opts := options.Client().
		ApplyURI(cfg.Database.URI).
		SetAppName("chat-relay")

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	mongoClient, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("init mongo client: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return mongoClient.Ping(ctx, nil)
		},
		OnStop: func(ctx context.Context) error {
			return mongoClient.Disconnect(ctx)
		},
	})

	return &mongodb.DB{
		Client:   mongoClient,
		Database: mongoClient.Database(cfg.Database.Database),
	}, nil
}

// EnsureIndexes runs once the database is reachable.
func EnsureIndexes(lc fx.Lifecycle, db *mongodb.DB) {
	lc.Append(fx.Hook{
		OnStart: db.EnsureIndexes,
	})
}

// newRedisClient returns nil when REDIS_ADDR is empty.
func newRedisClient(lc fx.Lifecycle, cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func newPresenceStore(cfg *config.Config, client *redis.Client) presence.Store {
	if client == nil {
		return presence.NewNoopStore()
	}
	return presence.NewRedisStore(client, cfg.Redis.PresenceTTL)
}

func newPublisher(lc fx.Lifecycle, cfg *config.Config) (publisher.Publisher, error) {
	if cfg.RabbitMQ.URL == "" {
		return publisher.NewNoopPublisher(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	pub, err := publisher.NewRabbitPublisher(ctx, publisher.Options{
		URL:           cfg.RabbitMQ.URL,
		Exchange:      cfg.RabbitMQ.Exchange,
		Producer:      cfg.RabbitMQ.Producer,
		CorrelationID: middleware.GetRequestIDFromContext,
	})
	if err != nil {
		return nil, fmt.Errorf("init rabbitmq publisher: %w", err)
	}
	lc.Append(fx.StopHook(pub.Close))
	return pub, nil
}

func newMailer(cfg *config.Config) mailer.Mailer {
	if cfg.Mail.Host == "" {
		return mailer.NewNoopMailer()
	}
	return mailer.NewSMTPMailer(cfg.Mail, cfg.Server.IsProd())
}

func newStorage(cfg *config.Config, client *resty.Client) (storage.Store, error) {
	if cfg.Storage.Endpoint == "" {
		return storage.NewNoopStore(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return storage.NewMinioStore(ctx, cfg.Storage, client)
}

// newPlatformRegistry registers the enabled adapters. Registration order is
// also the order in which inbound requests are matched.
func newPlatformRegistry(cfg *config.Config, client *resty.Client) (*platform.Registry, error) {
	registry := platform.NewRegistry()
	var adapters []platform.Adapter
	if cfg.Viber.Enabled() {
		adapters = append(adapters, platform.NewViberAdapter(cfg.Viber, client))
	}
	if cfg.Facebook.Enabled() {
		adapters = append(adapters, platform.NewFacebookAdapter(cfg.Facebook, client))
	}
	if cfg.Telegram.Enabled() {
		adapters = append(adapters, platform.NewTelegramAdapter(cfg.Telegram, client))
	}
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}
	if len(adapters) == 0 {
		log.Warnw(context.Background(), "no messaging platform configured, every webhook will be rejected")
	}
	return registry, nil
}

func enabledPlatforms(cfg *config.Config) []string {
	var names []string
	if cfg.Viber.Enabled() {
		names = append(names, string(platform.PlatformViber))
	}
	if cfg.Facebook.Enabled() {
		names = append(names, string(platform.PlatformFacebook))
	}
	if cfg.Telegram.Enabled() {
		names = append(names, string(platform.PlatformTelegram))
	}
	return names
}

func newSocketRegistry(store presence.Store) (*socket.Registry, error) {
	return socket.NewRegistry(store)
}

func asPlatformGateway(r *platform.Registry) usecase.PlatformGateway { return r }

func asConnectionRegistry(r *socket.Registry) usecase.ConnectionRegistry { return r }

func asOperatorConnections(r *socket.Registry) server.OperatorConnections { return r }

// DrainRelay lets attachment mirrors finish once the server stopped taking
// traffic. Hooks stop in reverse order, so this runs after StartServer's.
func DrainRelay(lc fx.Lifecycle, relay usecase.RelayUsecase) {
	lc.Append(fx.StopHook(relay.Drain))
}

// RefreshPresence keeps the redis presence keys of connected operators alive
// while the relay runs.
func RefreshPresence(lc fx.Lifecycle, cfg *config.Config, registry *socket.Registry, store presence.Store) {
	interval := cfg.Redis.PresenceTTL / 2
	if cfg.Redis.Addr == "" || interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := store.Refresh(ctx, registry.ConnectedIDs(ctx)); err != nil {
							log.Warnw(ctx, "failed to refresh operator presence", "error", err)
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}
