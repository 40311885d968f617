package app

import (
	"github.com/carousell/ct-go/pkg/logger"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/chat-relay/internal/server"
	"github.com/nguyentranbao-ct/chat-relay/internal/usecase"
	"github.com/nguyentranbao-ct/chat-relay/pkg/util"
)

func Invoke(funcs ...any) *fx.App {
	log := logger.MustNamed("app")
	conf := config.MustLoad()
	log.Debugw("config loaded",
		"stage", conf.Server.Stage,
		"addr", conf.Server.Addr(),
		"webhook_path", conf.Relay.WebhookPath,
		"platforms", enabledPlatforms(conf),
	)
	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{
				Logger: log.Unwrap().Desugar(),
			}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Provide(
			newMongoDB,
			newRedisClient,
			newPresenceStore,
			newPublisher,
			newMailer,
			newStorage,
			newPlatformRegistry,
			newSocketRegistry,
			util.NewRestyClient,

			mongodb.NewCounterRepository,
			mongodb.NewConversationRepository,
			mongodb.NewMessageRepository,
			mongodb.NewOperatorRepository,
			mongodb.NewExternalUserRepository,
			mongodb.NewActivityRepository,
			mongodb.NewScoreRepository,
			mongodb.NewSessionRepository,

			asPlatformGateway,
			asConnectionRegistry,
			asOperatorConnections,

			usecase.NewAssignmentPolicy,
			usecase.NewRelayUsecase,
			usecase.NewAuthUsecase,

			server.NewController,
			server.NewSocketHandler,
			server.NewEcho,
		),
		fx.Supply(conf),
		fx.Invoke(RefreshPresence, DrainRelay),
		fx.Invoke(funcs...),
	)
}
