package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/carousell/ct-go/pkg/logger"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	pkgmdw "github.com/nguyentranbao-ct/chat-relay/internal/server/middleware"
	"github.com/nguyentranbao-ct/chat-relay/internal/usecase"
)

const wsPrefix = "/ws/"

// NewEcho builds the router with every relay route mounted.
func NewEcho(
	conf *config.Config,
	handler Controller,
	sockets *SocketHandler,
	auth usecase.AuthUsecase,
) *echo.Echo {
	httpLog := logger.MustNamed("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = pkgmdw.NewValidator()
	e.HTTPErrorHandler = pkgmdw.ErrorHandler(httpLog)

	logConfig := pkgmdw.LogRequestConfig{
		Logger: httpLog,
		Enabled: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path != "/health" && path != "/metrics"
		},
		ResponseBody: func(c echo.Context) bool {
			return !strings.HasPrefix(c.Request().URL.Path, wsPrefix)
		},
		ParamValues: func(c echo.Context) bool {
			return !strings.HasPrefix(c.Request().URL.Path, wsPrefix)
		},
	}

	var corsPattern *regexp.Regexp
	if conf.Server.CORSOrigins != "" {
		corsPattern = regexp.MustCompile(conf.Server.CORSOrigins)
	}

	e.Use(pkgmdw.Metrics())
	e.Use(pkgmdw.RequestID())
	e.Use(pkgmdw.CORS(corsPattern))
	e.Use(pkgmdw.LogRequest(logConfig))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Errorw(c.Request().Context(), "PANIC RECOVER", "error", err, "stack", string(stack))
			return err
		},
	}))

	e.GET("/", handler.Index)
	e.GET("/health", handler.Health)
	e.GET("/init", handler.Init)

	e.GET(conf.Relay.WebhookPath, handler.VerifyWebhook)
	e.POST(conf.Relay.WebhookPath, handler.Webhook)

	e.GET(wsPrefix+":token", sockets.Serve)

	api := e.Group("/api/v1", pkgmdw.SessionAuth(auth))
	api.GET("/chats", pkgmdw.WrapHandler(handler.ListChats))
	api.GET("/chats/:id/messages", pkgmdw.WrapHandler(handler.ListMessages))
	api.POST("/chats/:id/archive", pkgmdw.WrapHandler(handler.ArchiveChat))
	api.POST("/users/:id/suspend", pkgmdw.WrapHandler(handler.SuspendUser))
	api.POST("/users/:id/unsuspend", pkgmdw.WrapHandler(handler.UnsuspendUser))

	if conf.Server.EnablePprof {
		pkgmdw.RegisterPprof(e, "")
	}
	return e
}

// StartServer serves e for the lifetime of the fx app. On stop every
// operator is told the relay is restarting and disconnected before the
// listener drains.
func StartServer(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	conf *config.Config,
	e *echo.Echo,
	connections OperatorConnections,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				addr := conf.Server.Addr()
				log.Infow(ctx, "starting HTTP server", "addr", addr, "tls", conf.Server.TLSEnabled())
				var err error
				if conf.Server.TLSEnabled() {
					err = e.StartTLS(addr, conf.Server.TLSCertFile, conf.Server.TLSKeyFile)
				} else {
					err = e.Start(addr)
				}
				if !errors.Is(err, http.ErrServerClosed) {
					log.Errorw(ctx, "HTTP server stopped", "error", err)
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			notified := connections.Broadcast(ctx, models.NoticeFrame{Notice: usecase.NoticeShutdown})
			connections.DisconnectAll(ctx)
			log.Infow(ctx, "operators disconnected", "notified", notified)

			ctx, cancel := context.WithTimeout(ctx, conf.Server.ShutdownWait)
			defer cancel()
			return e.Shutdown(ctx)
		},
	})
}
