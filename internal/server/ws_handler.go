package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/carousell/ct-go/pkg/logger"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/labstack/echo/v4"
	"nhooyr.io/websocket"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/socket"
	pkgmdw "github.com/nguyentranbao-ct/chat-relay/internal/server/middleware"
	"github.com/nguyentranbao-ct/chat-relay/internal/usecase"
)

// OperatorConnections is the registry side used by the websocket endpoint
// and by shutdown.
type OperatorConnections interface {
	Connect(ctx context.Context, operatorID string, t socket.Transport)
	Release(ctx context.Context, operatorID string, t socket.Transport)
	Broadcast(ctx context.Context, v any) int
	DisconnectAll(ctx context.Context)
}

type SocketHandler struct {
	conf        config.RelayConfig
	auth        usecase.AuthUsecase
	relay       usecase.RelayUsecase
	connections OperatorConnections
}

func NewSocketHandler(conf *config.Config, auth usecase.AuthUsecase, relay usecase.RelayUsecase, connections OperatorConnections) *SocketHandler {
	return &SocketHandler{
		conf:        conf.Relay,
		auth:        auth,
		relay:       relay,
		connections: connections,
	}
}

// Serve upgrades GET /ws/:token for an operator allowed to chat, then relays
// every frame they send until the connection drops.
func (h *SocketHandler) Serve(c echo.Context) error {
	ctx := c.Request().Context()
	op, err := h.auth.Authenticate(ctx, c.Param("token"))
	if err != nil {
		return err
	}
	pkgmdw.SetOperator(c, op)

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns:     h.conf.WSOriginPatterns,
		InsecureSkipVerify: h.conf.WSInsecureSkipVerify,
	})
	if err != nil {
		// Accept already wrote the handshake failure.
		log.Warnw(ctx, "websocket handshake failed", "operator_id", op.ID, "error", err)
		return nil
	}

	t := socket.NewWSTransport(conn, h.conf.WSPingInterval, h.conf.SendTimeout)
	h.connections.Connect(ctx, op.ID, t)
	defer h.connections.Release(context.WithoutCancel(ctx), op.ID, t)

	h.readLoop(ctx, op.ID, t)
	return nil
}

func (h *SocketHandler) readLoop(ctx context.Context, operatorID string, t *socket.WSTransport) {
	wsLog := logger.MustNamed("ws")
	for {
		var frame models.OperatorFrame
		err := t.ReadJSON(ctx, &frame)
		if errors.Is(err, models.ErrInvalidRequest) {
			_ = t.SendJSON(ctx, models.ErrorFrame{Error: err.Error()})
			continue
		}
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				wsLog.Debugw("operator closed connection", "operator_id", operatorID)
			default:
				wsLog.Infow("operator connection lost", "operator_id", operatorID, "error", err)
			}
			return
		}

		// HandleOutbound reports its own failures back to the operator.
		if err := h.relay.HandleOutbound(ctx, operatorID, frame); err != nil {
			level := logger.WarnLevel
			if pkgmdw.HTTPStatus(err) >= http.StatusInternalServerError {
				level = logger.ErrorLevel
			}
			log.Logw(ctx, level, "operator frame failed", "operator_id", operatorID, "chat_id", frame.ChatID, "error", err)
		}
	}
}
