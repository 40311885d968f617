package server

import (
	"errors"
	"net/http"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/labstack/echo/v4"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/internal/platform"
	"github.com/nguyentranbao-ct/chat-relay/internal/usecase"
	"github.com/nguyentranbao-ct/chat-relay/pkg/util"
)

const (
	okBody    = "OK"
	aliveBody = "I'm ok"
)

type Controller interface {
	Index(c echo.Context) error
	Health(c echo.Context) error
	Init(c echo.Context) error

	VerifyWebhook(c echo.Context) error
	Webhook(c echo.Context) error

	ListChats(c echo.Context, req operatorRequest) ([]*models.Conversation, error)
	ListMessages(c echo.Context, req chatRequest) ([]models.MessageFrame, error)
	ArchiveChat(c echo.Context, req chatRequest) error
	SuspendUser(c echo.Context, req userRequest) error
	UnsuspendUser(c echo.Context, req userRequest) error
}

type operatorRequest struct {
	OperatorID string `json:"-" operator:"id" validate:"required"`
}

type chatRequest struct {
	ChatID     int64  `json:"-" param:"id" validate:"gt=0"`
	OperatorID string `json:"-" operator:"id" validate:"required"`
}

type userRequest struct {
	UserID     string `json:"-" param:"id" validate:"required,unique_chat_id"`
	OperatorID string `json:"-" operator:"id" validate:"required"`
}

type controller struct {
	conf  *config.Config
	relay usecase.RelayUsecase
}

func NewController(conf *config.Config, relay usecase.RelayUsecase) Controller {
	return &controller{
		conf:  conf,
		relay: relay,
	}
}

func (h *controller) Index(c echo.Context) error {
	return c.String(http.StatusOK, aliveBody)
}

func (h *controller) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "chat-relay",
	})
}

// Init (re)registers the webhook url with every enabled platform.
func (h *controller) Init(c echo.Context) error {
	if err := h.relay.RegisterWebhooks(c.Request().Context()); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.String(http.StatusOK, aliveBody)
}

// VerifyWebhook answers the facebook subscription handshake.
func (h *controller) VerifyWebhook(c echo.Context) error {
	token := h.conf.Facebook.VerificationToken
	if c.QueryParam("hub.mode") != "subscribe" || token == "" || c.QueryParam("hub.verify_token") != token {
		return c.String(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}

// Webhook relays one platform update. Updates that were answered with a
// notice to the user are still acknowledged so platforms do not retry them.
func (h *controller) Webhook(c echo.Context) error {
	ctx := c.Request().Context()
	req, err := platform.NewRequest(c.Request())
	if err != nil {
		return err
	}

	err = h.relay.HandleInbound(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrSuspended), errors.Is(err, models.ErrNoPersonnelAvailable):
		log.Infow(ctx, "inbound message answered with a notice", "reason", err)
	default:
		return err
	}
	return c.String(http.StatusOK, okBody)
}

func (h *controller) ListChats(c echo.Context, req operatorRequest) ([]*models.Conversation, error) {
	return h.relay.ListOpenConversations(c.Request().Context(), req.OperatorID)
}

func (h *controller) ListMessages(c echo.Context, req chatRequest) ([]models.MessageFrame, error) {
	msgs, err := h.relay.ListMessages(c.Request().Context(), req.OperatorID, req.ChatID)
	if err != nil {
		return nil, err
	}
	return util.ConvertList(msgs, models.NewMessageFrame), nil
}

func (h *controller) ArchiveChat(c echo.Context, req chatRequest) error {
	return h.relay.ArchiveConversation(c.Request().Context(), req.OperatorID, req.ChatID)
}

func (h *controller) SuspendUser(c echo.Context, req userRequest) error {
	log.Infow(c.Request().Context(), "suspending user", "user_id", req.UserID, "operator_id", req.OperatorID)
	return h.relay.SetSuspended(c.Request().Context(), req.UserID, true)
}

func (h *controller) UnsuspendUser(c echo.Context, req userRequest) error {
	log.Infow(c.Request().Context(), "unsuspending user", "user_id", req.UserID, "operator_id", req.OperatorID)
	return h.relay.SetSuspended(c.Request().Context(), req.UserID, false)
}
