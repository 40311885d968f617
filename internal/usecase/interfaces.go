package usecase

import (
	"context"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/internal/platform"
)

// PlatformGateway is the part of the platform registry the relay drives.
type PlatformGateway interface {
	CreateEvent(ctx context.Context, req *platform.Request, requireText bool) (platform.Event, error)
	Send(ctx context.Context, uniqueID, text string) error
	AttachmentURL(ctx context.Context, p platform.Platform, att models.Attachment) (string, error)
	RegisterWebhooks(ctx context.Context, url string) error
}

// ConnectionRegistry is the operator side of the relay.
type ConnectionRegistry interface {
	ConnectedIDs(ctx context.Context) []string
	SendJSON(ctx context.Context, operatorID string, v any) error
}

type RelayUsecase interface {
	HandleInbound(ctx context.Context, req *platform.Request) error
	HandleOutbound(ctx context.Context, operatorID string, frame models.OperatorFrame) error

	ArchiveConversation(ctx context.Context, operatorID string, chatID int64) error
	ListOpenConversations(ctx context.Context, operatorID string) ([]*models.Conversation, error)
	ListMessages(ctx context.Context, operatorID string, chatID int64) ([]*models.Message, error)
	SetSuspended(ctx context.Context, userID string, suspended bool) error

	RegisterWebhooks(ctx context.Context) error
	UpdateBusyness(ctx context.Context, update models.BusynessUpdate) error

	// Drain waits for background attachment mirrors started by HandleInbound.
	Drain(ctx context.Context) error
}

type AuthUsecase interface {
	// Authenticate resolves a session token to a chat capable operator.
	Authenticate(ctx context.Context, token string) (*models.Operator, error)
}

type AssignmentPolicy interface {
	Assign(ctx context.Context, user *models.ExternalUser, available []string) (*models.Conversation, models.AssignOutcome, error)
}
