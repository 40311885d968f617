package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/carousell/ct-go/pkg/logger/log_context"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/mongodb"
)

type authUsecase struct {
	sessionRepo  mongodb.SessionRepository
	operatorRepo mongodb.OperatorRepository
	titles       []string
}

func NewAuthUsecase(
	conf *config.Config,
	sessionRepo mongodb.SessionRepository,
	operatorRepo mongodb.OperatorRepository,
) AuthUsecase {
	return &authUsecase{
		sessionRepo:  sessionRepo,
		operatorRepo: operatorRepo,
		titles:       conf.Relay.ChatPermissions,
	}
}

func (u *authUsecase) Authenticate(ctx context.Context, token string) (*models.Operator, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, models.ErrUnauthorized
	}

	session, err := u.sessionRepo.GetActive(ctx, token)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	op, err := u.operatorRepo.GetByID(ctx, session.UserID)
	if errors.Is(err, models.ErrNotFound) {
		log.Warnw(ctx, "session points to unknown operator", "operator_id", session.UserID)
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	if !op.IsActive {
		return nil, models.ErrUnauthorized
	}

	allowed, err := u.operatorRepo.HasPermission(ctx, op.ID, u.titles)
	if err != nil {
		return nil, fmt.Errorf("failed to check permission: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: operator %s cannot chat", models.ErrUnauthorized, op.ID)
	}
	return op, nil
}
