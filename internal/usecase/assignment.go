package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/mongodb"
)

type assignmentPolicy struct {
	convRepo     mongodb.ConversationRepository
	operatorRepo mongodb.OperatorRepository
	activityRepo mongodb.ActivityRepository
	scoreRepo    mongodb.ScoreRepository
	titles       []string
	window       time.Duration
	now          func() time.Time
}

func NewAssignmentPolicy(
	conf *config.Config,
	convRepo mongodb.ConversationRepository,
	operatorRepo mongodb.OperatorRepository,
	activityRepo mongodb.ActivityRepository,
	scoreRepo mongodb.ScoreRepository,
) AssignmentPolicy {
	return &assignmentPolicy{
		convRepo:     convRepo,
		operatorRepo: operatorRepo,
		activityRepo: activityRepo,
		scoreRepo:    scoreRepo,
		titles:       conf.Relay.ChatPermissions,
		window:       conf.Relay.ScoreWindow,
		now:          time.Now,
	}
}

func (p *assignmentPolicy) Assign(ctx context.Context, user *models.ExternalUser, available []string) (*models.Conversation, models.AssignOutcome, error) {
	conv, err := p.convRepo.GetOpenByUser(ctx, user.ID)
	if err == nil {
		return conv, models.OutcomeExisting, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to get open conversation: %w", err)
	}

	if len(available) == 0 {
		return nil, "", models.ErrNoPersonnelAvailable
	}
	pool, err := p.operatorRepo.FindEligible(ctx, available, p.titles)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find eligible operators: %w", err)
	}
	if len(pool) == 0 {
		return nil, "", models.ErrNoPersonnelAvailable
	}

	conv, outcome, err := p.open(ctx, user, pool)
	if errors.Is(err, models.ErrStorageConflict) {
		log.Infow(ctx, "conversation opened concurrently, reusing it", "user_id", user.ID)
		conv, err = p.convRepo.GetOpenByUser(ctx, user.ID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to get conversation after conflict: %w", err)
		}
		return conv, models.OutcomeExisting, nil
	}
	if err != nil {
		return nil, "", err
	}
	return conv, outcome, nil
}

func (p *assignmentPolicy) open(ctx context.Context, user *models.ExternalUser, pool []*models.Operator) (*models.Conversation, models.AssignOutcome, error) {
	archived, err := p.convRepo.LatestArchived(ctx, user.ID)
	switch {
	case err == nil && inPool(pool, archived.OperatorID):
		conv, err := p.convRepo.Unarchive(ctx, archived, archived.OperatorID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to unarchive conversation: %w", err)
		}
		log.Infow(ctx, "conversation reopened", "user_id", user.ID, "chat_id", conv.ID, "operator_id", conv.OperatorID)
		return conv, models.OutcomeReopened, nil
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return nil, "", fmt.Errorf("failed to get archived conversation: %w", err)
	}

	operatorID, err := p.leastBusy(ctx, pool)
	if err != nil {
		return nil, "", err
	}
	conv, err := p.convRepo.Create(ctx, user.ID, operatorID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create conversation: %w", err)
	}
	log.Infow(ctx, "conversation assigned", "user_id", user.ID, "chat_id", conv.ID, "operator_id", operatorID)
	return conv, models.OutcomeAssigned, nil
}

func (p *assignmentPolicy) leastBusy(ctx context.Context, pool []*models.Operator) (string, error) {
	now := p.now()
	since := now.Add(-p.window)

	ids := make([]string, len(pool))
	for i, op := range pool {
		ids[i] = op.ID
	}
	convs, err := p.activityRepo.WindowConversations(ctx, since, ids)
	if err != nil {
		return "", fmt.Errorf("failed to load window activity: %w", err)
	}

	scores := ComputeScores(pool, convs, since, now)
	if err := p.scoreRepo.UpsertMany(ctx, scores); err != nil {
		log.Warnw(ctx, "failed to store operator scores", "error", err)
	}
	return scores[0].OperatorID, nil
}

func inPool(pool []*models.Operator, id string) bool {
	if id == "" {
		return false
	}
	for _, op := range pool {
		if op.ID == id {
			return true
		}
	}
	return false
}
