package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/internal/platform"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/mailer"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/publisher"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/storage"
	"github.com/nguyentranbao-ct/chat-relay/pkg/ctxval"
	"github.com/nguyentranbao-ct/chat-relay/pkg/util"
)

const (
	mirrorTimeout = 2 * time.Minute
	// storeAttempts bounds how often an inbound message is re-homed after
	// its conversation was archived underneath it.
	storeAttempts = 3
)

// Inbound outcomes reported on relay_inbound_total.
const (
	outcomeDelivered    = "delivered"
	outcomeNotConnected = "not_connected"
	outcomeClosed       = "transport_closed"
	outcomeArchived     = "archived"
	outcomeSuspended    = "suspended"
	outcomeNoPersonnel  = "no_personnel"
	outcomeRejected     = "rejected"
	outcomeFailed       = "failed"
)

type relayUsecase struct {
	conf         *config.Config
	gateway      PlatformGateway
	connections  ConnectionRegistry
	policy       AssignmentPolicy
	userRepo     mongodb.ExternalUserRepository
	convRepo     mongodb.ConversationRepository
	messageRepo  mongodb.MessageRepository
	operatorRepo mongodb.OperatorRepository
	publisher    publisher.Publisher
	mailer       mailer.Mailer
	storage      storage.Store
	validate     *validator.Validate

	inboundTotal  *prometheus.CounterVec
	outboundTotal *prometheus.CounterVec

	mirrors sync.WaitGroup
}

func NewRelayUsecase(
	conf *config.Config,
	gateway PlatformGateway,
	connections ConnectionRegistry,
	policy AssignmentPolicy,
	userRepo mongodb.ExternalUserRepository,
	convRepo mongodb.ConversationRepository,
	messageRepo mongodb.MessageRepository,
	operatorRepo mongodb.OperatorRepository,
	pub publisher.Publisher,
	mail mailer.Mailer,
	store storage.Store,
) (RelayUsecase, error) {
	inboundTotal, err := util.GetCounterVec("relay_inbound_total", "Inbound platform messages by outcome", "platform", "outcome")
	if err != nil {
		return nil, err
	}
	outboundTotal, err := util.GetCounterVec("relay_outbound_total", "Operator replies by outcome", "outcome")
	if err != nil {
		return nil, err
	}
	return &relayUsecase{
		conf:          conf,
		gateway:       gateway,
		connections:   connections,
		policy:        policy,
		userRepo:      userRepo,
		convRepo:      convRepo,
		messageRepo:   messageRepo,
		operatorRepo:  operatorRepo,
		publisher:     pub,
		mailer:        mail,
		storage:       store,
		validate:      models.NewValidator(),
		inboundTotal:  inboundTotal,
		outboundTotal: outboundTotal,
	}, nil
}

func (r *relayUsecase) HandleInbound(ctx context.Context, req *platform.Request) error {
	evt, err := r.gateway.CreateEvent(ctx, req, true)
	if err != nil {
		r.inboundTotal.WithLabelValues("", outcomeRejected).Inc()
		return err
	}
	platformName := string(evt.Platform())
	ctxval.SetExternalUserID(ctx, evt.UniqueID())

	outcome, err := r.relayInbound(ctx, evt)
	r.inboundTotal.WithLabelValues(platformName, outcome).Inc()
	return err
}

func (r *relayUsecase) relayInbound(ctx context.Context, evt platform.Event) (string, error) {
	user, err := r.userRepo.Touch(ctx, string(evt.Platform()), evt.ChatID())
	if err != nil {
		return outcomeFailed, fmt.Errorf("failed to resolve user: %w", err)
	}

	if user.Suspended {
		r.notify(ctx, evt, NoticeSuspended)
		return outcomeSuspended, models.ErrSuspended
	}

	conv, assigned, msg, err := r.storeInbound(ctx, user, evt)
	if errors.Is(err, models.ErrNoPersonnelAvailable) {
		r.notify(ctx, evt, NoticeNoPersonnel)
		return outcomeNoPersonnel, err
	}
	if errors.Is(err, errArchivedWithMessage) {
		log.Warnw(ctx, "message archived together with its conversation", "chat_id", conv.ID)
		return outcomeArchived, nil
	}
	if err != nil {
		return outcomeFailed, err
	}
	ctxval.SetOperatorID(ctx, conv.OperatorID)

	if assigned.Opened() {
		r.notify(ctx, evt, NoticeGreeting)
		r.publish(ctx, models.EventConversationAssigned, models.ConversationEvent{
			ChatID:     conv.ID,
			UserID:     conv.UserID,
			OperatorID: conv.OperatorID,
			Outcome:    assigned,
		})
	}

	r.mirrorAttachments(ctx, evt)

	outcome := outcomeDelivered
	err = r.connections.SendJSON(ctx, conv.OperatorID, models.NewMessageFrame(msg))
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotConnected):
		outcome = outcomeNotConnected
		r.notify(ctx, evt, NoticeOperatorOffline)
		r.mailMissed(ctx, conv)
	case errors.Is(err, models.ErrTransportClosed):
		outcome = outcomeClosed
		log.Warnw(ctx, "operator transport closed during delivery", "chat_id", conv.ID, "error", err)
		r.mailMissed(ctx, conv)
	default:
		outcome = outcomeFailed
		log.Errorw(ctx, "failed to deliver message to operator", "chat_id", conv.ID, "error", err)
	}

	r.publish(ctx, models.EventMessageInbound, models.MessageEvent{
		MessageID:  msg.ID,
		ChatID:     conv.ID,
		UserID:     conv.UserID,
		OperatorID: conv.OperatorID,
		IsFromUser: true,
		Delivered:  outcome == outcomeDelivered,
	})
	return outcome, nil
}

var errArchivedWithMessage = errors.New("message archived with its conversation")

// storeInbound assigns the user a conversation and stores the message in it.
// When the conversation is archived between the two steps the message is
// either caught by the archive or left behind; a left behind message is
// removed and stored again under a fresh assignment.
func (r *relayUsecase) storeInbound(ctx context.Context, user *models.ExternalUser, evt platform.Event) (*models.Conversation, models.AssignOutcome, *models.Message, error) {
	for attempt := 1; ; attempt++ {
		conv, assigned, err := r.policy.Assign(ctx, user, r.connections.ConnectedIDs(ctx))
		if err != nil {
			if errors.Is(err, models.ErrNoPersonnelAvailable) {
				return nil, assigned, nil, err
			}
			return nil, assigned, nil, fmt.Errorf("failed to assign conversation: %w", err)
		}

		msg, err := r.messageRepo.Create(ctx, conv.ID, evt.Text(), true)
		if err != nil {
			return nil, assigned, nil, fmt.Errorf("failed to save message: %w", err)
		}
		err = r.convRepo.Touch(ctx, conv.ID)
		if err == nil {
			return conv, assigned, msg, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			log.Warnw(ctx, "failed to touch conversation", "chat_id", conv.ID, "error", err)
			return conv, assigned, msg, nil
		}

		removed, err := r.messageRepo.Delete(ctx, msg.ID)
		if err != nil {
			return nil, assigned, nil, fmt.Errorf("failed to remove message of archived conversation: %w", err)
		}
		if !removed {
			return conv, assigned, nil, errArchivedWithMessage
		}
		if attempt == storeAttempts {
			return nil, assigned, nil, fmt.Errorf("%w: conversation %d archived while storing message", models.ErrStorageConflict, conv.ID)
		}
		log.Infow(ctx, "conversation archived while storing message, reassigning", "chat_id", conv.ID, "attempt", attempt)
	}
}

func (r *relayUsecase) HandleOutbound(ctx context.Context, operatorID string, frame models.OperatorFrame) error {
	ctxval.SetOperatorID(ctx, operatorID)

	if err := r.validate.Struct(frame); err != nil {
		return r.reject(ctx, operatorID, frame.ChatID, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err))
	}
	conv, err := r.ownedConversation(ctx, operatorID, frame.ChatID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return r.reject(ctx, operatorID, frame.ChatID, fmt.Errorf("%w: chat %d is not open", models.ErrInvalidRequest, frame.ChatID))
	case errors.Is(err, models.ErrForbidden):
		return r.reject(ctx, operatorID, frame.ChatID, err)
	case err != nil:
		r.outboundTotal.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv.UserID != frame.UserID {
		return r.reject(ctx, operatorID, frame.ChatID, fmt.Errorf("%w: chat %d does not belong to %s", models.ErrInvalidRequest, frame.ChatID, frame.UserID))
	}

	msg, err := r.messageRepo.Create(ctx, conv.ID, frame.Text, false)
	if err != nil {
		r.outboundTotal.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("failed to save message: %w", err)
	}
	if err := r.convRepo.Touch(ctx, conv.ID); errors.Is(err, models.ErrNotFound) {
		if _, err := r.messageRepo.Delete(ctx, msg.ID); err != nil {
			log.Warnw(ctx, "failed to remove reply of archived conversation", "message_id", msg.ID, "error", err)
		}
		return r.reject(ctx, operatorID, frame.ChatID, fmt.Errorf("%w: chat %d is not open", models.ErrInvalidRequest, frame.ChatID))
	} else if err != nil {
		log.Warnw(ctx, "failed to touch conversation", "chat_id", conv.ID, "error", err)
	}

	outcome := outcomeDelivered
	if err := r.gateway.Send(ctx, conv.UserID, frame.Text); err != nil {
		outcome = outcomeFailed
		log.Errorw(ctx, "failed to send reply to platform", "chat_id", conv.ID, "user_id", conv.UserID, "error", err)
		r.pushError(ctx, operatorID, conv.ID, err)
	}
	if err := r.connections.SendJSON(ctx, operatorID, models.NewMessageFrame(msg)); err != nil {
		log.Warnw(ctx, "failed to confirm reply to operator", "chat_id", conv.ID, "error", err)
	}
	r.outboundTotal.WithLabelValues(outcome).Inc()

	r.publish(ctx, models.EventMessageOutbound, models.MessageEvent{
		MessageID:  msg.ID,
		ChatID:     conv.ID,
		UserID:     conv.UserID,
		OperatorID: operatorID,
		Delivered:  outcome == outcomeDelivered,
	})
	return nil
}

func (r *relayUsecase) reject(ctx context.Context, operatorID string, chatID int64, err error) error {
	r.outboundTotal.WithLabelValues(outcomeRejected).Inc()
	r.pushError(ctx, operatorID, chatID, err)
	return err
}

func (r *relayUsecase) pushError(ctx context.Context, operatorID string, chatID int64, cause error) {
	frame := models.ErrorFrame{Error: cause.Error(), ChatID: chatID}
	if err := r.connections.SendJSON(ctx, operatorID, frame); err != nil {
		log.Debugw(ctx, "failed to push error frame", "error", err)
	}
}

func (r *relayUsecase) ArchiveConversation(ctx context.Context, operatorID string, chatID int64) error {
	conv, err := r.ownedConversation(ctx, operatorID, chatID)
	if err != nil {
		return err
	}
	archived, err := r.convRepo.Archive(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("failed to archive conversation: %w", err)
	}
	log.Infow(ctx, "conversation archived", "chat_id", archived.ID, "operator_id", operatorID)
	r.setUserOnline(ctx, archived.UserID, false)
	r.publish(ctx, models.EventConversationArchived, models.ConversationEvent{
		ChatID:     archived.ID,
		UserID:     archived.UserID,
		OperatorID: archived.OperatorID,
	})
	return nil
}

func (r *relayUsecase) ListOpenConversations(ctx context.Context, operatorID string) ([]*models.Conversation, error) {
	return r.convRepo.ListByOperator(ctx, operatorID)
}

func (r *relayUsecase) ListMessages(ctx context.Context, operatorID string, chatID int64) ([]*models.Message, error) {
	conv, err := r.ownedConversation(ctx, operatorID, chatID)
	if err != nil {
		return nil, err
	}
	return r.messageRepo.ListByChat(ctx, conv.ID)
}

func (r *relayUsecase) ownedConversation(ctx context.Context, operatorID string, chatID int64) (*models.Conversation, error) {
	conv, err := r.convRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if conv.OperatorID != operatorID {
		return nil, fmt.Errorf("%w: chat %d is assigned to another operator", models.ErrForbidden, chatID)
	}
	return conv, nil
}

func (r *relayUsecase) SetSuspended(ctx context.Context, userID string, suspended bool) error {
	if _, _, err := models.SplitUniqueUserID(userID); err != nil {
		return err
	}
	if err := r.userRepo.SetSuspended(ctx, userID, suspended); err != nil {
		return err
	}
	log.Infow(ctx, "user suspension changed", "user_id", userID, "suspended", suspended)
	return nil
}

func (r *relayUsecase) RegisterWebhooks(ctx context.Context) error {
	return r.gateway.RegisterWebhooks(ctx, r.conf.Relay.WebhookURL())
}

func (r *relayUsecase) UpdateBusyness(ctx context.Context, update models.BusynessUpdate) error {
	if err := r.validate.Struct(update); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return r.operatorRepo.SetPerceivedBusyness(ctx, update.OperatorID, update.PerceivedBusyness)
}

func (r *relayUsecase) notify(ctx context.Context, evt platform.Event, text string) {
	if err := evt.SendReply(ctx, text); err != nil {
		log.Errorw(ctx, "failed to send notice", "user_id", evt.UniqueID(), "error", err)
	}
}

// setUserOnline records a status change of the external user. Inbound
// messages mark the user online as part of resolving them.
func (r *relayUsecase) setUserOnline(ctx context.Context, userID string, online bool) {
	if err := r.userRepo.SetOnline(ctx, userID, online); err != nil {
		log.Warnw(ctx, "failed to update user status", "user_id", userID, "online", online, "error", err)
	}
}

func (r *relayUsecase) publish(ctx context.Context, key string, data any) {
	if err := r.publisher.Publish(ctx, key, data); err != nil {
		log.Warnw(ctx, "failed to publish event", "key", key, "error", err)
	}
}

func (r *relayUsecase) mailMissed(ctx context.Context, conv *models.Conversation) {
	op, err := r.operatorRepo.GetByID(ctx, conv.OperatorID)
	if err != nil {
		log.Warnw(ctx, "failed to load operator for missed message mail", "operator_id", conv.OperatorID, "error", err)
		return
	}
	if op.Email == "" {
		return
	}
	if err := r.mailer.SendMissedMessage(ctx, op.Email, conv.ID); err != nil {
		log.Warnw(ctx, "failed to send missed message mail", "operator_id", op.ID, "error", err)
	}
}

func (r *relayUsecase) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.mirrors.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("attachment mirrors still running: %w", ctx.Err())
	}
}

// mirrorAttachments copies inbound media to object storage in the background.
func (r *relayUsecase) mirrorAttachments(ctx context.Context, evt platform.Event) {
	attachments := evt.Attachments()
	if len(attachments) == 0 {
		return
	}
	r.mirrors.Add(1)
	go func() {
		defer r.mirrors.Done()
		ctx, cancel := util.NewTimeoutContext(ctx, mirrorTimeout)
		defer cancel()

		for _, att := range attachments {
			url, err := r.gateway.AttachmentURL(ctx, evt.Platform(), att)
			if err != nil {
				log.Warnw(ctx, "failed to resolve attachment url", "name", att.Name, "error", err)
				continue
			}
			key, err := r.storage.Mirror(ctx, att, url)
			if err != nil {
				log.Warnw(ctx, "failed to mirror attachment", "name", att.Name, "error", err)
				continue
			}
			if key != "" {
				log.Debugw(ctx, "attachment mirrored", "key", key, "type", att.Type)
			}
		}
	}()
}
