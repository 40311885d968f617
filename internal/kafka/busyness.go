package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"google.golang.org/grpc/codes"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/internal/usecase"
)

const busynessRetryDelay = time.Second

// BusynessUpdater is the relay operation fed by the busyness topic.
type BusynessUpdater interface {
	UpdateBusyness(ctx context.Context, update models.BusynessUpdate) error
}

// StartBusynessConsumer feeds operator perceived busyness samples into the
// assignment scores.
func StartBusynessConsumer(
	sd fx.Shutdowner,
	lc fx.Lifecycle,
	conf *config.Config,
	relay usecase.RelayUsecase,
) error {
	consumer, err := NewBusynessConsumer(conf.Kafka, relay)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				runCtx := context.WithoutCancel(ctx)
				if err := consumer.Start(runCtx); err != nil {
					log.Errorw(runCtx, "kafka consumer stopped", "error", err)
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: consumer.Stop,
	})
	return nil
}

func NewBusynessConsumer(conf config.KafkaConfig, updater BusynessUpdater) (Consumer, error) {
	if !conf.Enabled {
		return noopConsumer{}, nil
	}
	return newConsumer(consumerOptions{
		readerConf: kafka.ReaderConfig{
			Brokers:     conf.Brokers,
			GroupID:     conf.GroupID,
			GroupTopics: []string{conf.Topic},
		},
		maxWorkers:     conf.Workers,
		maxRetries:     3,
		consumeTimeout: 30 * time.Second,
		handler:        busynessHandler(updater),
	})
}

func busynessHandler(updater BusynessUpdater) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		update, err := decodeBusyness(msg)
		if err != nil {
			return err
		}
		err = updater.UpdateBusyness(ctx, update)
		if err == nil || !retryable(err) {
			return err
		}
		return NewRetryError(err, busynessRetryDelay)
	}
}

// decodeBusyness reads a sample. The operator id falls back to the record
// key and the timestamp to the record time.
func decodeBusyness(msg kafka.Message) (models.BusynessUpdate, error) {
	var update models.BusynessUpdate
	if err := json.Unmarshal(msg.Value, &update); err != nil {
		return update, fmt.Errorf("%w: failed to unmarshal busyness: %v", models.ErrInvalidRequest, err)
	}
	if update.OperatorID == "" {
		update.OperatorID = string(msg.Key)
	}
	if update.RecordedAt.IsZero() {
		update.RecordedAt = msg.Time
	}
	return update, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch models.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied:
		return false
	}
	return true
}
