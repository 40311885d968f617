package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/carousell/ct-go/pkg/logger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/pkg/util"
)

type recordingUpdater struct {
	updates []models.BusynessUpdate
	errs    []error
}

func (r *recordingUpdater) UpdateBusyness(_ context.Context, update models.BusynessUpdate) error {
	r.updates = append(r.updates, update)
	if len(r.errs) == 0 {
		return nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return err
}

func testConsumer(t *testing.T, handler Handler) *kafkaConsumer {
	t.Helper()
	metrics, err := util.GetHistogramVec("kafka_messages_consumed", "status", "topic", "group")
	require.NoError(t, err)
	return &kafkaConsumer{
		metrics: metrics,
		opts: consumerOptions{
			maxRetries:     2,
			consumeTimeout: time.Second,
			handler:        handler,
		},
		done: make(chan struct{}),
	}
}

func TestDecodeBusyness(t *testing.T) {
	recorded := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	update, err := decodeBusyness(kafka.Message{
		Value: []byte(`{"operator_id":"op-1","perceived_busyness":0.4,"recorded_at":"2024-05-01T09:00:00Z"}`),
		Time:  recorded,
	})
	require.NoError(t, err)
	assert.Equal(t, "op-1", update.OperatorID)
	assert.Equal(t, 0.4, update.PerceivedBusyness)
	assert.Equal(t, recorded.Add(-time.Hour), update.RecordedAt)

	update, err = decodeBusyness(kafka.Message{Key: []byte("op-2"), Value: []byte(`{"perceived_busyness":1}`), Time: recorded})
	require.NoError(t, err)
	assert.Equal(t, "op-2", update.OperatorID)
	assert.Equal(t, recorded, update.RecordedAt)

	_, err = decodeBusyness(kafka.Message{Value: []byte(`not json`)})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestBusynessHandlerRetries(t *testing.T) {
	updater := &recordingUpdater{errs: []error{errors.New("mongo timeout"), nil}}
	c := testConsumer(t, busynessHandler(updater))
	msg := kafka.Message{Key: []byte("op-1"), Value: []byte(`{"perceived_busyness":0.5}`)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.handleWithRetry(ctx, msg))
	assert.Len(t, updater.updates, 2)
}

func TestBusynessHandlerDoesNotRetryPermanentErrors(t *testing.T) {
	updater := &recordingUpdater{errs: []error{models.ErrNotFound}}
	c := testConsumer(t, busynessHandler(updater))

	err := c.handleWithRetry(context.Background(), kafka.Message{Value: []byte(`{"operator_id":"ghost"}`)})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Len(t, updater.updates, 1)
}

func TestHandleRecoversPanic(t *testing.T) {
	c := testConsumer(t, func(context.Context, kafka.Message) error {
		panic("boom")
	})

	err := c.handle(context.Background(), kafka.Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PANIC RECOVER: boom")

	c.processMessage(context.Background(), kafka.Message{Topic: "operator.busyness"})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, codes.OK, getCode(nil))
	assert.Equal(t, codes.DeadlineExceeded, getCode(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, codes.Canceled, getCode(context.Canceled))
	assert.Equal(t, codes.InvalidArgument, getCode(fmt.Errorf("decode: %w", models.ErrInvalidRequest)))
	assert.Equal(t, codes.NotFound, getCode(NewRetryError(models.ErrNotFound, time.Second)))
	assert.Equal(t, codes.Unknown, getCode(errors.New("plain")))
}

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, logger.InfoLevel, getLogLevel(codes.OK))
	assert.Equal(t, logger.WarnLevel, getLogLevel(codes.NotFound))
	assert.Equal(t, logger.ErrorLevel, getLogLevel(codes.Internal))
}

func TestNewBusynessConsumerDisabled(t *testing.T) {
	c, err := NewBusynessConsumer(config.KafkaConfig{}, &recordingUpdater{})
	require.NoError(t, err)
	assert.IsType(t, noopConsumer{}, c)
	assert.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.Stop(context.Background()))
}
