package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/carousell/ct-go/pkg/logger"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/gammazero/workerpool"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/pkg/util"
)

type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Handler processes a single record. Returning *ErrRetry asks the consumer
// to run it again after the given delay.
type Handler func(ctx context.Context, msg kafka.Message) error

type consumerOptions struct {
	readerConf     kafka.ReaderConfig
	maxWorkers     int
	maxRetries     int
	consumeTimeout time.Duration
	handler        Handler
}

type kafkaConsumer struct {
	reader  *kafka.Reader
	pool    *workerpool.WorkerPool
	metrics *prometheus.HistogramVec
	opts    consumerOptions
	done    chan struct{}
}

func newConsumer(opts consumerOptions) (*kafkaConsumer, error) {
	metrics, err := util.GetHistogramVec("kafka_messages_consumed", "status", "topic", "group")
	if err != nil {
		return nil, fmt.Errorf("get histogram vec: %w", err)
	}
	if opts.maxWorkers < 1 {
		opts.maxWorkers = 1
	}
	return &kafkaConsumer{
		reader:  kafka.NewReader(opts.readerConf),
		pool:    workerpool.New(opts.maxWorkers),
		metrics: metrics,
		opts:    opts,
		done:    make(chan struct{}),
	}, nil
}

func (c *kafkaConsumer) Start(ctx context.Context) error {
	log.Infof(ctx, "starting kafka consumer for topics %v", c.opts.readerConf.GroupTopics)
	if c.opts.maxWorkers == 1 {
		return c.consumeInOrder(ctx)
	}
	return c.consumeConcurrently(ctx)
}

func (c *kafkaConsumer) Stop(ctx context.Context) error {
	log.Infof(ctx, "stopping kafka consumer")
	close(c.done)
	c.pool.StopWait()
	return c.reader.Close()
}

func (c *kafkaConsumer) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// consumeInOrder commits each record only after it was handled.
func (c *kafkaConsumer) consumeInOrder(ctx context.Context) error {
	for ctx.Err() == nil && !c.stopped() {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if c.stopped() || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			log.Errorw(ctx, "failed to fetch message", "error", err)
			continue
		}

		c.processMessage(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Errorw(ctx, "failed to commit message", "error", err)
		}
	}
	return nil
}

func (c *kafkaConsumer) consumeConcurrently(ctx context.Context) error {
	for ctx.Err() == nil && !c.stopped() {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if c.stopped() || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			log.Errorw(ctx, "failed to read message", "error", err)
			continue
		}
		c.pool.Submit(func() {
			c.processMessage(ctx, msg)
		})
	}
	return nil
}

func (c *kafkaConsumer) processMessage(ctx context.Context, msg kafka.Message) {
	start := time.Now()
	lagMs := start.Sub(msg.Time).Milliseconds()

	err := c.handleWithRetry(ctx, msg)
	duration := time.Since(start)

	code := getCode(err)
	content := "success"
	if err != nil {
		content = err.Error()
	}
	log.Logw(ctx, getLogLevel(code), content,
		"code", code,
		"duration_ms", duration.Milliseconds(),
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"lag_ms", lagMs,
		"key", string(msg.Key),
		"value", json.RawMessage(msg.Value),
	)

	c.metrics.
		WithLabelValues(code.String(), msg.Topic, c.opts.readerConf.GroupID).
		Observe(duration.Seconds())
}

func (c *kafkaConsumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	for attempt := 0; ; attempt++ {
		err := c.handle(ctx, msg)

		var retry *ErrRetry
		if !errors.As(err, &retry) || attempt >= c.opts.maxRetries {
			return err
		}
		log.Warnw(ctx, "retrying message", "attempt", attempt+1, "delay", retry.GetDelayTime(), "error", retry.Err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.GetDelayTime()):
		}
	}
}

func (c *kafkaConsumer) handle(msgCtx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			length := runtime.Stack(stack, false)
			err = fmt.Errorf("PANIC RECOVER: %+v / %s", r, string(stack[:length]))
		}
	}()

	ctx := msgCtx
	if c.opts.consumeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(msgCtx, c.opts.consumeTimeout)
		defer cancel()
	}
	return c.opts.handler(ctx, msg)
}

func getCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return models.Code(err)
}

func getLogLevel(code codes.Code) logger.Level {
	switch code {
	case codes.OK:
		return logger.InfoLevel
	case codes.Canceled,
		codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.ResourceExhausted,
		codes.FailedPrecondition,
		codes.Aborted,
		codes.Unimplemented,
		codes.OutOfRange:
		return logger.WarnLevel
	default:
		return logger.ErrorLevel
	}
}

type noopConsumer struct{}

func (noopConsumer) Start(ctx context.Context) error {
	log.Infof(ctx, "kafka consumer is disabled")
	return nil
}

func (noopConsumer) Stop(context.Context) error {
	return nil
}
