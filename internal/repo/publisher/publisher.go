package publisher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

const maxDialDelay = 30 * time.Second

// Publisher emits relay events. Publishing is best effort for callers; the
// relay never fails a message because an event could not be published.
type Publisher interface {
	Publish(ctx context.Context, key string, data any) error
	Close() error
}

type Options struct {
	URL           string
	Exchange      string
	Producer      string
	RetryAttempts int
	Delay         time.Duration
	// CorrelationID extracts the request correlation id from ctx, if any.
	CorrelationID func(ctx context.Context) string
}

type rmqPublisher struct {
	conn *amqp.Connection
	opts Options
}

func NewRabbitPublisher(ctx context.Context, opts Options) (Publisher, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 5
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	conn, err := dialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", opts.Exchange, err)
	}

	return &rmqPublisher{
		conn: conn,
		opts: opts,
	}, nil
}

func dialWithRetry(ctx context.Context, opts Options) (*amqp.Connection, error) {
	var lastErr error
	for i := 1; i <= opts.RetryAttempts; i++ {
		conn, err := amqp.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				log.Infow(ctx, "rabbitmq connected", "attempt", i)
			}
			return conn, nil
		}
		lastErr = err

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		log.Warnw(ctx, "rabbitmq dial failed", "attempt", i, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("rabbitmq dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", opts.RetryAttempts, lastErr)
}

func NewEnvelope(ctx context.Context, opts Options, key string, data any) models.Envelope {
	meta := models.EventMeta{
		ID:   uuid.NewString(),
		Time: time.Now().UTC(),
		Type: key,
	}
	if opts.Producer != "" {
		producer := opts.Producer
		meta.Producer = &producer
	}
	if opts.CorrelationID != nil {
		if cid := opts.CorrelationID(ctx); cid != "" {
			meta.CorrelationID = &cid
		}
	}
	return models.Envelope{Meta: meta, Data: data}
}

func (p *rmqPublisher) Publish(ctx context.Context, key string, data any) error {
	env := NewEnvelope(ctx, p.opts, key, data)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", key, err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirms: %w", err)
	}

	cid := env.Meta.ID
	if env.Meta.CorrelationID != nil {
		cid = *env.Meta.CorrelationID
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.opts.Exchange, key, false, false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     env.Meta.ID,
			CorrelationId: cid,
			Timestamp:     env.Meta.Time,
			Type:          key,
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", key, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm event %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("event %s was nacked by broker", key)
	}
	log.Debugw(ctx, "event published", "key", key, "exchange", p.opts.Exchange, "id", env.Meta.ID)
	return nil
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

type noopPublisher struct{}

// NewNoopPublisher is used when rabbitmq is not configured.
func NewNoopPublisher() Publisher {
	log.Infow(context.Background(), "rabbitmq not configured, relay events are not published")
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

func (noopPublisher) Close() error { return nil }
