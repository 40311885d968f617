package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

type ctxKey struct{}

func TestNewEnvelope(t *testing.T) {
	opts := Options{
		Producer: "chat-relay",
		CorrelationID: func(ctx context.Context) string {
			id, _ := ctx.Value(ctxKey{}).(string)
			return id
		},
	}
	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
	data := models.MessageEvent{MessageID: 10, ChatID: 5, UserID: "viber_111", IsFromUser: true, Delivered: true}

	env := NewEnvelope(ctx, opts, models.EventMessageInbound, data)

	_, err := uuid.Parse(env.Meta.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventMessageInbound, env.Meta.Type)
	require.NotNil(t, env.Meta.Producer)
	assert.Equal(t, "chat-relay", *env.Meta.Producer)
	require.NotNil(t, env.Meta.CorrelationID)
	assert.Equal(t, "req-1", *env.Meta.CorrelationID)
	assert.WithinDuration(t, time.Now(), env.Meta.Time, time.Minute)

	body, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Equal(t, "viber_111", gjson.GetBytes(body, "data.user_id").String())
	assert.Equal(t, int64(5), gjson.GetBytes(body, "data.chat_id").Int())
	assert.Equal(t, "req-1", gjson.GetBytes(body, "meta.correlation_id").String())
}

func TestNewEnvelopeWithoutCorrelation(t *testing.T) {
	env := NewEnvelope(context.Background(), Options{}, models.EventConversationArchived, nil)

	assert.Nil(t, env.Meta.CorrelationID)
	assert.Nil(t, env.Meta.Producer)
}

func TestNoopPublisher(t *testing.T) {
	p := NewNoopPublisher()
	assert.NoError(t, p.Publish(context.Background(), models.EventMessageOutbound, struct{}{}))
	assert.NoError(t, p.Close())
}
