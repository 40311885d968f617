package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/platform"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/mailer"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/presence"
	"github.com/nguyentranbao-ct/chat-relay/pkg/util"
)

func TestNewPlatformRegistry(t *testing.T) {
	cfg := &config.Config{
		Viber:    config.ViberConfig{AuthToken: "viber-token"},
		Telegram: config.TelegramConfig{BotToken: "bot", SecretToken: "secret"},
	}

	registry, err := newPlatformRegistry(cfg, util.NewRestyClient())
	require.NoError(t, err)
	assert.Equal(t, []platform.Platform{platform.PlatformViber, platform.PlatformTelegram}, registry.Platforms())
	assert.Equal(t, []string{"viber", "telegram"}, enabledPlatforms(cfg))

	empty, err := newPlatformRegistry(&config.Config{}, util.NewRestyClient())
	require.NoError(t, err)
	assert.Empty(t, empty.Platforms())
}

func TestOptionalIntegrationsFallBackToNoop(t *testing.T) {
	cfg := &config.Config{}

	assert.Nil(t, newRedisClient(nil, cfg))
	assert.Equal(t, presence.NewNoopStore(), newPresenceStore(cfg, nil))
	assert.Equal(t, mailer.NewNoopMailer(), newMailer(cfg))

	pub, err := newPublisher(nil, cfg)
	require.NoError(t, err)
	assert.NotNil(t, pub)

	store, err := newStorage(cfg, util.NewRestyClient())
	require.NoError(t, err)
	assert.NotNil(t, store)
}
