package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	Relay    RelayConfig    `envPrefix:"RELAY_"`
	Facebook FacebookConfig `envPrefix:"FACEBOOK_"`
	Viber    ViberConfig    `envPrefix:"VIBER_"`
	Telegram TelegramConfig `envPrefix:"TELEGRAM_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	RabbitMQ RabbitMQConfig `envPrefix:"RABBITMQ_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Mail     MailConfig     `envPrefix:"MAIL_"`
	Storage  StorageConfig  `envPrefix:"STORAGE_"`
}

type ServerConfig struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	Host         string        `env:"HOST" envDefault:"0.0.0.0"`
	Stage        string        `env:"STAGE" envDefault:"dev"`
	TLSCertFile  string        `env:"TLS_CERT_FILE"`
	TLSKeyFile   string        `env:"TLS_KEY_FILE"`
	EnablePprof  bool          `env:"ENABLE_PPROF" envDefault:"false"`
	ShutdownWait time.Duration `env:"SHUTDOWN_WAIT" envDefault:"10s"`
	// CORSOrigins is a regexp matched against the Origin of operator api calls.
	CORSOrigins string `env:"CORS_ORIGINS"`
}

func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c ServerConfig) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func (c ServerConfig) IsProd() bool {
	return c.Stage == "prod"
}

type DatabaseConfig struct {
	URI      string `env:"URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"DATABASE" envDefault:"chatrelay"`
}

type RelayConfig struct {
	WebhookPath string `env:"WEBHOOK_PATH" envDefault:"/webhook"`
	// PublicURL is the externally reachable base used when registering webhooks.
	PublicURL       string        `env:"PUBLIC_URL"`
	ScoreWindow     time.Duration `env:"SCORE_WINDOW" envDefault:"1h"`
	ChatPermissions []string      `env:"CHAT_PERMISSIONS" envSeparator:"," envDefault:"chat:*,*"`
	// WSOriginPatterns restricts websocket origins; empty means same origin only.
	WSOriginPatterns     []string      `env:"WS_ORIGIN_PATTERNS" envSeparator:","`
	WSInsecureSkipVerify bool          `env:"WS_INSECURE_SKIP_VERIFY" envDefault:"false"`
	WSPingInterval       time.Duration `env:"WS_PING_INTERVAL" envDefault:"25s"`
	SendTimeout          time.Duration `env:"SEND_TIMEOUT" envDefault:"10s"`
}

func (c RelayConfig) WebhookURL() string {
	return strings.TrimRight(c.PublicURL, "/") + c.WebhookPath
}

type FacebookConfig struct {
	VerificationToken string `env:"VERIFICATION_TOKEN"`
	AppSecret         string `env:"APP_SECRET"`
	PageAccessToken   string `env:"PAGE_ACCESS_TOKEN"`
	APIURL            string `env:"API_URL" envDefault:"https://graph.facebook.com/v19.0"`
}

func (c FacebookConfig) Enabled() bool {
	return c.AppSecret != ""
}

type ViberConfig struct {
	AuthToken  string `env:"AUTH_TOKEN"`
	SenderName string `env:"SENDER_NAME" envDefault:"Soulful"`
	APIURL     string `env:"API_URL" envDefault:"https://chatapi.viber.com/pa"`
}

func (c ViberConfig) Enabled() bool {
	return c.AuthToken != ""
}

type TelegramConfig struct {
	BotToken    string `env:"BOT_TOKEN"`
	SecretToken string `env:"SECRET_TOKEN"`
	APIURL      string `env:"API_URL" envDefault:"https://api.telegram.org"`
}

func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.SecretToken != ""
}

type KafkaConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"operator.busyness"`
	GroupID string   `env:"GROUP_ID" envDefault:"chat-relay"`
	Workers int      `env:"WORKERS" envDefault:"4"`
}

type RabbitMQConfig struct {
	URL      string `env:"URL"`
	Exchange string `env:"EXCHANGE" envDefault:"relay.events"`
	Producer string `env:"PRODUCER" envDefault:"chat-relay"`
}

type RedisConfig struct {
	Addr        string        `env:"ADDR"`
	Password    string        `env:"PASSWORD"`
	DB          int           `env:"DB" envDefault:"0"`
	PresenceTTL time.Duration `env:"PRESENCE_TTL" envDefault:"1m"`
}

type MailConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM" envDefault:"Чат Soulful <notifications@soulful.pp.ua>"`
}

type StorageConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"attachments"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}
	return cfg
}

func (c *Config) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.Relay.WebhookPath, "/") {
		errs = append(errs, fmt.Errorf("RELAY_WEBHOOK_PATH must start with /: %q", c.Relay.WebhookPath))
	}
	if c.Relay.ScoreWindow <= 0 {
		errs = append(errs, fmt.Errorf("RELAY_SCORE_WINDOW must be positive: %s", c.Relay.ScoreWindow))
	}
	if len(c.Relay.ChatPermissions) == 0 {
		errs = append(errs, errors.New("RELAY_CHAT_PERMISSIONS must not be empty"))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("SERVER_TLS_CERT_FILE and SERVER_TLS_KEY_FILE must be set together"))
	}
	if c.Server.CORSOrigins != "" {
		if _, err := regexp.Compile(c.Server.CORSOrigins); err != nil {
			errs = append(errs, fmt.Errorf("SERVER_CORS_ORIGINS: %w", err))
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}
