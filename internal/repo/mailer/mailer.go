package mailer

import (
	"context"
	"fmt"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"gopkg.in/gomail.v2"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/pkg/tmplx"
)

const (
	missedMessageSubject = "У вас нове повідомлення на Soulful"

	prodHost = "soulful.pp.ua"
	devHost  = "localhost"
)

var missedMessageBody = tmplx.MustParse("missed_message",
	`Ви отримали нове повідомлення на Soulful в чаті #{{.ChatID}}. `+
		`<a href=http://{{.Host}}/chat>Перейдіть на платформу, щоб відповісти</a>.`,
	tmplx.WithSample(missedMessageData{ChatID: 1, Host: devHost}),
)

type missedMessageData struct {
	ChatID int64
	Host   string
}

// Mailer notifies operators about messages they could not receive live.
type Mailer interface {
	SendMissedMessage(ctx context.Context, to string, chatID int64) error
}

// Dialer is satisfied by *gomail.Dialer.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpMailer struct {
	from   string
	host   string
	dialer Dialer
}

func NewSMTPMailer(conf config.MailConfig, prod bool) Mailer {
	return NewMailerWithDialer(conf.From, prod, gomail.NewDialer(conf.Host, conf.Port, conf.Username, conf.Password))
}

func NewMailerWithDialer(from string, prod bool, dialer Dialer) Mailer {
	host := devHost
	if prod {
		host = prodHost
	}
	return &smtpMailer{
		from:   from,
		host:   host,
		dialer: dialer,
	}
}

func RenderMissedMessage(chatID int64, host string) (string, error) {
	return missedMessageBody.RenderString(missedMessageData{ChatID: chatID, Host: host})
}

func (m *smtpMailer) SendMissedMessage(ctx context.Context, to string, chatID int64) error {
	if to == "" {
		return fmt.Errorf("missing recipient for chat %d", chatID)
	}
	body, err := RenderMissedMessage(chatID, m.host)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", missedMessageSubject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send missed message mail: %w", err)
	}
	log.Infow(ctx, "missed message mail sent", "chat_id", chatID, "to", to)
	return nil
}

type noopMailer struct{}

// NewNoopMailer is used when no smtp host is configured.
func NewNoopMailer() Mailer {
	log.Infow(context.Background(), "smtp not configured, missed message mails are disabled")
	return noopMailer{}
}

func (noopMailer) SendMissedMessage(ctx context.Context, to string, chatID int64) error {
	log.Debugw(ctx, "missed message mail skipped", "chat_id", chatID, "to", to)
	return nil
}
