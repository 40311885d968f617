package platform

import (
	"context"
	"crypto/subtle"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type telegramFile struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type telegramPayload struct {
	UpdateID int64 `json:"update_id" validate:"required"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id" validate:"required"`
		} `json:"chat"`
		Text     string         `json:"text"`
		Caption  string         `json:"caption"`
		Photo    []telegramFile `json:"photo"`
		Document *telegramFile  `json:"document"`
		Video    *telegramFile  `json:"video"`
		Audio    *telegramFile  `json:"audio"`
		Voice    *telegramFile  `json:"voice"`
	} `json:"message" validate:"required"`
}

// TelegramAdapter handles Bot API webhook updates and sendMessage.
type TelegramAdapter struct {
	conf   config.TelegramConfig
	client *resty.Client
}

func NewTelegramAdapter(conf config.TelegramConfig, client *resty.Client) *TelegramAdapter {
	return &TelegramAdapter{
		conf:   conf,
		client: client,
	}
}

func (a *TelegramAdapter) Name() Platform {
	return PlatformTelegram
}

// Authenticate compares the secret token Telegram echoes on every update.
// The Bot API does not sign bodies.
func (a *TelegramAdapter) Authenticate(req *Request) bool {
	got := req.Header.Get(telegramSecretHeader)
	if a.conf.SecretToken == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.conf.SecretToken)) == 1
}

func (a *TelegramAdapter) Parse(req *Request) (Payload, error) {
	var p telegramPayload
	if err := json.Unmarshal(req.Body, &p); err != nil {
		return nil, err
	}
	if err := validate.Struct(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (a *TelegramAdapter) ChatID(p Payload) string {
	return strconv.FormatInt(p.(*telegramPayload).Message.Chat.ID, 10)
}

func (a *TelegramAdapter) Text(p Payload) string {
	msg := p.(*telegramPayload).Message
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func (a *TelegramAdapter) Attachments(p Payload) []models.Attachment {
	msg := p.(*telegramPayload).Message
	var out []models.Attachment
	add := func(typ models.AttachmentType, f *telegramFile) {
		if f == nil || f.FileID == "" {
			return
		}
		name, ext := splitFileName(f.FileName)
		if name == "" {
			name = f.FileID
		}
		out = append(out, models.Attachment{
			Type:      typ,
			Name:      name,
			Extension: ext,
			FileID:    f.FileID,
		})
	}

	// photo sizes are ordered ascending, keep the largest
	if n := len(msg.Photo); n > 0 {
		add(models.AttachmentImage, &msg.Photo[n-1])
	}
	add(models.AttachmentFile, msg.Document)
	add(models.AttachmentVideo, msg.Video)
	add(models.AttachmentAudio, msg.Audio)
	add(models.AttachmentAudio, msg.Voice)
	return out
}

func (a *TelegramAdapter) SendMessage(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return NewAdapterError(PlatformTelegram, "SendMessage", "invalid chat id "+chatID, err)
	}
	return a.call(ctx, "SendMessage", "sendMessage", map[string]any{
		"chat_id": id,
		"text":    text,
	})
}

func (a *TelegramAdapter) RegisterWebhook(ctx context.Context, webhookURL string) error {
	return a.call(ctx, "RegisterWebhook", "setWebhook", map[string]any{
		"url":             webhookURL,
		"secret_token":    a.conf.SecretToken,
		"allowed_updates": []string{"message"},
	})
}

func (a *TelegramAdapter) call(ctx context.Context, op, method string, body any) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(a.conf.APIURL + "/bot" + a.conf.BotToken + "/" + method)
	if err != nil {
		return NewAdapterError(PlatformTelegram, op, "request failed", err)
	}
	if !gjson.GetBytes(resp.Body(), "ok").Bool() {
		return NewAdapterError(PlatformTelegram, op,
			resp.Status()+": "+gjson.GetBytes(resp.Body(), "description").String(), nil)
	}
	return nil
}

// FileURL resolves a file id into a temporary download url.
func (a *TelegramAdapter) FileURL(ctx context.Context, fileID string) (string, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("file_id", fileID).
		Get(a.conf.APIURL + "/bot" + a.conf.BotToken + "/getFile")
	if err != nil {
		return "", NewAdapterError(PlatformTelegram, "FileURL", "request failed", err)
	}
	filePath := gjson.GetBytes(resp.Body(), "result.file_path").String()
	if !gjson.GetBytes(resp.Body(), "ok").Bool() || filePath == "" {
		return "", NewAdapterError(PlatformTelegram, "FileURL",
			resp.Status()+": "+gjson.GetBytes(resp.Body(), "description").String(), nil)
	}
	return a.conf.APIURL + "/file/bot" + a.conf.BotToken + "/" + filePath, nil
}
