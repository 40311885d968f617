package platform

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

const (
	viberSignatureHeader = "X-Viber-Content-Signature"
	viberAuthHeader      = "X-Viber-Auth-Token"
)

var viberWebhookEvents = []string{"delivered", "seen", "failed", "subscribed", "unsubscribed", "conversation_started"}

type viberPayload struct {
	Event        string `json:"event" validate:"eq=message"`
	Timestamp    int64  `json:"timestamp"`
	MessageToken int64  `json:"message_token"`
	Sender       struct {
		ID   string `json:"id" validate:"required"`
		Name string `json:"name"`
	} `json:"sender"`
	Message struct {
		Type     string `json:"type" validate:"required"`
		Text     string `json:"text"`
		Media    string `json:"media"`
		FileName string `json:"file_name"`
	} `json:"message"`
}

// ViberAdapter handles Viber bot callbacks and the send_message API.
type ViberAdapter struct {
	conf   config.ViberConfig
	client *resty.Client
}

func NewViberAdapter(conf config.ViberConfig, client *resty.Client) *ViberAdapter {
	return &ViberAdapter{
		conf:   conf,
		client: client,
	}
}

func (a *ViberAdapter) Name() Platform {
	return PlatformViber
}

func (a *ViberAdapter) Authenticate(req *Request) bool {
	return validHMAC(a.conf.AuthToken, req.Body, req.Header.Get(viberSignatureHeader))
}

func (a *ViberAdapter) Parse(req *Request) (Payload, error) {
	var p viberPayload
	if err := json.Unmarshal(req.Body, &p); err != nil {
		return nil, err
	}
	if err := validate.Struct(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (a *ViberAdapter) ChatID(p Payload) string {
	return p.(*viberPayload).Sender.ID
}

func (a *ViberAdapter) Text(p Payload) string {
	return p.(*viberPayload).Message.Text
}

func (a *ViberAdapter) Attachments(p Payload) []models.Attachment {
	msg := p.(*viberPayload).Message
	typ, ok := models.ParseAttachmentType(msg.Type)
	if !ok || msg.Media == "" {
		return nil
	}
	fileName := msg.FileName
	if fileName == "" {
		fileName = fileNameFromURL(msg.Media)
	}
	name, ext := splitFileName(fileName)
	return []models.Attachment{{
		Type:      typ,
		Name:      name,
		Extension: ext,
		URL:       msg.Media,
	}}
}

func (a *ViberAdapter) SendMessage(ctx context.Context, chatID, text string) error {
	body := map[string]any{
		"receiver":        chatID,
		"min_api_version": 1,
		"sender":          map[string]string{"name": a.conf.SenderName},
		"type":            "text",
		"text":            text,
	}
	return a.call(ctx, "SendMessage", "/send_message", body)
}

func (a *ViberAdapter) RegisterWebhook(ctx context.Context, webhookURL string) error {
	body := map[string]any{
		"url":         webhookURL,
		"event_types": viberWebhookEvents,
		"send_name":   true,
	}
	return a.call(ctx, "RegisterWebhook", "/set_webhook", body)
}

// call posts to the Viber API. Viber answers 200 for most failures and puts
// the outcome in the "status" field.
func (a *ViberAdapter) call(ctx context.Context, op, path string, body any) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader(viberAuthHeader, a.conf.AuthToken).
		SetBody(body).
		Post(a.conf.APIURL + path)
	if err != nil {
		return NewAdapterError(PlatformViber, op, "request failed", err)
	}
	if resp.IsError() {
		return NewAdapterError(PlatformViber, op, "unexpected status "+resp.Status(), nil)
	}
	if status := gjson.GetBytes(resp.Body(), "status"); status.Int() != 0 {
		msg := fmt.Sprintf("status %d: %s", status.Int(), gjson.GetBytes(resp.Body(), "status_message").String())
		return NewAdapterError(PlatformViber, op, msg, nil)
	}
	return nil
}
