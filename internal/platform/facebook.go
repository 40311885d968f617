package platform

import (
	"context"
	"errors"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

const facebookSignatureHeader = "X-Hub-Signature-256"

var errFacebookEcho = errors.New("facebook: echo message")

type facebookPayload struct {
	Object string          `json:"object" validate:"eq=page"`
	Entry  []facebookEntry `json:"entry" validate:"required,min=1,dive"`
}

type facebookEntry struct {
	ID        string              `json:"id"`
	Time      int64               `json:"time"`
	Messaging []facebookMessaging `json:"messaging" validate:"required,min=1,dive"`
}

type facebookMessaging struct {
	Sender struct {
		ID string `json:"id" validate:"required"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64            `json:"timestamp"`
	Message   *facebookMessage `json:"message" validate:"required"`
}

type facebookMessage struct {
	MID         string               `json:"mid"`
	IsEcho      bool                 `json:"is_echo"`
	Text        string               `json:"text"`
	Attachments []facebookAttachment `json:"attachments"`
}

type facebookAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

// FacebookAdapter handles Messenger page webhooks and the Send API.
type FacebookAdapter struct {
	conf   config.FacebookConfig
	client *resty.Client
}

func NewFacebookAdapter(conf config.FacebookConfig, client *resty.Client) *FacebookAdapter {
	return &FacebookAdapter{
		conf:   conf,
		client: client,
	}
}

func (a *FacebookAdapter) Name() Platform {
	return PlatformFacebook
}

func (a *FacebookAdapter) Authenticate(req *Request) bool {
	scheme, sig, ok := strings.Cut(req.Header.Get(facebookSignatureHeader), "=")
	if !ok || scheme != "sha256" {
		return false
	}
	if !validHMAC(a.conf.AppSecret, req.Body, sig) {
		return false
	}
	return gjson.GetBytes(req.Body, "object").String() == "page"
}

func (a *FacebookAdapter) Parse(req *Request) (Payload, error) {
	var p facebookPayload
	if err := json.Unmarshal(req.Body, &p); err != nil {
		return nil, err
	}
	if err := validate.Struct(&p); err != nil {
		return nil, err
	}
	// echoes of messages sent by the page itself
	if p.Entry[0].Messaging[0].Message.IsEcho {
		return nil, errFacebookEcho
	}
	return &p, nil
}

func (a *FacebookAdapter) first(p Payload) *facebookMessaging {
	return &p.(*facebookPayload).Entry[0].Messaging[0]
}

func (a *FacebookAdapter) ChatID(p Payload) string {
	return a.first(p).Sender.ID
}

func (a *FacebookAdapter) Text(p Payload) string {
	return a.first(p).Message.Text
}

func (a *FacebookAdapter) Attachments(p Payload) []models.Attachment {
	var out []models.Attachment
	for _, att := range a.first(p).Message.Attachments {
		typ, ok := models.ParseAttachmentType(att.Type)
		if !ok || att.Payload.URL == "" {
			continue
		}
		name, ext := splitFileName(fileNameFromURL(att.Payload.URL))
		out = append(out, models.Attachment{
			Type:      typ,
			Name:      name,
			Extension: ext,
			URL:       att.Payload.URL,
		})
	}
	return out
}

func (a *FacebookAdapter) SendMessage(ctx context.Context, chatID, text string) error {
	body := map[string]any{
		"recipient":      map[string]string{"id": chatID},
		"messaging_type": "RESPONSE",
		"message":        map[string]string{"text": text},
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("access_token", a.conf.PageAccessToken).
		SetBody(body).
		Post(a.conf.APIURL + "/me/messages")
	if err != nil {
		return NewAdapterError(PlatformFacebook, "SendMessage", "request failed", err)
	}
	if resp.IsError() {
		return NewAdapterError(PlatformFacebook, "SendMessage",
			"unexpected status "+resp.Status()+": "+gjson.GetBytes(resp.Body(), "error.message").String(), nil)
	}
	return nil
}

// RegisterWebhook subscribes the page to message events. The callback URL
// itself is configured on the app, not per page.
func (a *FacebookAdapter) RegisterWebhook(ctx context.Context, _ string) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_token":      a.conf.PageAccessToken,
			"subscribed_fields": "messages",
		}).
		Post(a.conf.APIURL + "/me/subscribed_apps")
	if err != nil {
		return NewAdapterError(PlatformFacebook, "RegisterWebhook", "request failed", err)
	}
	if resp.IsError() || !gjson.GetBytes(resp.Body(), "success").Bool() {
		return NewAdapterError(PlatformFacebook, "RegisterWebhook", "unexpected response "+resp.Status(), nil)
	}
	return nil
}
