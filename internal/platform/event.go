package platform

import (
	"context"
	"sync"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

// Event is a normalized inbound message. Events are only built by
// Registry.CreateEvent.
type Event interface {
	UniqueID() string
	Platform() Platform
	ChatID() string
	Text() string
	// Attachments is computed on first call and cached for the event.
	Attachments() []models.Attachment
	SendReply(ctx context.Context, text string) error
}

type event struct {
	adapter Adapter
	payload Payload
	chatID  string
	text    string

	attachOnce  sync.Once
	attachments []models.Attachment
}

func newEvent(a Adapter, p Payload) *event {
	return &event{
		adapter: a,
		payload: p,
		chatID:  a.ChatID(p),
		text:    a.Text(p),
	}
}

func (e *event) UniqueID() string {
	return models.UniqueUserID(string(e.adapter.Name()), e.chatID)
}

func (e *event) Platform() Platform {
	return e.adapter.Name()
}

func (e *event) ChatID() string {
	return e.chatID
}

func (e *event) Text() string {
	return e.text
}

func (e *event) Attachments() []models.Attachment {
	e.attachOnce.Do(func() {
		e.attachments = e.adapter.Attachments(e.payload)
	})
	return e.attachments
}

func (e *event) SendReply(ctx context.Context, text string) error {
	return e.adapter.SendMessage(ctx, e.chatID, text)
}
