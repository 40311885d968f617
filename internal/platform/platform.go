package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

// Platform identifies a messaging platform. The value is also the prefix of
// every external user id coming from it.
type Platform string

const (
	PlatformViber    Platform = "viber"
	PlatformFacebook Platform = "facebook"
	PlatformTelegram Platform = "telegram"
)

// maxBodySize caps webhook bodies; platform updates are a few KB at most.
const maxBodySize = 1 << 20

// Request is a buffered inbound webhook call. The body is read once so every
// adapter can verify its signature over the same raw bytes.
type Request struct {
	Header http.Header
	Query  url.Values
	Body   []byte
}

func NewRequest(r *http.Request) (*Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", models.ErrInvalidRequest, err)
	}
	return &Request{
		Header: r.Header.Clone(),
		Query:  r.URL.Query(),
		Body:   body,
	}, nil
}

// Payload is the platform specific parsed body. Each adapter only receives
// payloads it produced itself.
type Payload any

// Adapter implements inbound validation and parsing plus outbound delivery
// for one platform.
type Adapter interface {
	Name() Platform

	// Authenticate checks the request really comes from the platform.
	Authenticate(req *Request) bool
	// Parse decodes and validates the body. It fails for bodies that are
	// authentic but carry no user message (delivery receipts, joins, ...).
	Parse(req *Request) (Payload, error)

	ChatID(p Payload) string
	Text(p Payload) string
	Attachments(p Payload) []models.Attachment

	SendMessage(ctx context.Context, chatID, text string) error
	RegisterWebhook(ctx context.Context, webhookURL string) error
}

// FileResolver is implemented by adapters whose attachments carry a file id
// instead of a direct url.
type FileResolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

// AdapterError wraps platform I/O failures with the operation that failed.
type AdapterError struct {
	Platform  Platform `json:"platform"`
	Operation string   `json:"operation"`
	Message   string   `json:"message"`
	Cause     error    `json:"-"`
}

func (e *AdapterError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Platform, e.Operation, e.Message)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *AdapterError) Unwrap() error {
	return e.Cause
}

func NewAdapterError(p Platform, operation, message string, cause error) *AdapterError {
	return &AdapterError{
		Platform:  p,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

var validate = validator.New()
