package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	log "github.com/carousell/ct-go/pkg/logger/log_context"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

// Registry keeps adapters in registration order. Inbound requests are
// matched against adapters in that order.
type Registry struct {
	mu       sync.RWMutex
	order    []Adapter
	adapters map[Platform]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[Platform]Adapter),
	}
}

func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("adapter cannot be nil")
	}
	name := a.Name()
	if name == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("platform %s already registered", name)
	}
	r.adapters[name] = a
	r.order = append(r.order, a)
	return nil
}

func (r *Registry) Get(p Platform) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: platform %q not registered", models.ErrUnknownOrigin, p)
	}
	return a, nil
}

// GetByName looks an adapter up by its platform name, case-insensitively.
func (r *Registry) GetByName(name string) (Adapter, error) {
	return r.Get(Platform(strings.ToLower(strings.TrimSpace(name))))
}

func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Platform, len(r.order))
	for i, a := range r.order {
		out[i] = a.Name()
	}
	return out
}

func (r *Registry) snapshot() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Adapter(nil), r.order...)
}

// CreateEvent turns a raw webhook call into an Event using the first adapter
// that both authenticates and parses it.
func (r *Registry) CreateEvent(ctx context.Context, req *Request, requireText bool) (Event, error) {
	if req == nil || len(req.Body) == 0 || !json.Valid(req.Body) {
		return nil, fmt.Errorf("%w: body is not valid json", models.ErrInvalidRequest)
	}

	for _, a := range r.snapshot() {
		if !a.Authenticate(req) {
			continue
		}
		p, err := a.Parse(req)
		if err != nil {
			log.Debugw(ctx, "authentic request rejected by parser", "platform", a.Name(), "error", err)
			continue
		}
		evt := newEvent(a, p)
		if requireText && evt.Text() == "" {
			return nil, models.ErrMissingMessage
		}
		return evt, nil
	}

	return nil, models.ErrUnknownOrigin
}

// Send delivers text to an external user addressed by "{platform}_{chat_id}".
func (r *Registry) Send(ctx context.Context, uniqueID, text string) error {
	name, chatID, err := models.SplitUniqueUserID(uniqueID)
	if err != nil {
		return err
	}
	a, err := r.GetByName(name)
	if err != nil {
		return err
	}
	return a.SendMessage(ctx, chatID, text)
}

// AttachmentURL returns a download url for att as received on platform p.
func (r *Registry) AttachmentURL(ctx context.Context, p Platform, att models.Attachment) (string, error) {
	if att.URL != "" {
		return att.URL, nil
	}
	a, err := r.Get(p)
	if err != nil {
		return "", err
	}
	resolver, ok := a.(FileResolver)
	if !ok || att.FileID == "" {
		return "", fmt.Errorf("%s attachment %q has no url", p, att.Name)
	}
	return resolver.FileURL(ctx, att.FileID)
}

// RegisterWebhooks points every platform at webhookURL. All platforms are
// attempted; failures are joined.
func (r *Registry) RegisterWebhooks(ctx context.Context, webhookURL string) error {
	var errs []error
	for _, a := range r.snapshot() {
		if err := a.RegisterWebhook(ctx, webhookURL); err != nil {
			log.Errorw(ctx, "webhook registration failed", "platform", a.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		log.Infow(ctx, "webhook registered", "platform", a.Name(), "url", webhookURL)
	}
	return errors.Join(errs...)
}
