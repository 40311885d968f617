package usecase

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/internal/platform"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/mongodb"
)

// memStore backs every fake repository so tests can inspect one state.
type memStore struct {
	mu sync.Mutex

	nextChat int64
	nextMsg  int64

	users            map[string]*models.ExternalUser
	operators        map[string]*models.Operator
	chats            map[int64]*models.Conversation
	archivedChats    map[int64]*models.ArchivedConversation
	messages         []*models.Message
	archivedMessages []*models.Message
	scores           []models.OperatorScore
	sessions         map[string]*models.Session

	// createHook runs before Create stores a conversation.
	createHook func(userID string) error
	// touchHook runs once, before the next conversation Touch.
	touchHook func(chatID int64)
}

func newMemStore() *memStore {
	return &memStore{
		users:         map[string]*models.ExternalUser{},
		operators:     map[string]*models.Operator{},
		chats:         map[int64]*models.Conversation{},
		archivedChats: map[int64]*models.ArchivedConversation{},
		sessions:      map[string]*models.Session{},
	}
}

func (s *memStore) addOperator(id string, permissions ...string) *models.Operator {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := &models.Operator{ID: id, Email: id + "@example.com", Permissions: permissions, IsActive: true}
	s.operators[id] = op
	return op
}

func (s *memStore) addConversation(id int64, userID, operatorID string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[id] = &models.Conversation{ID: id, UserID: userID, OperatorID: operatorID, CreatedAt: createdAt, UpdatedAt: createdAt}
	s.nextChat = max(s.nextChat, id)
}

func (s *memStore) addMessage(chatID int64, text string, fromUser bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	s.messages = append(s.messages, &models.Message{ID: s.nextMsg, ChatID: chatID, Text: text, IsFromUser: fromUser, CreatedAt: at})
}

func (s *memStore) chatMessages(chatID int64) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) openChats() []*models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Conversation, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// archiveChatOnly moves the conversation to the archive and leaves its
// messages behind, as an archive that read them before they were stored.
func (s *memStore) archiveChatOnly(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chats[chatID]
	s.archivedChats[chatID] = &models.ArchivedConversation{ID: c.ID, UserID: c.UserID, OperatorID: c.OperatorID, CreatedAt: c.CreatedAt, ArchivedAt: time.Now()}
	delete(s.chats, chatID)
}

func (s *memStore) archivedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.archivedMessages)
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type fakeUserRepo struct{ s *memStore }

func (r fakeUserRepo) Touch(_ context.Context, platformName, chatID string) (*models.ExternalUser, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id := models.UniqueUserID(platformName, chatID)
	u, ok := r.s.users[id]
	if !ok {
		u = &models.ExternalUser{ID: id, Platform: platformName, ChatID: chatID, CreatedAt: time.Now()}
		r.s.users[id] = u
	}
	u.Online = true
	u.LastStatusAt = time.Now()
	cp := *u
	return &cp, nil
}

func (r fakeUserRepo) GetByID(_ context.Context, id string) (*models.ExternalUser, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r fakeUserRepo) SetSuspended(_ context.Context, id string, suspended bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		platformName, chatID, _ := models.SplitUniqueUserID(id)
		u = &models.ExternalUser{ID: id, Platform: platformName, ChatID: chatID}
		r.s.users[id] = u
	}
	u.Suspended = suspended
	return nil
}

func (r fakeUserRepo) SetOnline(_ context.Context, id string, online bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		u.Online = online
	}
	return nil
}

type fakeConvRepo struct{ s *memStore }

func (r fakeConvRepo) GetOpenByUser(_ context.Context, userID string) (*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.chats {
		if c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r fakeConvRepo) GetByID(_ context.Context, chatID int64) (*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r fakeConvRepo) Create(_ context.Context, userID, operatorID string) (*models.Conversation, error) {
	if hook := r.s.createHook; hook != nil {
		if err := hook(userID); err != nil {
			return nil, err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.chats {
		if c.UserID == userID {
			return nil, models.ErrStorageConflict
		}
	}
	r.s.nextChat++
	now := time.Now()
	c := &models.Conversation{ID: r.s.nextChat, UserID: userID, OperatorID: operatorID, CreatedAt: now, UpdatedAt: now}
	r.s.chats[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r fakeConvRepo) ListByOperator(_ context.Context, operatorID string) ([]*models.Conversation, error) {
	var out []*models.Conversation
	for _, c := range r.s.openChats() {
		if c.OperatorID == operatorID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r fakeConvRepo) Touch(_ context.Context, chatID int64) error {
	r.s.mu.Lock()
	hook := r.s.touchHook
	r.s.touchHook = nil
	r.s.mu.Unlock()
	if hook != nil {
		hook(chatID)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return models.ErrNotFound
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (r fakeConvRepo) Archive(_ context.Context, chatID int64) (*models.ArchivedConversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return nil, models.ErrNotFound
	}
	a := &models.ArchivedConversation{ID: c.ID, UserID: c.UserID, OperatorID: c.OperatorID, CreatedAt: c.CreatedAt, ArchivedAt: time.Now()}
	r.s.archivedChats[a.ID] = a
	delete(r.s.chats, chatID)

	kept := r.s.messages[:0]
	for _, m := range r.s.messages {
		if m.ChatID == chatID {
			r.s.archivedMessages = append(r.s.archivedMessages, m)
			continue
		}
		kept = append(kept, m)
	}
	r.s.messages = kept
	return a, nil
}

func (r fakeConvRepo) LatestArchived(_ context.Context, userID string) (*models.ArchivedConversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *models.ArchivedConversation
	for _, a := range r.s.archivedChats {
		if a.UserID == userID && (latest == nil || a.ArchivedAt.After(latest.ArchivedAt)) {
			latest = a
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r fakeConvRepo) Unarchive(ctx context.Context, archived *models.ArchivedConversation, operatorID string) (*models.Conversation, error) {
	conv, err := r.Create(ctx, archived.UserID, operatorID)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.archivedMessages[:0]
	for _, m := range r.s.archivedMessages {
		if m.ChatID != archived.ID {
			kept = append(kept, m)
			continue
		}
		r.s.nextMsg++
		r.s.messages = append(r.s.messages, &models.Message{
			ID:         r.s.nextMsg,
			ChatID:     conv.ID,
			Text:       m.Text,
			IsFromUser: m.IsFromUser,
			CreatedAt:  m.CreatedAt,
		})
	}
	r.s.archivedMessages = kept
	delete(r.s.archivedChats, archived.ID)
	return conv, nil
}

type fakeMessageRepo struct{ s *memStore }

func (r fakeMessageRepo) Create(_ context.Context, chatID int64, text string, isFromUser bool) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextMsg++
	m := &models.Message{ID: r.s.nextMsg, ChatID: chatID, Text: text, IsFromUser: isFromUser, CreatedAt: time.Now()}
	r.s.messages = append(r.s.messages, m)
	cp := *m
	return &cp, nil
}

func (r fakeMessageRepo) ListByChat(_ context.Context, chatID int64) ([]*models.Message, error) {
	return r.s.chatMessages(chatID), nil
}

func (r fakeMessageRepo) Delete(_ context.Context, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, m := range r.s.messages {
		if m.ID == id {
			r.s.messages = append(r.s.messages[:i], r.s.messages[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakeOperatorRepo struct{ s *memStore }

func (r fakeOperatorRepo) GetByID(_ context.Context, id string) (*models.Operator, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	op, ok := r.s.operators[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (r fakeOperatorRepo) FindEligible(ctx context.Context, ids []string, titles []string) ([]*models.Operator, error) {
	var out []*models.Operator
	for _, id := range ids {
		ok, _ := r.HasPermission(ctx, id, titles)
		if !ok {
			continue
		}
		op, _ := r.GetByID(ctx, id)
		out = append(out, op)
	}
	return out, nil
}

func (r fakeOperatorRepo) HasPermission(_ context.Context, id string, titles []string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	op, ok := r.s.operators[id]
	if !ok || !op.IsActive {
		return false, nil
	}
	for _, p := range op.Permissions {
		for _, t := range titles {
			if p == t {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r fakeOperatorRepo) SetPerceivedBusyness(_ context.Context, id string, value float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	op, ok := r.s.operators[id]
	if !ok {
		return models.ErrNotFound
	}
	op.PerceivedBusyness = value
	return nil
}

type fakeActivityRepo struct{ s *memStore }

func (r fakeActivityRepo) WindowConversations(_ context.Context, since time.Time, operatorIDs []string) ([]models.WindowConversation, error) {
	var out []models.WindowConversation
	for _, c := range r.s.openChats() {
		if c.CreatedAt.Before(since) {
			continue
		}
		wc := models.WindowConversation{ChatID: c.ID, OperatorID: c.OperatorID}
		for _, m := range r.s.chatMessages(c.ID) {
			wc.Messages = append(wc.Messages, *m)
		}
		out = append(out, wc)
	}
	return out, nil
}

type fakeScoreRepo struct{ s *memStore }

func (r fakeScoreRepo) UpsertMany(_ context.Context, scores []models.OperatorScore) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.scores = append([]models.OperatorScore(nil), scores...)
	return nil
}

func (r fakeScoreRepo) List(context.Context) ([]models.OperatorScore, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.scores, nil
}

type fakeSessionRepo struct{ s *memStore }

func (r fakeSessionRepo) GetActive(_ context.Context, token string) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[token]
	if !ok || !sess.ExpiresAt.After(time.Now()) {
		return nil, models.ErrNotFound
	}
	return sess, nil
}

var (
	_ mongodb.ExternalUserRepository = fakeUserRepo{}
	_ mongodb.ConversationRepository = fakeConvRepo{}
	_ mongodb.MessageRepository      = fakeMessageRepo{}
	_ mongodb.OperatorRepository     = fakeOperatorRepo{}
	_ mongodb.ActivityRepository     = fakeActivityRepo{}
	_ mongodb.ScoreRepository        = fakeScoreRepo{}
	_ mongodb.SessionRepository      = fakeSessionRepo{}
)

// fakeInbound is the body understood by fakeGateway.
type fakeInbound struct {
	Platform    string              `json:"platform"`
	ChatID      string              `json:"chat_id"`
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments"`
}

func inboundRequest(platformName, chatID, text string) *platform.Request {
	body, _ := json.Marshal(fakeInbound{Platform: platformName, ChatID: chatID, Text: text})
	return &platform.Request{Body: body}
}

type fakeGateway struct {
	mu      sync.Mutex
	replies map[string][]string
	sent    map[string][]string
	sendErr error
	hookURL string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{replies: map[string][]string{}, sent: map[string][]string{}}
}

func (g *fakeGateway) CreateEvent(_ context.Context, req *platform.Request, requireText bool) (platform.Event, error) {
	var in fakeInbound
	if err := json.Unmarshal(req.Body, &in); err != nil || in.Platform == "" {
		return nil, models.ErrUnknownOrigin
	}
	if requireText && in.Text == "" {
		return nil, models.ErrMissingMessage
	}
	return &fakeEvent{gw: g, in: in}, nil
}

func (g *fakeGateway) Send(_ context.Context, uniqueID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent[uniqueID] = append(g.sent[uniqueID], text)
	return g.sendErr
}

func (g *fakeGateway) AttachmentURL(_ context.Context, _ platform.Platform, att models.Attachment) (string, error) {
	return "https://media.example.com/" + att.Name, nil
}

func (g *fakeGateway) RegisterWebhooks(_ context.Context, url string) error {
	g.hookURL = url
	return nil
}

func (g *fakeGateway) repliesTo(uniqueID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.replies[uniqueID]...)
}

type fakeEvent struct {
	gw *fakeGateway
	in fakeInbound
}

func (e *fakeEvent) UniqueID() string                 { return models.UniqueUserID(e.in.Platform, e.in.ChatID) }
func (e *fakeEvent) Platform() platform.Platform      { return platform.Platform(e.in.Platform) }
func (e *fakeEvent) ChatID() string                   { return e.in.ChatID }
func (e *fakeEvent) Text() string                     { return e.in.Text }
func (e *fakeEvent) Attachments() []models.Attachment { return e.in.Attachments }

func (e *fakeEvent) SendReply(_ context.Context, text string) error {
	e.gw.mu.Lock()
	defer e.gw.mu.Unlock()
	e.gw.replies[e.UniqueID()] = append(e.gw.replies[e.UniqueID()], text)
	return nil
}

type fakeConnections struct {
	mu        sync.Mutex
	connected map[string]bool
	frames    map[string][]any
	sendErr   map[string]error
}

func newFakeConnections(ids ...string) *fakeConnections {
	c := &fakeConnections{connected: map[string]bool{}, frames: map[string][]any{}, sendErr: map[string]error{}}
	for _, id := range ids {
		c.connected[id] = true
	}
	return c
}

func (c *fakeConnections) ConnectedIDs(context.Context) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.connected))
	for id := range c.connected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *fakeConnections) SendJSON(_ context.Context, id string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendErr[id]; err != nil {
		return err
	}
	if !c.connected[id] {
		return models.ErrNotConnected
	}
	c.frames[id] = append(c.frames[id], v)
	return nil
}

func (c *fakeConnections) framesFor(id string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.frames[id]...)
}

type publishedEvent struct {
	key  string
	data any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(_ context.Context, key string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{key: key, data: data})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.key
	}
	return out
}

type sentMail struct {
	to     string
	chatID int64
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) SendMissedMessage(_ context.Context, to string, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, chatID: chatID})
	return nil
}

type fakeStorage struct {
	mu    sync.Mutex
	urls  []string
	block chan struct{}
}

func (s *fakeStorage) Mirror(_ context.Context, att models.Attachment, url string) (string, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, url)
	return string(att.Type) + "/" + att.Name, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Relay: config.RelayConfig{
			WebhookPath:     "/webhook",
			PublicURL:       "https://relay.example.com",
			ScoreWindow:     time.Hour,
			ChatPermissions: []string{"chat:*", "*"},
		},
	}
}

type relayFixture struct {
	store       *memStore
	gateway     *fakeGateway
	connections *fakeConnections
	publisher   *fakePublisher
	mailer      *fakeMailer
	storage     *fakeStorage
	relay       *relayUsecase
}

func newRelayFixture(t *testing.T, connected ...string) *relayFixture {
	t.Helper()
	f := &relayFixture{
		store:       newMemStore(),
		gateway:     newFakeGateway(),
		connections: newFakeConnections(connected...),
		publisher:   &fakePublisher{},
		mailer:      &fakeMailer{},
		storage:     &fakeStorage{},
	}
	conf := testConfig()
	policy := NewAssignmentPolicy(conf, fakeConvRepo{f.store}, fakeOperatorRepo{f.store}, fakeActivityRepo{f.store}, fakeScoreRepo{f.store})
	relay, err := NewRelayUsecase(conf, f.gateway, f.connections, policy,
		fakeUserRepo{f.store}, fakeConvRepo{f.store}, fakeMessageRepo{f.store}, fakeOperatorRepo{f.store},
		f.publisher, f.mailer, f.storage)
	require.NoError(t, err)
	f.relay = relay.(*relayUsecase)
	return f
}
