package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nguyentranbao-ct/chat-relay/internal/config"
	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/internal/platform"
	"github.com/nguyentranbao-ct/chat-relay/internal/repo/socket"
)

type fakeRelay struct {
	mu        sync.Mutex
	inbound   []string
	outbound  []models.OperatorFrame
	inboundFn func(body string) error
	archived  []int64
	suspended map[string]bool
	webhookFn func() error
}

func (r *fakeRelay) HandleInbound(_ context.Context, req *platform.Request) error {
	r.mu.Lock()
	r.inbound = append(r.inbound, string(req.Body))
	r.mu.Unlock()
	if r.inboundFn != nil {
		return r.inboundFn(string(req.Body))
	}
	return nil
}

func (r *fakeRelay) HandleOutbound(_ context.Context, _ string, frame models.OperatorFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbound = append(r.outbound, frame)
	return nil
}

func (r *fakeRelay) outboundFrames() []models.OperatorFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OperatorFrame(nil), r.outbound...)
}

func (r *fakeRelay) ArchiveConversation(_ context.Context, operatorID string, chatID int64) error {
	if chatID == 9 {
		return fmt.Errorf("%w: chat 9 is assigned to another operator", models.ErrForbidden)
	}
	r.archived = append(r.archived, chatID)
	return nil
}

func (r *fakeRelay) ListOpenConversations(_ context.Context, operatorID string) ([]*models.Conversation, error) {
	return []*models.Conversation{{ID: 5, UserID: "viber_111", OperatorID: operatorID}}, nil
}

func (r *fakeRelay) ListMessages(_ context.Context, _ string, chatID int64) ([]*models.Message, error) {
	return []*models.Message{
		{ID: 1, ChatID: chatID, Text: "hi", IsFromUser: true, CreatedAt: time.Unix(1700000000, 0)},
	}, nil
}

func (r *fakeRelay) SetSuspended(_ context.Context, userID string, suspended bool) error {
	if r.suspended == nil {
		r.suspended = map[string]bool{}
	}
	r.suspended[userID] = suspended
	return nil
}

func (r *fakeRelay) RegisterWebhooks(context.Context) error {
	if r.webhookFn != nil {
		return r.webhookFn()
	}
	return nil
}

func (r *fakeRelay) UpdateBusyness(context.Context, models.BusynessUpdate) error { return nil }
func (r *fakeRelay) Drain(context.Context) error                                 { return nil }

type fakeAuth map[string]*models.Operator

func (a fakeAuth) Authenticate(_ context.Context, token string) (*models.Operator, error) {
	if op, ok := a[token]; ok {
		return op, nil
	}
	return nil, models.ErrUnauthorized
}

type fakeConnections struct {
	mu       sync.Mutex
	live     map[string]socket.Transport
	released []string
}

func (f *fakeConnections) Connect(_ context.Context, operatorID string, t socket.Transport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live == nil {
		f.live = map[string]socket.Transport{}
	}
	f.live[operatorID] = t
}

func (f *fakeConnections) Release(_ context.Context, operatorID string, _ socket.Transport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, operatorID)
	f.released = append(f.released, operatorID)
}

func (f *fakeConnections) Broadcast(ctx context.Context, v any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.live {
		_ = t.SendJSON(ctx, v)
	}
	return len(f.live)
}

func (f *fakeConnections) DisconnectAll(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.live {
		_ = t.Close("shutdown")
		delete(f.live, id)
	}
}

func (f *fakeConnections) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

type fixture struct {
	e     *echo.Echo
	relay *fakeRelay
	conns *fakeConnections
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conf := &config.Config{
		Relay: config.RelayConfig{
			WebhookPath:          "/webhook",
			WSInsecureSkipVerify: true,
			SendTimeout:          time.Second,
		},
		Facebook: config.FacebookConfig{VerificationToken: "verify-me"},
	}
	relay := &fakeRelay{}
	conns := &fakeConnections{}
	auth := fakeAuth{"good": {ID: "op-1", Email: "op@example.com"}}
	e := NewEcho(conf, NewController(conf, relay), NewSocketHandler(conf, auth, relay, conns), auth)
	return &fixture{e: e, relay: relay, conns: conns}
}

func (f *fixture) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestWebhook(t *testing.T) {
	f := newFixture(t)
	f.relay.inboundFn = func(body string) error {
		switch body {
		case "suspended":
			return models.ErrSuspended
		case "nobody":
			return fmt.Errorf("assign: %w", models.ErrNoPersonnelAvailable)
		case "receipt":
			return fmt.Errorf("%w: delivery receipt", models.ErrMissingMessage)
		case "forged":
			return models.ErrUnknownOrigin
		case "db":
			return errors.New("mongo down")
		}
		return nil
	}

	tests := []struct {
		body string
		code int
		want string
	}{
		{body: `{"event":"message"}`, code: http.StatusOK, want: "OK"},
		{body: "suspended", code: http.StatusOK, want: "OK"},
		{body: "nobody", code: http.StatusOK, want: "OK"},
		{body: "receipt", code: http.StatusBadRequest, want: `"message":`},
		{body: "forged", code: http.StatusBadRequest, want: "unknown request origin"},
		{body: "db", code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/webhook", tt.body, nil)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
	assert.Len(t, f.relay.inbound, len(tests))
}

func TestVerifyWebhook(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = f.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/webhook?hub.mode=unsubscribe&hub.verify_token=verify-me", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIndexAndInit(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, "I'm ok", rec.Body.String())

	rec = f.do(http.MethodGet, "/init", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "I'm ok", rec.Body.String())

	f.relay.webhookFn = func() error { return errors.New("viber: set_webhook rejected") }
	rec = f.do(http.MethodGet, "/init", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "viber: set_webhook rejected", rec.Body.String())
}

func TestOperatorAPI(t *testing.T) {
	f := newFixture(t)
	bearer := map[string]string{echo.HeaderAuthorization: "Bearer good"}

	rec := f.do(http.MethodGet, "/api/v1/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/chats", "", map[string]string{echo.HeaderAuthorization: "Bearer expired"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/chats", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"viber_111"`)
	assert.Contains(t, rec.Body.String(), `"operator_id":"op-1"`)

	rec = f.do(http.MethodGet, "/api/v1/chats/5/messages", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":[{"id":1,"text":"hi","createdAt":1700000000,"chatId":5,"isFromUser":true}]}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/v1/chats/5/archive", "", bearer)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{5}, f.relay.archived)

	rec = f.do(http.MethodPost, "/api/v1/chats/9/archive", "", bearer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/users/telegram_222/suspend", "", bearer)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/users/viber_111/unsuspend", "", bearer)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, map[string]bool{"telegram_222": true, "viber_111": false}, f.relay.suspended)

	rec = f.do(http.MethodPost, "/api/v1/users/nobody/suspend", "", bearer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSocket(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.e)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL+"bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_, _ = io.Copy(io.Discard, resp.Body)

	conn, _, err := websocket.Dial(ctx, wsURL+"good", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.conns.count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	var errFrame models.ErrorFrame
	require.NoError(t, wsjson.Read(ctx, conn, &errFrame))
	assert.Contains(t, errFrame.Error, "invalid request")

	frame := models.OperatorFrame{Text: "Привіт", ChatID: 5, UserID: "viber_111"}
	require.NoError(t, wsjson.Write(ctx, conn, frame))
	require.Eventually(t, func() bool { return len(f.relay.outboundFrames()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, frame, f.relay.outboundFrames()[0])

	require.Equal(t, 1, f.conns.Broadcast(ctx, models.NoticeFrame{Notice: "restarting"}))
	var notice models.NoticeFrame
	require.NoError(t, wsjson.Read(ctx, conn, &notice))
	assert.Equal(t, "restarting", notice.Notice)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return f.conns.count() == 0 }, time.Second, 10*time.Millisecond)
}
