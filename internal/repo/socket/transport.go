package socket

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

// Transport is a live channel to one operator.
type Transport interface {
	SendText(ctx context.Context, s string) error
	SendJSON(ctx context.Context, v any) error
	Close(reason string) error
	Closed() bool
}

// WSTransport is a Transport over a websocket connection. It pings the peer
// periodically and marks itself closed on the first I/O failure.
type WSTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

func NewWSTransport(conn *websocket.Conn, pingInterval, writeTimeout time.Duration) *WSTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &WSTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	if pingInterval > 0 {
		go t.keepAliveLoop(pingInterval)
	}
	return t
}

func (t *WSTransport) SendText(ctx context.Context, s string) error {
	if t.Closed() {
		return websocket.CloseError{Code: websocket.StatusGoingAway, Reason: "closed"}
	}
	ctx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	if err := t.conn.Write(ctx, websocket.MessageText, []byte(s)); err != nil {
		t.markClosed()
		return err
	}
	return nil
}

func (t *WSTransport) SendJSON(ctx context.Context, v any) error {
	if t.Closed() {
		return websocket.CloseError{Code: websocket.StatusGoingAway, Reason: "closed"}
	}
	ctx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, t.conn, v); err != nil {
		t.markClosed()
		return err
	}
	return nil
}

// ReadJSON blocks for the next frame from the operator. A frame that is not
// valid json yields ErrInvalidRequest and leaves the connection open.
func (t *WSTransport) ReadJSON(ctx context.Context, v any) error {
	_, b, err := t.conn.Read(ctx)
	if err != nil {
		t.markClosed()
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

func (t *WSTransport) Close(reason string) error {
	if t.closed.Swap(true) {
		t.cancel()
		return nil
	}
	t.cancel()
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}

func (t *WSTransport) Closed() bool {
	return t.closed.Load()
}

// Done is closed once the transport is closed or its keep-alive fails.
func (t *WSTransport) Done() <-chan struct{} {
	return t.ctx.Done()
}

func (t *WSTransport) markClosed() {
	t.closed.Store(true)
	t.cancel()
}

func (t *WSTransport) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(t.ctx, 5*time.Second)
			err := t.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				t.markClosed()
				return
			}
		}
	}
}
