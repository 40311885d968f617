package socket

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/pkg/util"
)

const broadcastConcurrency = 16

// Presence mirrors connection state outside the process.
type Presence interface {
	MarkOnline(ctx context.Context, operatorID string) error
	MarkOffline(ctx context.Context, operatorID string) error
}

// Registry maps operator ids to their live transport. At most one transport
// is kept per operator; a newer connection replaces the older one.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Transport

	presence Presence
	gauge    prometheus.Gauge
}

func NewRegistry(presence Presence) (*Registry, error) {
	gauge, err := util.GetGauge("relay_operator_connections", "Operators with a live transport")
	if err != nil {
		return nil, fmt.Errorf("failed to register connections gauge: %w", err)
	}
	return &Registry{
		conns:    make(map[string]Transport),
		presence: presence,
		gauge:    gauge,
	}, nil
}

func (r *Registry) Connect(ctx context.Context, operatorID string, t Transport) {
	r.mu.Lock()
	prev := r.conns[operatorID]
	r.conns[operatorID] = t
	r.gauge.Set(float64(len(r.conns)))
	r.mu.Unlock()

	if prev != nil && prev != t {
		_ = prev.Close("replaced by a newer connection")
	}
	r.markOnline(ctx, operatorID)
	log.Infow(ctx, "operator connected", "operator_id", operatorID, "replaced", prev != nil)
}

// Disconnect closes and forgets the transport of operatorID, if any.
func (r *Registry) Disconnect(ctx context.Context, operatorID string) {
	r.mu.Lock()
	t, ok := r.conns[operatorID]
	delete(r.conns, operatorID)
	r.gauge.Set(float64(len(r.conns)))
	r.mu.Unlock()

	if !ok {
		return
	}
	if !t.Closed() {
		_ = t.Close("disconnected")
	}
	r.markOffline(ctx, operatorID)
	log.Infow(ctx, "operator disconnected", "operator_id", operatorID)
}

// Release disconnects operatorID only while t is still its transport. A
// connection that was already replaced leaves the newer one untouched.
func (r *Registry) Release(ctx context.Context, operatorID string, t Transport) {
	evicted := r.evict(operatorID, t)
	if !t.Closed() {
		_ = t.Close("released")
	}
	if !evicted {
		return
	}
	r.markOffline(ctx, operatorID)
	log.Infow(ctx, "operator disconnected", "operator_id", operatorID)
}

func (r *Registry) IsConnected(ctx context.Context, operatorID string) bool {
	t := r.get(operatorID)
	if t == nil {
		return false
	}
	if t.Closed() {
		if r.evict(operatorID, t) {
			r.markOffline(ctx, operatorID)
		}
		return false
	}
	return true
}

// ConnectedIDs returns the ids with an open transport, sorted ascending.
func (r *Registry) ConnectedIDs(ctx context.Context) []string {
	var stale []string

	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id, t := range r.conns {
		if t.Closed() {
			delete(r.conns, id)
			stale = append(stale, id)
			continue
		}
		ids = append(ids, id)
	}
	r.gauge.Set(float64(len(r.conns)))
	r.mu.Unlock()

	for _, id := range stale {
		r.markOffline(ctx, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) SendText(ctx context.Context, operatorID, s string) error {
	return r.send(ctx, operatorID, func(t Transport) error {
		return t.SendText(ctx, s)
	})
}

func (r *Registry) SendJSON(ctx context.Context, operatorID string, v any) error {
	return r.send(ctx, operatorID, func(t Transport) error {
		return t.SendJSON(ctx, v)
	})
}

func (r *Registry) send(ctx context.Context, operatorID string, write func(Transport) error) error {
	t := r.get(operatorID)
	if t == nil {
		return models.ErrNotConnected
	}
	if t.Closed() {
		if r.evict(operatorID, t) {
			r.markOffline(ctx, operatorID)
		}
		return models.ErrNotConnected
	}
	if err := write(t); err != nil {
		if r.evict(operatorID, t) {
			r.markOffline(ctx, operatorID)
		}
		_ = t.Close("write failed")
		return fmt.Errorf("%w: %v", models.ErrTransportClosed, err)
	}
	return nil
}

// Broadcast sends v to every connected operator and returns the number of
// successful deliveries. Failed transports are evicted.
func (r *Registry) Broadcast(ctx context.Context, v any) int {
	r.mu.Lock()
	snapshot := make(map[string]Transport, len(r.conns))
	for id, t := range r.conns {
		snapshot[id] = t
	}
	r.mu.Unlock()

	var delivered atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(broadcastConcurrency)
	for id, t := range snapshot {
		g.Go(func() error {
			err := t.SendJSON(ctx, v)
			if err == nil {
				delivered.Add(1)
				return nil
			}
			log.Warnw(ctx, "broadcast failed", "operator_id", id, "error", err)
			if r.evict(id, t) {
				r.markOffline(ctx, id)
			}
			_ = t.Close("write failed")
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}

func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Transport)
	r.gauge.Set(0)
	r.mu.Unlock()

	for id, t := range conns {
		if !t.Closed() {
			_ = t.Close("server shutting down")
		}
		r.markOffline(ctx, id)
	}
	log.Infow(ctx, "all operators disconnected", "count", len(conns))
}

func (r *Registry) get(operatorID string) Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[operatorID]
}

// evict removes operatorID only if it still maps to t.
func (r *Registry) evict(operatorID string, t Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[operatorID]; !ok || cur != t {
		return false
	}
	delete(r.conns, operatorID)
	r.gauge.Set(float64(len(r.conns)))
	return true
}

func (r *Registry) markOnline(ctx context.Context, operatorID string) {
	if r.presence == nil {
		return
	}
	if err := r.presence.MarkOnline(ctx, operatorID); err != nil {
		log.Warnw(ctx, "failed to mark operator online", "operator_id", operatorID, "error", err)
	}
}

func (r *Registry) markOffline(ctx context.Context, operatorID string) {
	if r.presence == nil {
		return
	}
	if err := r.presence.MarkOffline(ctx, operatorID); err != nil {
		log.Warnw(ctx, "failed to mark operator offline", "operator_id", operatorID, "error", err)
	}
}
