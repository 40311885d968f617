// Package ctxval carries request scoped values that are discovered deep in a
// call chain and read back by the caller that opened the scope, such as the
// request logger reading the operator a webhook was routed to.
package ctxval

import (
	"context"
	"sync"
)

type scopeKey struct{}

type fieldKey string

const (
	keyOperatorID     fieldKey = "operator_id"
	keyExternalUserID fieldKey = "external_user_id"
)

// scope is shared by every context derived from the wrapped one.
type scope struct {
	mu     sync.Mutex
	values context.Context
}

// Wrap opens a scope on ctx. Wrapping an already wrapped context is a no-op.
func Wrap(ctx context.Context) context.Context {
	if _, ok := scopeOf(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, &scope{values: ctx})
}

// Set stores v in the scope of ctx. It does nothing outside a scope.
func Set[K comparable, V any](ctx context.Context, k K, v V) {
	s, ok := scopeOf(ctx)
	if !ok {
		return
	}
	s.mu.Lock()
	s.values = context.WithValue(s.values, k, v)
	s.mu.Unlock()
}

func Get[K comparable, V any](ctx context.Context, k K) (V, bool) {
	s, ok := scopeOf(ctx)
	if !ok {
		var zero V
		return zero, false
	}
	s.mu.Lock()
	v, ok := s.values.Value(k).(V)
	s.mu.Unlock()
	return v, ok
}

func SetOperatorID(ctx context.Context, id string) {
	Set(ctx, keyOperatorID, id)
}

func OperatorID(ctx context.Context) string {
	v, _ := Get[fieldKey, string](ctx, keyOperatorID)
	return v
}

func SetExternalUserID(ctx context.Context, id string) {
	Set(ctx, keyExternalUserID, id)
}

func ExternalUserID(ctx context.Context) string {
	v, _ := Get[fieldKey, string](ctx, keyExternalUserID)
	return v
}

// LogFields returns the scope's identifiers as key value pairs, skipping
// the ones never set.
func LogFields(ctx context.Context) []any {
	var fields []any
	if id := OperatorID(ctx); id != "" {
		fields = append(fields, string(keyOperatorID), id)
	}
	if id := ExternalUserID(ctx); id != "" {
		fields = append(fields, string(keyExternalUserID), id)
	}
	return fields
}

func scopeOf(ctx context.Context) (*scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*scope)
	return s, ok
}
