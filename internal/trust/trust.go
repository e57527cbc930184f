// Package trust yields tenant-scoped contexts from trust IDs. A trust is
// a scoped credential that lets the service act on behalf of a tenant
// without holding their password.
package trust

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownTrust is returned when a trust ID cannot be resolved.
var ErrUnknownTrust = errors.New("trust: unknown trust id")

// Scope is the tenant identity a trust resolves to.
type Scope struct {
	TrustID   string
	ProjectID string
	UserID    string
}

type ctxKey struct{}

// NewContext returns ctx carrying the given scope.
func NewContext(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext extracts the trust scope from ctx if present.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}

// Broker resolves trust IDs into tenant-scoped contexts.
type Broker interface {
	ScopedContext(ctx context.Context, trustID string) (context.Context, Scope, error)
}

// StaticBroker resolves trusts from a registered in-memory table. An
// unregistered trust resolves to a scope whose project equals the trust
// ID, which keeps single-tenant deployments working without setup.
type StaticBroker struct {
	mu     sync.RWMutex
	scopes map[string]Scope
}

func NewStaticBroker() *StaticBroker {
	return &StaticBroker{scopes: make(map[string]Scope)}
}

// Register installs a trust-to-scope mapping.
func (b *StaticBroker) Register(s Scope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scopes[s.TrustID] = s
}

func (b *StaticBroker) ScopedContext(ctx context.Context, trustID string) (context.Context, Scope, error) {
	b.mu.RLock()
	s, ok := b.scopes[trustID]
	b.mu.RUnlock()
	if !ok {
		s = Scope{TrustID: trustID, ProjectID: trustID}
	}
	return NewContext(ctx, s), s, nil
}

var _ Broker = (*StaticBroker)(nil)
