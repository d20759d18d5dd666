// Package identity implements the session & identity boundary (C8): a
// narrow Identity extraction function plus the tenant-scoping predicate
// C3-C5 use to reject cross-tenant access. The session store itself
// (cookie codec, token issuance) is an out-of-scope external collaborator
// per the runtime's HTTP-router boundary; this package only consumes it
// through the SessionResolver interface.
package identity

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// Identity is the resolved principal behind a WebSocket connection or HTTP
// request.
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     model.Role
}

// Allows reports whether this identity may act within tenantID: Root acts
// across every tenant, everyone else only within their own.
func (id Identity) Allows(tenantID uuid.UUID) bool {
	return id.Role == model.RoleRoot || id.TenantID == tenantID
}

// SessionResolver turns an opaque session token into an Identity. This
// package's MemoryResolver (memory.go) is the implementation cmd/ wires in.
type SessionResolver interface {
	Resolve(token string) (Identity, bool)
}

// sessionCookieName is the cookie the session token travels in when the
// client can send cookies (same-origin browser clients).
const sessionCookieName = "session"

// sessionQueryParam is checked first so cross-origin clients that cannot
// send cookies (other origins, non-browser clients) can still
// authenticate a WebSocket upgrade.
const sessionQueryParam = "session"

// Extract resolves the identity behind an HTTP request: the "session"
// query parameter first, then the "session" cookie. It returns ok=false
// for an anonymous request (no token, or a token the resolver doesn't
// recognize) rather than an error — anonymous connections are a normal,
// accepted state per §4.8, not a failure.
func Extract(r *http.Request, resolver SessionResolver) (Identity, bool) {
	if token := r.URL.Query().Get(sessionQueryParam); token != "" {
		if id, ok := resolver.Resolve(token); ok {
			return id, true
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if id, ok := resolver.Resolve(cookie.Value); ok {
			return id, true
		}
	}
	return Identity{}, false
}

type contextKey struct{}

// NewContext annotates ctx with the resolved identity, the same
// `is_root`/`tenant_id` annotation §4.8 describes for HTTP handlers,
// carried through context.Context so WebSocket handlers (which share a
// dispatcher with no other per-request state) can recover it.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext recovers an identity annotated by NewContext.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
