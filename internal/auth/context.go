package auth

import (
	"context"
	"strings"
)

// UnknownActor is the display name used when no identity is present.
const UnknownActor = "Unknown"

type contextKey string

const (
	contextKeyIdentity contextKey = "auth.identity"
)

// Identity is the verified caller of a request.
type Identity struct {
	Subject string
	Name    string
	Role    Role
}

// WithIdentity stores the caller identity in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, id)
}

// IdentityFromContext returns the caller identity if one was verified.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(contextKeyIdentity).(Identity)
	return id, ok
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// ActorFromContext returns the display name recorded in audit trails:
// the name claim, then the subject, then UnknownActor.
func ActorFromContext(ctx context.Context) string {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return UnknownActor
	}
	if name := strings.TrimSpace(id.Name); name != "" {
		return name
	}
	if sub := strings.TrimSpace(id.Subject); sub != "" {
		return sub
	}
	return UnknownActor
}
