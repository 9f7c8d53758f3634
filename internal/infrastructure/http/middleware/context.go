package middleware

import "context"

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the cryptographically verified caller of a signed dashboard
// request. TenantID comes from the signature payload, never from anything
// the client could choose freely.
type Identity struct {
	UserID   string
	TenantID string
}

// WithIdentity injects the verified identity into the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext returns the verified identity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	v := ctx.Value(identityContextKey)
	if v == nil {
		return nil
	}
	id, _ := v.(*Identity)
	return id
}
