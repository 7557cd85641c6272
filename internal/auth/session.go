// internal/auth/session.go
package auth

import (
	"context"

	"optiquantia/internal/models"
)

type ctxKeyIdentity struct{}

// WithIdentity stores the resolved identity for request-scoped code.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, id)
}

func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity{}).(models.Identity)
	return id, ok
}
