package auth

import (
	"context"
	"slices"
)

// Scopes granted to API keys.
const (
	ScopeCalculate = "schemes:calculate"
	ScopeOverride  = "schemes:override"
	ScopeSubmit    = "orders:submit"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Has reports whether the key carries scope.
func (k *APIKeyInfo) Has(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type ctxKey struct{}

// WithKey returns a context carrying the authenticated key.
func WithKey(ctx context.Context, k *APIKeyInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, k)
}

// FromContext returns the authenticated key, if any.
func FromContext(ctx context.Context) (*APIKeyInfo, bool) {
	k, ok := ctx.Value(ctxKey{}).(*APIKeyInfo)
	return k, ok && k != nil
}

// Actor names the caller for audit records.
func Actor(ctx context.Context) string {
	if k, ok := FromContext(ctx); ok {
		return k.Name
	}
	return ""
}
