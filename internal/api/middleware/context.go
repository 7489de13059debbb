package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"
)

type contextKey string

const (
	operatorIDKey contextKey = "operator_id"
	keyPrefixKey  contextKey = "key_prefix"
	scopesKey     contextKey = "operator_scopes"
)

// WithOperator stores the authenticated key in ctx.
func WithOperator(ctx context.Context, id uuid.UUID, prefix string, scopes []string) context.Context {
	ctx = context.WithValue(ctx, operatorIDKey, id)
	ctx = context.WithValue(ctx, keyPrefixKey, prefix)
	return context.WithValue(ctx, scopesKey, scopes)
}

func OperatorID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(operatorIDKey).(uuid.UUID)
	return id, ok
}

func keyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// HasScope reports whether the authenticated key carries scope.
func HasScope(r *http.Request, scope string) bool {
	scopes, _ := r.Context().Value(scopesKey).([]string)
	return slices.Contains(scopes, scope)
}
