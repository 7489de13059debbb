package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/response"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefixLen = 8
	keyScheme    = "vc_"
)

// Auth checks operator API keys against their bcrypt hashes.
type Auth struct {
	keys store.OperatorKeyStore
}

func NewAuth(keys store.OperatorKeyStore) *Auth {
	return &Auth{keys: keys}
}

// Authenticate resolves the Bearer key and stores the operator in the
// request context. Revoked keys are rejected.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing or invalid Authorization header", nil)
			return
		}
		if len(raw) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Invalid API key format", nil)
			return
		}

		prefix := raw[:keyPrefixLen]
		candidates, err := a.keys.GetOperatorKeysByPrefix(r.Context(), prefix)
		if err != nil {
			slog.Error("operator key lookup failed", "prefix", prefix, "error", err)
			response.Internal(w)
			return
		}

		for _, key := range candidates {
			if key.RevokedAt != nil {
				continue
			}
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)) != nil {
				continue
			}
			go a.touch(key.ID)
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), key.ID, prefix, key.Scopes)))
			return
		}
		response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Invalid API key", nil)
	})
}

func (a *Auth) touch(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.keys.UpdateOperatorKeyLastUsed(ctx, id); err != nil {
		slog.Warn("updating operator key last_used_at", "key_id", id, "error", err)
	}
}

// RequireScope rejects requests whose key lacks scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasScope(r, scope) {
				response.Error(w, http.StatusForbidden, response.CodeForbidden, "Insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// NewOperatorKey generates a raw key and the row that verifies it. The raw
// key is shown once; only its hash is stored.
func NewOperatorKey(name string, scopes []string) (string, *models.OperatorKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generating key: %w", err)
	}
	raw := keyScheme + hex.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key: %w", err)
	}
	return raw, &models.OperatorKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:keyPrefixLen],
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
	}, nil
}
