package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	mw "github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/middleware"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/response"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

type createKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type createKeyResponse struct {
	*models.OperatorKey
	Key string `json:"key"`
}

// NewCreateKeyHandler serves POST /api/v1/admin/keys. The raw key appears
// only in this response.
func NewCreateKeyHandler(s store.OperatorKeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "Request body must be valid JSON", nil)
			return
		}
		var problems []string
		if strings.TrimSpace(req.Name) == "" {
			problems = append(problems, "name is required")
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{models.ScopeRead}
		}
		for _, sc := range req.Scopes {
			if !models.ValidScope(sc) {
				problems = append(problems, "unknown scope "+sc)
			}
		}
		if len(problems) > 0 {
			response.BadRequest(w, "Invalid key request", problems)
			return
		}

		raw, key, err := mw.NewOperatorKey(req.Name, req.Scopes)
		if err != nil {
			slog.Error("generating operator key", "error", err)
			response.Internal(w)
			return
		}
		if err := s.CreateOperatorKey(r.Context(), key); err != nil {
			slog.Error("storing operator key", "error", err)
			response.Internal(w)
			return
		}
		actor, _ := mw.OperatorID(r)
		slog.Info("operator key created", "key_id", key.ID, "name", key.Name, "created_by", actor)
		w.Header().Set("Cache-Control", "no-store")
		response.Created(w, createKeyResponse{OperatorKey: key, Key: raw})
	}
}

// NewListKeysHandler serves GET /api/v1/admin/keys.
func NewListKeysHandler(s store.OperatorKeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.ListOperatorKeys(r.Context())
		if err != nil {
			slog.Error("listing operator keys", "error", err)
			response.Internal(w)
			return
		}
		if keys == nil {
			keys = []*models.OperatorKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler serves DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(s store.OperatorKeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "keyID")
		if !ok {
			return
		}
		err := s.RevokeOperatorKey(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.NotFound(w, "Key")
		case err != nil:
			slog.Error("revoking operator key", "key_id", id, "error", err)
			response.Internal(w)
		default:
			actor, _ := mw.OperatorID(r)
			slog.Info("operator key revoked", "key_id", id, "revoked_by", actor)
			w.WriteHeader(http.StatusNoContent)
		}
	}
}
