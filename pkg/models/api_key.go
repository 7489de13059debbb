package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ScopeRead    = "read"
	ScopeOperate = "operate"
	ScopeAdmin   = "admin"
)

// OperatorKey authenticates operators against the admin API and CLI.
// Raw keys are shown once at creation; only the bcrypt hash is stored.
type OperatorKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
}

// ValidScope reports whether s names a known scope.
func ValidScope(s string) bool {
	return s == ScopeRead || s == ScopeOperate || s == ScopeAdmin
}
