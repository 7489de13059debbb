package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is a stored provider result.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
	StoredAt    time.Time       `json:"stored_at"`
	TTL         time.Duration   `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// SceneCache stores provider results by fingerprint. Entries outlive their
// TTL by the stale retention window so they can still be served degraded.
type SceneCache struct {
	cache          Cache
	ttl            time.Duration
	staleRetention time.Duration
	now            func() time.Time
}

// SceneOption configures optional SceneCache settings.
type SceneOption func(*SceneCache)

// WithSceneClock replaces time.Now.
func WithSceneClock(now func() time.Time) SceneOption {
	return func(s *SceneCache) { s.now = now }
}

func NewSceneCache(c Cache, ttl, staleRetention time.Duration, opts ...SceneOption) *SceneCache {
	s := &SceneCache{cache: c, ttl: ttl, staleRetention: staleRetention, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores v under fingerprint.
func (s *SceneCache) Put(ctx context.Context, fingerprint string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache payload: %w", err)
	}
	entry := Entry{
		Fingerprint: fingerprint,
		Payload:     payload,
		StoredAt:    s.now().UTC(),
		TTL:         s.ttl,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	return s.cache.Set(ctx, SceneKey(fingerprint), raw, s.ttl+s.staleRetention)
}

// Fresh decodes the entry into dst only when it is within its TTL.
func (s *SceneCache) Fresh(ctx context.Context, fingerprint string, dst any) (bool, error) {
	entry, ok, err := s.lookup(ctx, fingerprint)
	if err != nil || !ok || !entry.Fresh(s.now()) {
		return false, err
	}
	if err := json.Unmarshal(entry.Payload, dst); err != nil {
		return false, fmt.Errorf("decoding cache payload: %w", err)
	}
	return true, nil
}

// Stale decodes the entry into dst regardless of TTL, returning its metadata.
func (s *SceneCache) Stale(ctx context.Context, fingerprint string, dst any) (Entry, bool, error) {
	entry, ok, err := s.lookup(ctx, fingerprint)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	if err := json.Unmarshal(entry.Payload, dst); err != nil {
		return Entry{}, false, fmt.Errorf("decoding cache payload: %w", err)
	}
	return entry, true, nil
}

func (s *SceneCache) lookup(ctx context.Context, fingerprint string) (Entry, bool, error) {
	raw, found, err := s.cache.Get(ctx, SceneKey(fingerprint))
	if err != nil || !found {
		return Entry{}, false, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	return entry, true, nil
}
