// Package breaker implements a circuit breaker whose state lives in a
// shared Store, so every worker process gates a provider the same way.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrCircuitOpen is returned without calling the provider while the breaker
// is open or while another caller holds the half-open probe.
var ErrCircuitOpen = errors.New("circuit open")

// maxSwapAttempts bounds compare-and-set retries under contention.
const maxSwapAttempts = 8

// Settings tunes one breaker.
type Settings struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	// CallTimeout bounds each provider call. Zero means no extra bound.
	CallTimeout time.Duration
}

// Breaker gates calls to one provider.
type Breaker struct {
	name     string
	store    Store
	settings Settings
	now      func() time.Time
	logger   *slog.Logger
	onReject func(provider string)
}

// Option configures optional Breaker settings.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// WithRejectHook is called every time a call is short-circuited.
func WithRejectHook(fn func(provider string)) Option {
	return func(b *Breaker) { b.onReject = fn }
}

func New(name string, store Store, settings Settings, opts ...Option) *Breaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 1
	}
	b := &Breaker{
		name:     name,
		store:    store,
		settings: settings,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// State returns the shared state for this breaker's provider.
func (b *Breaker) State(ctx context.Context) (State, error) {
	return b.store.Get(ctx, b.name)
}

type role int

const (
	roleNormal role = iota
	roleProbe
	roleUntracked
)

// Call runs fn through the breaker. It returns ErrCircuitOpen (wrapped)
// without running fn when the gate is closed to traffic. Otherwise it
// returns fn's error unchanged after recording the outcome.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	r, version, err := b.admit(ctx)
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) && b.onReject != nil {
			b.onReject(b.name)
		}
		return err
	}

	callCtx := ctx
	if b.settings.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.settings.CallTimeout)
		defer cancel()
	}

	callErr := fn(callCtx)

	// A caller that gave up says nothing about provider health.
	if callErr != nil && ctx.Err() != nil {
		return callErr
	}

	switch r {
	case roleNormal:
		b.recordNormal(ctx, callErr)
	case roleProbe:
		b.recordProbe(ctx, version, callErr)
	}
	return callErr
}

// admit decides whether a call may proceed. For a probe it also returns the
// version written when the probe was claimed.
func (b *Breaker) admit(ctx context.Context) (role, int64, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		cur, err := b.store.Get(ctx, b.name)
		if err != nil {
			b.logger.Warn("breaker state unavailable; calling provider untracked", "provider", b.name, "error", err)
			return roleUntracked, 0, nil
		}

		now := b.now()
		switch cur.Status {
		case StatusOpen:
			if cur.OpenedAt != nil && now.Sub(*cur.OpenedAt) < b.settings.RecoveryTimeout {
				return 0, 0, b.openErr()
			}
		case StatusHalfOpen:
			if cur.ProbeStartedAt != nil && now.Sub(*cur.ProbeStartedAt) < b.settings.RecoveryTimeout {
				return 0, 0, b.openErr()
			}
		default:
			return roleNormal, cur.Version, nil
		}

		// Recovery elapsed, or the previous probe never reported back.
		next := cur
		next.Status = StatusHalfOpen
		next.ProbeStartedAt = &now
		ok, err := b.store.CompareAndSet(ctx, b.name, cur, next)
		if err != nil {
			b.logger.Warn("breaker probe claim failed", "provider", b.name, "error", err)
			return 0, 0, b.openErr()
		}
		if ok {
			b.logger.Info("breaker half-open; probing provider", "provider", b.name)
			return roleProbe, cur.Version + 1, nil
		}
	}
	return 0, 0, b.openErr()
}

func (b *Breaker) recordNormal(ctx context.Context, callErr error) {
	permanent := isPermanent(callErr)
	if callErr != nil && permanent {
		return
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		cur, err := b.store.Get(ctx, b.name)
		if err != nil {
			b.logger.Warn("breaker state unavailable; outcome not recorded", "provider", b.name, "error", err)
			return
		}
		if cur.Status != StatusClosed {
			return
		}

		next := cur
		if callErr == nil {
			if cur.ConsecutiveFailures == 0 {
				return
			}
			next.ConsecutiveFailures = 0
		} else {
			next.ConsecutiveFailures = cur.ConsecutiveFailures + 1
			if next.ConsecutiveFailures >= b.settings.FailureThreshold {
				now := b.now()
				next.Status = StatusOpen
				next.OpenedAt = &now
				next.ProbeStartedAt = nil
			}
		}

		ok, err := b.store.CompareAndSet(ctx, b.name, cur, next)
		if err != nil {
			b.logger.Warn("breaker update failed", "provider", b.name, "error", err)
			return
		}
		if ok {
			if next.Status == StatusOpen {
				b.logger.Warn("breaker opened",
					"provider", b.name,
					"consecutive_failures", next.ConsecutiveFailures,
					"error", callErr,
				)
			}
			return
		}
	}
}

// recordProbe settles the half-open probe. Only the caller holding the
// probe version may move the breaker out of HALF_OPEN.
func (b *Breaker) recordProbe(ctx context.Context, version int64, callErr error) {
	cur, err := b.store.Get(ctx, b.name)
	if err != nil {
		b.logger.Warn("breaker state unavailable; probe not recorded", "provider", b.name, "error", err)
		return
	}
	if cur.Status != StatusHalfOpen || cur.Version != version {
		return
	}

	next := cur
	next.ProbeStartedAt = nil
	if callErr == nil || isPermanent(callErr) {
		next.Status = StatusClosed
		next.ConsecutiveFailures = 0
		next.OpenedAt = nil
	} else {
		now := b.now()
		next.Status = StatusOpen
		next.OpenedAt = &now
	}

	ok, err := b.store.CompareAndSet(ctx, b.name, cur, next)
	if err != nil {
		b.logger.Warn("breaker probe update failed", "provider", b.name, "error", err)
		return
	}
	if ok {
		b.logger.Info("breaker probe settled", "provider", b.name, "state", next.Status, "error", callErr)
	}
}

func (b *Breaker) openErr() error {
	return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
}

func isPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// Snapshot reads the shared state of every named provider.
func Snapshot(ctx context.Context, store Store, providers []string) ([]State, error) {
	out := make([]State, 0, len(providers))
	for _, p := range providers {
		st, err := store.Get(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("reading breaker %s: %w", p, err)
		}
		out = append(out, st)
	}
	return out, nil
}
