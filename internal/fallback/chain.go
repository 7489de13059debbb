// Package fallback composes providers, their breakers and the scene cache
// into one ordered chain that never fails: it yields fresh data, stale
// cached data flagged as degraded, or nothing.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider"
)

// Outcome tags how a Result was produced.
type Outcome string

const (
	Success  Outcome = "success"
	Degraded Outcome = "degraded"
	Empty    Outcome = "empty"
)

// SourceCache is the Result source for data served from the scene cache.
const SourceCache = "cache"

// Result is the typed outcome of one chain fetch. Data is the zero value
// when Outcome is Empty.
type Result[T any] struct {
	Data     T
	Outcome  Outcome
	Source   string
	StoredAt *time.Time
}

func (r Result[T]) IsDegraded() bool { return r.Outcome == Degraded }
func (r Result[T]) IsEmpty() bool    { return r.Outcome == Empty }

// Link is one provider step of a chain. Breaker may be nil.
type Link[Q, T any] struct {
	Name    string
	Breaker *breaker.Breaker
	Call    func(ctx context.Context, q Q) (T, error)
}

type options struct {
	readThrough bool
	logger      *slog.Logger
	observe     func(Outcome)
}

// Option configures optional Chain settings.
type Option func(*options)

// WithReadThrough serves a fresh cache entry before calling any provider.
func WithReadThrough() Option {
	return func(o *options) { o.readThrough = true }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver is called with the outcome of every Fetch.
func WithObserver(fn func(Outcome)) Option {
	return func(o *options) { o.observe = fn }
}

// Chain tries each link in order, then the cache ignoring TTL.
type Chain[Q, T any] struct {
	kind        string
	links       []Link[Q, T]
	cache       *cache.SceneCache
	fingerprint func(Q) string
	opts        options
}

// New builds a chain. kind labels log lines, e.g. "optical". sc may be nil.
func New[Q, T any](kind string, fingerprint func(Q) string, sc *cache.SceneCache, links []Link[Q, T], opts ...Option) *Chain[Q, T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Chain[Q, T]{
		kind:        kind,
		links:       links,
		cache:       sc,
		fingerprint: fingerprint,
		opts:        o,
	}
}

// Fetch runs the chain for q. It never returns an error.
func (c *Chain[Q, T]) Fetch(ctx context.Context, q Q) Result[T] {
	res := c.fetch(ctx, q)
	if c.opts.observe != nil {
		c.opts.observe(res.Outcome)
	}
	return res
}

func (c *Chain[Q, T]) fetch(ctx context.Context, q Q) Result[T] {
	fp := c.fingerprint(q)
	log := c.opts.logger.With("chain", c.kind, "fingerprint", fp)

	if c.opts.readThrough && c.cache != nil {
		var cached T
		ok, err := c.cache.Fresh(ctx, fp, &cached)
		if err != nil {
			log.Warn("cache read failed", "error", err)
		}
		if ok {
			return Result[T]{Data: cached, Outcome: Success, Source: SourceCache}
		}
	}

	for _, link := range c.links {
		var data T
		call := func(ctx context.Context) error {
			var err error
			data, err = link.Call(ctx, q)
			return err
		}

		start := time.Now()
		var err error
		if link.Breaker != nil {
			err = link.Breaker.Call(ctx, call)
		} else {
			err = call(ctx)
		}

		if err == nil {
			if c.cache != nil {
				if perr := c.cache.Put(ctx, fp, data); perr != nil {
					log.Warn("cache write failed", "provider", link.Name, "error", perr)
				}
			}
			log.Debug("provider succeeded", "provider", link.Name, "duration_ms", time.Since(start).Milliseconds())
			return Result[T]{Data: data, Outcome: Success, Source: link.Name}
		}

		if errors.Is(err, breaker.ErrCircuitOpen) {
			log.Info("circuit open; trying next source", "provider", link.Name)
		} else {
			log.Warn("provider failed; trying next source",
				"provider", link.Name,
				"permanent", provider.IsPermanent(err),
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
		}

		if ctx.Err() != nil {
			break
		}
	}

	if c.cache != nil {
		var stale T
		entry, ok, err := c.cache.Stale(ctx, fp, &stale)
		if err != nil {
			log.Warn("stale cache read failed", "error", err)
		}
		if ok {
			storedAt := entry.StoredAt
			log.Warn("all providers failed; serving stale cache", "outcome", Degraded, "stored_at", storedAt)
			return Result[T]{Data: stale, Outcome: Degraded, Source: SourceCache, StoredAt: &storedAt}
		}
	}

	log.Warn("all sources exhausted", "outcome", Empty)
	return Result[T]{Outcome: Empty}
}
