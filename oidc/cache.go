// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultColdStartTimeout = 10 * time.Second
	DefaultSweepInterval    = 60 * time.Second
	DefaultExpiryTTL        = time.Hour
)

// cache slots
const (
	providerKeysSlot       = "providerKeys"
	baseEndpointConfigSlot = "baseEndpointConfig"
	expiryMarkerSlot       = "expiryMarker"

	refreshKey = "refresh"
)

// Snapshot is a consistent view of the cached provider metadata: the keys and
// endpoint config always come from the same refresh.
type Snapshot struct {
	Keys        *KeySet
	Endpoints   *EndpointConfig
	RefreshedAt time.Time
}

// RefreshResult is the outcome of a refresh.
type RefreshResult struct {
	Snapshot *Snapshot
	Err      error
	// Shared is true when the result was delivered to more than one caller.
	Shared bool
}

// Cache holds the provider's keys and endpoint config and refreshes them
// ahead of expiry. Concurrent refreshes collapse into one.
type Cache struct {
	source  MetadataSource
	store   *gocache.Cache
	mu      sync.RWMutex
	flight  singleflight.Group
	logger  hclog.Logger
	metrics *metrics

	coldStartTimeout time.Duration
	sweepInterval    time.Duration
	expiryTTL        time.Duration
	retryInterval    time.Duration
	boundedDeadline  time.Duration

	// backgroundCtx bounds the sweeper and every refresh. It's cancelled by
	// Stop.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
	stopOnce            sync.Once
	wg                  sync.WaitGroup
}

// NewCache creates a cache for the source, starts its sweeper and triggers
// the first refresh. Callers must call Stop when done with the cache.
//
// Supported options:
//   - WithLogger
//   - WithRegisterer
//   - WithColdStartTimeout
//   - WithSweepInterval
//   - WithExpiryTTL
//   - WithRetryInterval
//   - WithBoundedDeadline
func NewCache(source MetadataSource, opt ...Option) (*Cache, error) {
	const op = "NewCache"
	if source == nil {
		return nil, fmt.Errorf("%s: metadata source is nil: %w", op, ErrNilParameter)
	}
	opts := getCacheOpts(opt...)
	switch {
	case opts.withColdStartTimeout <= 0:
		return nil, fmt.Errorf("%s: cold start timeout must be positive: %w", op, ErrInvalidParameter)
	case opts.withSweepInterval <= 0:
		return nil, fmt.Errorf("%s: sweep interval must be positive: %w", op, ErrInvalidParameter)
	case opts.withExpiryTTL <= 0:
		return nil, fmt.Errorf("%s: expiry ttl must be positive: %w", op, ErrInvalidParameter)
	case opts.withRetryInterval <= 0:
		return nil, fmt.Errorf("%s: retry interval must be positive: %w", op, ErrInvalidParameter)
	case opts.withBoundedDeadline <= 0:
		return nil, fmt.Errorf("%s: bounded deadline must be positive: %w", op, ErrInvalidParameter)
	}
	m := opts.withMetrics
	if m == nil {
		var err error
		if m, err = newMetrics("", opts.withRegisterer); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		source: source,
		// no janitor: expiry of the marker is observed by the sweeper
		store:               gocache.New(gocache.NoExpiration, 0),
		logger:              logger.Named("cache"),
		metrics:             m,
		coldStartTimeout:    opts.withColdStartTimeout,
		sweepInterval:       opts.withSweepInterval,
		expiryTTL:           opts.withExpiryTTL,
		retryInterval:       opts.withRetryInterval,
		boundedDeadline:     opts.withBoundedDeadline,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	c.wg.Add(1)
	go c.sweep()
	c.Refresh()
	return c, nil
}

// Stop cancels any in-flight refresh and stops the sweeper. It's safe to call
// more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		c.backgroundCtxCancel()
	})
	c.wg.Wait()
}

// Done returns a channel that's closed when the cache is stopped.
func (c *Cache) Done() <-chan struct{} {
	return c.backgroundCtx.Done()
}

// Refresh starts a refresh unless one is already in flight, and returns a
// channel that receives the outcome of the in-flight refresh. Abandoning the
// channel does not cancel the refresh.
func (c *Cache) Refresh() <-chan RefreshResult {
	const op = "Cache.Refresh"
	out := make(chan RefreshResult, 1)
	if c.backgroundCtx.Err() != nil {
		out <- RefreshResult{Err: fmt.Errorf("%s: %w", op, ErrCacheStopped)}
		return out
	}
	ch := c.flight.DoChan(refreshKey, c.refresh)
	go func() {
		r := <-ch
		s, _ := r.Val.(*Snapshot)
		out <- RefreshResult{Snapshot: s, Err: r.Err, Shared: r.Shared}
	}()
	return out
}

// Snapshot returns the cached keys and endpoint config. On a cold cache it
// waits for the in-flight refresh for at most the cold start timeout.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	const op = "Cache.Snapshot"
	if s, ok := c.cached(); ok {
		return s, nil
	}
	timer := time.NewTimer(c.coldStartTimeout)
	defer timer.Stop()
	select {
	case r := <-c.Refresh():
		if r.Err != nil {
			return nil, fmt.Errorf("%s: %w", op, r.Err)
		}
		return r.Snapshot, nil
	case <-timer.C:
		c.metrics.coldStartTimeouts.Inc()
		c.logger.Warn("timed out waiting for provider metadata", "timeout", c.coldStartTimeout)
		return nil, fmt.Errorf("%s: %w", op, ErrColdStartTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// ProviderKeys returns the provider's public keys.
func (c *Cache) ProviderKeys(ctx context.Context) (*KeySet, error) {
	const op = "Cache.ProviderKeys"
	s, err := c.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.Keys, nil
}

// EndpointConfig returns the provider's endpoint config.
func (c *Cache) EndpointConfig(ctx context.Context) (*EndpointConfig, error) {
	const op = "Cache.EndpointConfig"
	s, err := c.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.Endpoints, nil
}

func (c *Cache) cached() (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.store.Get(providerKeysSlot)
	if !ok {
		return nil, false
	}
	e, ok := c.store.Get(baseEndpointConfigSlot)
	if !ok {
		return nil, false
	}
	s := &Snapshot{Keys: k.(*KeySet), Endpoints: e.(*EndpointConfig)}
	if at, _, ok := c.store.GetWithExpiration(expiryMarkerSlot); ok {
		s.RefreshedAt = at.(time.Time)
	}
	return s, true
}

func (c *Cache) replace(s *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Set(providerKeysSlot, s.Keys, gocache.NoExpiration)
	c.store.Set(baseEndpointConfigSlot, s.Endpoints, gocache.NoExpiration)
	c.store.Set(expiryMarkerSlot, s.RefreshedAt, c.expiryTTL)
}

// refresh runs inside the single flight. It only fails when the cache is
// stopped.
func (c *Cache) refresh() (interface{}, error) {
	const op = "Cache.refresh"
	s, err := Retry(c.backgroundCtx, UnboundedFixedInterval(c.retryInterval), c.logger, c.fetch)
	c.metrics.refreshTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		c.logger.Error("provider metadata refresh abandoned", "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.replace(s)
	c.logger.Debug("provider metadata refreshed", "keys", s.Keys.Len(), "issuer", s.Endpoints.Issuer)
	return s, nil
}

// fetch gets the keys and endpoint config concurrently, each under the
// bounded policy.
func (c *Cache) fetch(ctx context.Context) (*Snapshot, error) {
	const op = "Cache.fetch"
	var (
		keys      *KeySet
		endpoints *EndpointConfig
	)
	policy := BoundedThreeAttempts(c.boundedDeadline)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keys, err = Retry(gctx, policy, c.logger, counted(c.metrics, "provider_keys", c.source.ProviderKeys))
		return err
	})
	g.Go(func() error {
		var err error
		endpoints, err = Retry(gctx, policy, c.logger, counted(c.metrics, "endpoint_config", c.source.EndpointConfig))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Snapshot{Keys: keys, Endpoints: endpoints, RefreshedAt: time.Now()}, nil
}

func (c *Cache) sweep() {
	defer c.wg.Done()
	t := time.NewTicker(c.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-c.backgroundCtx.Done():
			return
		case <-t.C:
			c.refreshIfExpired()
		}
	}
}

// refreshIfExpired triggers a refresh when the expiry marker is gone and
// reports whether it did.
func (c *Cache) refreshIfExpired() bool {
	c.store.DeleteExpired()
	if _, ok := c.store.Get(expiryMarkerSlot); ok {
		return false
	}
	c.logger.Debug("expiry marker elapsed, refreshing")
	c.Refresh()
	return true
}

func counted[T any](m *metrics, call string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		m.fetchTotal.WithLabelValues(call, resultLabel(err)).Inc()
		return v, err
	}
}

// cacheOptions is the set of available options for a Cache.
type cacheOptions struct {
	withLogger           hclog.Logger
	withRegisterer       prometheus.Registerer
	withMetrics          *metrics
	withColdStartTimeout time.Duration
	withSweepInterval    time.Duration
	withExpiryTTL        time.Duration
	withRetryInterval    time.Duration
	withBoundedDeadline  time.Duration
}

func cacheDefaults() cacheOptions {
	return cacheOptions{
		withColdStartTimeout: DefaultColdStartTimeout,
		withSweepInterval:    DefaultSweepInterval,
		withExpiryTTL:        DefaultExpiryTTL,
		withRetryInterval:    DefaultRetryInterval,
		withBoundedDeadline:  DefaultBoundedDeadline,
	}
}

func getCacheOpts(opt ...Option) cacheOptions {
	opts := cacheDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithColdStartTimeout provides an optional limit on how long a read of an
// empty cache waits for the first refresh.
func WithColdStartTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withColdStartTimeout = d
		}
	}
}

// WithSweepInterval provides an optional interval at which the cache checks
// its expiry marker.
func WithSweepInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withSweepInterval = d
		}
	}
}

// WithExpiryTTL provides an optional ttl for the expiry marker, after which
// the metadata is refreshed.
func WithExpiryTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withExpiryTTL = d
		}
	}
}

// WithRetryInterval provides an optional delay between failed refresh
// attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withRetryInterval = d
		}
	}
}

// WithBoundedDeadline provides an optional overall deadline for the three
// attempts of a single metadata fetch.
func WithBoundedDeadline(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withBoundedDeadline = d
		}
	}
}

func withCacheMetrics(m *metrics) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withMetrics = m
		}
	}
}
