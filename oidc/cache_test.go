// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream unavailable")

// testSource is a MetadataSource whose answers are tagged with a
// generation, so a snapshot can be checked for mixing two refreshes.
type testSource struct {
	release chan struct{}

	keyCalls      atomic.Int32
	endpointCalls atomic.Int32

	mu       sync.Mutex
	gen      int
	failKeys int
}

func newTestSource(blocked bool) *testSource {
	s := &testSource{gen: 1}
	if blocked {
		s.release = make(chan struct{})
	}
	return s
}

func (s *testSource) wait(ctx context.Context) error {
	if s.release == nil {
		return nil
	}
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *testSource) setGen(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen = n
}

func (s *testSource) ProviderKeys(ctx context.Context) (*KeySet, error) {
	s.keyCalls.Add(1)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKeys > 0 {
		s.failKeys--
		return nil, errUpstream
	}
	return NewKeySet(&KeyHandle{KeyID: fmt.Sprintf("gen-%d", s.gen), Use: UseSignature}), nil
}

func (s *testSource) EndpointConfig(ctx context.Context) (*EndpointConfig, error) {
	s.endpointCalls.Add(1)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &EndpointConfig{
		Issuer:   fmt.Sprintf("gen-%d", s.gen),
		AuthURL:  "https://idp.example.com/authorize",
		TokenURL: "https://idp.example.com/token",
	}, nil
}

func testCache(t *testing.T, src MetadataSource, opt ...Option) *Cache {
	t.Helper()
	c, err := NewCache(src, opt...)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func TestNewCache(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		src     MetadataSource
		opt     []Option
		wantErr error
	}{
		{name: "nil source", wantErr: ErrNilParameter},
		{name: "zero cold start timeout", src: newTestSource(false), opt: []Option{WithColdStartTimeout(0)}, wantErr: ErrInvalidParameter},
		{name: "zero sweep interval", src: newTestSource(false), opt: []Option{WithSweepInterval(0)}, wantErr: ErrInvalidParameter},
		{name: "negative ttl", src: newTestSource(false), opt: []Option{WithExpiryTTL(-time.Second)}, wantErr: ErrInvalidParameter},
		{name: "zero retry interval", src: newTestSource(false), opt: []Option{WithRetryInterval(0)}, wantErr: ErrInvalidParameter},
		{name: "zero bounded deadline", src: newTestSource(false), opt: []Option{WithBoundedDeadline(0)}, wantErr: ErrInvalidParameter},
		{name: "negative bounded deadline", src: newTestSource(false), opt: []Option{WithBoundedDeadline(-time.Second)}, wantErr: ErrInvalidParameter},
		{name: "valid", src: newTestSource(false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewCache(tt.src, tt.opt...)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				assert.Nil(c)
				return
			}
			require.NoError(err)
			c.Stop()
		})
	}
}

func Test_getCacheOpts(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	opts := getCacheOpts(
		WithColdStartTimeout(time.Second),
		WithSweepInterval(2*time.Second),
		WithExpiryTTL(3*time.Second),
		WithRetryInterval(4*time.Second),
		WithBoundedDeadline(5*time.Second),
	)
	testOpts := cacheDefaults()
	testOpts.withColdStartTimeout = time.Second
	testOpts.withSweepInterval = 2 * time.Second
	testOpts.withExpiryTTL = 3 * time.Second
	testOpts.withRetryInterval = 4 * time.Second
	testOpts.withBoundedDeadline = 5 * time.Second
	assert.Equal(testOpts, opts)

	d := cacheDefaults()
	assert.Equal(10*time.Second, d.withColdStartTimeout)
	assert.Equal(60*time.Second, d.withSweepInterval)
	assert.Equal(time.Hour, d.withExpiryTTL)
	assert.Equal(10*time.Second, d.withRetryInterval)
	assert.Equal(3*time.Second, d.withBoundedDeadline)
}

func TestCache_coldRead(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	src := newTestSource(false)
	c := testCache(t, src)

	keys, err := c.ProviderKeys(context.Background())
	require.NoError(err)
	assert.Equal(1, keys.Len())
	ep, err := c.EndpointConfig(context.Background())
	require.NoError(err)
	assert.Equal("gen-1", ep.Issuer)

	assert.Equal(int32(1), src.keyCalls.Load())
	assert.Equal(int32(1), src.endpointCalls.Load())
}

func TestCache_singleFlight(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	src := newTestSource(true)
	c := testCache(t, src)

	// the constructor's refresh is still blocked, so these all join it
	const n = 10
	results := make([]<-chan RefreshResult, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, c.Refresh())
	}
	close(src.release)

	var first *Snapshot
	for _, ch := range results {
		r := <-ch
		require.NoError(r.Err)
		require.NotNil(r.Snapshot)
		if first == nil {
			first = r.Snapshot
		}
		assert.Same(first, r.Snapshot)
		assert.True(r.Shared)
	}
	assert.Equal(int32(1), src.keyCalls.Load())
	assert.Equal(int32(1), src.endpointCalls.Load())

	// the flight is cleared once settled, so the next refresh fetches again
	r := <-c.Refresh()
	require.NoError(r.Err)
	assert.NotSame(first, r.Snapshot)
	assert.Equal(int32(2), src.keyCalls.Load())
	assert.Equal(int32(2), src.endpointCalls.Load())
}

func TestCache_coldStartTimeout(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	src := newTestSource(true)
	c := testCache(t, src, WithColdStartTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := c.ProviderKeys(context.Background())
	require.Error(err)
	assert.ErrorIs(err, ErrColdStartTimeout)
	assert.Less(time.Since(start), time.Second)
	assert.Equal(float64(1), testutil.ToFloat64(c.metrics.coldStartTimeouts))

	// the refresh keeps running and populates the cache once it completes
	close(src.release)
	assert.Eventually(func() bool {
		_, ok := c.cached()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(int32(1), src.keyCalls.Load())

	keys, err := c.ProviderKeys(context.Background())
	require.NoError(err)
	assert.Equal(1, keys.Len())
}

func TestCache_readerContext(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	src := newTestSource(true)
	c := testCache(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.EndpointConfig(ctx)
	assert.ErrorIs(err, context.Canceled)
}

func TestCache_slotTTLs(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c := testCache(t, newTestSource(false))
	r := <-c.Refresh()
	require.NoError(r.Err)

	for _, slot := range []string{providerKeysSlot, baseEndpointConfigSlot} {
		_, exp, ok := c.store.GetWithExpiration(slot)
		require.True(ok, slot)
		assert.True(exp.IsZero(), "%s must not expire", slot)
	}
	_, exp, ok := c.store.GetWithExpiration(expiryMarkerSlot)
	require.True(ok)
	assert.WithinDuration(r.Snapshot.RefreshedAt.Add(time.Hour), exp, 100*time.Millisecond)
}

func TestCache_refreshAhead(t *testing.T) {
	t.Parallel()

	t.Run("marker expiry", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		src := newTestSource(false)
		c := testCache(t, src, WithExpiryTTL(50*time.Millisecond), WithSweepInterval(time.Hour))
		r := <-c.Refresh()
		require.NoError(r.Err)
		calls := src.keyCalls.Load()

		assert.False(c.refreshIfExpired())
		time.Sleep(60 * time.Millisecond)
		assert.True(c.refreshIfExpired())
		assert.Eventually(func() bool {
			return src.keyCalls.Load() == calls+1
		}, time.Second, 5*time.Millisecond)

		// data slots survive the marker
		_, ok := c.cached()
		assert.True(ok)
	})

	t.Run("sweeper", func(t *testing.T) {
		assert := assert.New(t)
		src := newTestSource(false)
		_ = testCache(t, src, WithExpiryTTL(20*time.Millisecond), WithSweepInterval(10*time.Millisecond))
		assert.Eventually(func() bool {
			return src.keyCalls.Load() >= 3
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestCache_retriesUntilAvailable(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	src := newTestSource(false)
	src.failKeys = 5
	reg := prometheus.NewRegistry()
	c := testCache(t, src, WithRetryInterval(5*time.Millisecond), WithRegisterer(reg))

	keys, err := c.ProviderKeys(context.Background())
	require.NoError(err)
	assert.Equal(1, keys.Len())
	// two rounds of three bounded attempts
	assert.Equal(int32(6), src.keyCalls.Load())

	assert.Equal(float64(5), testutil.ToFloat64(c.metrics.fetchTotal.WithLabelValues("provider_keys", resultFailure)))
	assert.Equal(float64(1), testutil.ToFloat64(c.metrics.fetchTotal.WithLabelValues("provider_keys", resultSuccess)))
	assert.Equal(float64(1), testutil.ToFloat64(c.metrics.refreshTotal.WithLabelValues(resultSuccess)))
	n, err := testutil.GatherAndCount(reg, "ndi_oidc_cache_refresh_total")
	require.NoError(err)
	assert.Equal(1, n)
}

func TestCache_snapshotIsConsistent(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	src := newTestSource(false)
	c := testCache(t, src)
	r := <-c.Refresh()
	require.NoError(r.Err)

	stop := make(chan struct{})
	var mismatches atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s, err := c.Snapshot(context.Background())
				if err != nil || s.Keys.Keys()[0].KeyID != s.Endpoints.Issuer {
					mismatches.Add(1)
				}
			}
		}()
	}
	for gen := 2; gen < 50; gen++ {
		src.setGen(gen)
		r := <-c.Refresh()
		require.NoError(r.Err)
	}
	close(stop)
	wg.Wait()
	require.Equal(int32(0), mismatches.Load())
}

func TestCache_Stop(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	src := newTestSource(true)
	c, err := NewCache(src)
	require.NoError(err)

	pending := c.Refresh()
	c.Stop()
	c.Stop()

	select {
	case <-c.Done():
	default:
		assert.Fail("Done should be closed")
	}
	r := <-pending
	assert.Error(r.Err)
	assert.ErrorIs(r.Err, context.Canceled)

	r = <-c.Refresh()
	assert.ErrorIs(r.Err, ErrCacheStopped)
	_, err = c.ProviderKeys(context.Background())
	assert.ErrorIs(err, ErrCacheStopped)
}
