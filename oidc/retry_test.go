// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_bounded(t *testing.T) {
	t.Parallel()
	errFail := errors.New("upstream failed")

	tests := []struct {
		name         string
		failures     int
		wantCalls    int32
		wantErr      bool
		wantLastFail string
	}{
		{name: "first attempt", failures: 0, wantCalls: 1},
		{name: "two failures then success", failures: 2, wantCalls: 3},
		{name: "three failures", failures: 3, wantCalls: 3, wantErr: true, wantLastFail: "attempt 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			var calls atomic.Int32
			got, err := Retry(context.Background(), BoundedThreeAttempts(DefaultBoundedDeadline), nil, func(context.Context) (string, error) {
				n := calls.Add(1)
				if int(n) <= tt.failures {
					return "", fmt.Errorf("attempt %d: %w", n, errFail)
				}
				return "ok", nil
			})
			assert.Equal(tt.wantCalls, calls.Load())
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, errFail)
				assert.Contains(err.Error(), tt.wantLastFail)
				assert.Empty(got)
				return
			}
			require.NoError(err)
			assert.Equal("ok", got)
		})
	}
}

func TestRetry_boundedDeadline(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	errSlow := errors.New("slow upstream")
	var calls atomic.Int32
	start := time.Now()
	_, err := Retry(context.Background(), BoundedThreeAttempts(50*time.Millisecond), nil, func(ctx context.Context) (int, error) {
		calls.Add(1)
		select {
		case <-ctx.Done():
			return 0, errSlow
		case <-time.After(time.Second):
			return 1, nil
		}
	})
	assert.Less(time.Since(start), 500*time.Millisecond)
	assert.ErrorIs(err, errSlow)
	assert.ErrorIs(err, context.DeadlineExceeded)
	assert.LessOrEqual(calls.Load(), int32(3))
}

func TestRetry_unbounded(t *testing.T) {
	t.Parallel()

	t.Run("retries until success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var calls atomic.Int32
		got, err := Retry(context.Background(), UnboundedFixedInterval(time.Millisecond), nil, func(context.Context) (int32, error) {
			n := calls.Add(1)
			if n < 10 {
				return 0, errors.New("not yet")
			}
			return n, nil
		})
		require.NoError(err)
		assert.Equal(int32(10), got)
	})

	t.Run("waits the interval", func(t *testing.T) {
		assert := assert.New(t)
		var calls atomic.Int32
		start := time.Now()
		_, _ = Retry(context.Background(), UnboundedFixedInterval(40*time.Millisecond), nil, func(context.Context) (bool, error) {
			if calls.Add(1) < 3 {
				return false, errors.New("not yet")
			}
			return true, nil
		})
		assert.GreaterOrEqual(time.Since(start), 80*time.Millisecond)
	})

	t.Run("stops with the context", func(t *testing.T) {
		assert := assert.New(t)
		errFail := errors.New("always failing")
		ctx, cancel := context.WithCancel(context.Background())
		var calls atomic.Int32
		go func() {
			for calls.Load() < 5 {
				time.Sleep(time.Millisecond)
			}
			cancel()
		}()
		_, err := Retry(ctx, UnboundedFixedInterval(time.Millisecond), nil, func(context.Context) (int, error) {
			calls.Add(1)
			return 0, errFail
		})
		assert.ErrorIs(err, errFail)
		assert.ErrorIs(err, context.Canceled)
		assert.GreaterOrEqual(calls.Load(), int32(5))
	})
}
