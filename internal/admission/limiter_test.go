package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/chefeye/internal/cache"
	"github.com/Additional-Code/chefeye/pkg/errorbank"
)

// brokenCounter fails every call the way an unreachable backend does.
type brokenCounter struct {
	decrCalls atomic.Int64
	failDecr  bool
	inner     cache.Counter
}

func (b *brokenCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if b.inner != nil {
		return b.inner.Incr(ctx, key, ttl)
	}
	return 0, fmt.Errorf("%w: dial tcp: connection refused", cache.ErrUnavailable)
}

func (b *brokenCounter) Decr(ctx context.Context, key string) (int64, error) {
	b.decrCalls.Add(1)
	if b.failDecr || b.inner == nil {
		return 0, fmt.Errorf("%w: dial tcp: connection refused", cache.ErrUnavailable)
	}
	return b.inner.Decr(ctx, key)
}

func (b *brokenCounter) Set(context.Context, string, int64, time.Duration) error {
	return cache.ErrUnavailable
}

func (b *brokenCounter) Get(context.Context, string) (int64, error) {
	return 0, cache.ErrUnavailable
}

func TestAdmitWithinLimit(t *testing.T) {
	ctx := context.Background()
	counter := cache.NewMemoryCounter()
	l := NewLimiter(counter, ShiftScheme{}, Limits{Day: 2, Night: 1}, 0, nil)

	ticket, err := l.Admit(ctx, at(16, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, "orders:day:2026-10-16", ticket.Key())
	assert.Equal(t, Day, ticket.Shift().Type)

	v, _ := counter.Get(ctx, "orders:day:2026-10-16")
	assert.EqualValues(t, 1, v)
}

func TestAdmitRejectionLeavesNoNetEffect(t *testing.T) {
	ctx := context.Background()
	counter := cache.NewMemoryCounter()
	l := NewLimiter(counter, FlatScheme{}, Limits{Day: 10, Night: 1}, 0, nil)
	now := at(16, 23, 0)

	_, err := l.Admit(ctx, now)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = l.Admit(ctx, now)
		require.Error(t, err)
		assert.True(t, errorbank.IsKind(err, errorbank.KindLimitExceeded))
		assert.Equal(t, []string{"Out of limit, reached maximum 1."}, errorbank.From(err).Reasons())
	}

	v, _ := counter.Get(ctx, "orders:night")
	assert.EqualValues(t, 1, v)
}

func TestAdmitZeroLimitRejectsEverything(t *testing.T) {
	ctx := context.Background()
	counter := cache.NewMemoryCounter()
	l := NewLimiter(counter, ShiftScheme{}, Limits{Day: 0, Night: 0}, 0, nil)

	_, err := l.Admit(ctx, at(16, 12, 0))
	assert.True(t, errorbank.IsKind(err, errorbank.KindLimitExceeded))

	v, _ := counter.Get(ctx, "orders:day:2026-10-16")
	assert.Zero(t, v)
}

func TestAdmitFailsClosedWhenBackendUnavailable(t *testing.T) {
	l := NewLimiter(&brokenCounter{}, ShiftScheme{}, Limits{Day: 100, Night: 100}, 0, nil)

	ticket, err := l.Admit(context.Background(), at(16, 12, 0))
	assert.Nil(t, ticket)
	require.Error(t, err)
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnavailable))
	assert.ErrorIs(t, err, cache.ErrUnavailable)
}

func TestConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	const limit, attempts = 7, 40

	run := func(t *testing.T, counter cache.Counter) {
		ctx := context.Background()
		l := NewLimiter(counter, ShiftScheme{ttl: time.Hour}, Limits{Day: limit, Night: limit}, 0, nil)
		now := at(16, 12, 0)

		var admitted, rejected atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.Admit(ctx, now); err != nil {
					assert.True(t, errorbank.IsKind(err, errorbank.KindLimitExceeded))
					rejected.Add(1)
					return
				}
				admitted.Add(1)
			}()
		}
		wg.Wait()

		assert.EqualValues(t, limit, admitted.Load())
		assert.EqualValues(t, attempts-limit, rejected.Load())

		v, err := counter.Get(ctx, "orders:day:2026-10-16")
		require.NoError(t, err)
		assert.EqualValues(t, limit, v)
	}

	t.Run("memory", func(t *testing.T) {
		run(t, cache.NewMemoryCounter())
	})
	t.Run("redis", func(t *testing.T) {
		srv := miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		run(t, cache.NewRedisCounter(client))
	})
}

func TestTicketReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	counter := cache.NewMemoryCounter()
	l := NewLimiter(counter, ShiftScheme{}, Limits{Day: 5, Night: 5}, 0, nil)

	ticket, err := l.Admit(ctx, at(16, 12, 0))
	require.NoError(t, err)

	require.NoError(t, ticket.Release(ctx))
	require.NoError(t, ticket.Release(ctx))

	v, _ := counter.Get(ctx, ticket.Key())
	assert.Zero(t, v)
}

func TestReleaseRunsAfterCallerCancellation(t *testing.T) {
	counter := cache.NewMemoryCounter()
	l := NewLimiter(counter, ShiftScheme{}, Limits{Day: 5, Night: 5}, time.Second, nil)

	ticket, err := l.Admit(context.Background(), at(16, 12, 0))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, ticket.Release(cancelled))

	v, _ := counter.Get(context.Background(), ticket.Key())
	assert.Zero(t, v)
}

func TestReleaseUsesCreationShift(t *testing.T) {
	ctx := context.Background()
	counter := cache.NewMemoryCounter()
	l := NewLimiter(counter, ShiftScheme{}, Limits{Day: 5, Night: 5}, 0, nil)

	_, err := l.Admit(ctx, at(16, 2, 0))
	require.NoError(t, err)
	_, err = l.Admit(ctx, at(16, 12, 0))
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, at(16, 2, 0)))

	night, _ := counter.Get(ctx, "orders:night:2026-10-15")
	day, _ := counter.Get(ctx, "orders:day:2026-10-16")
	assert.Zero(t, night)
	assert.EqualValues(t, 1, day)
}

func TestReleaseReportsBackendFailure(t *testing.T) {
	b := &brokenCounter{inner: cache.NewMemoryCounter(), failDecr: true}
	l := NewLimiter(b, ShiftScheme{}, Limits{Day: 5, Night: 5}, 0, nil)

	err := l.Release(context.Background(), at(16, 12, 0))
	assert.ErrorIs(t, err, cache.ErrUnavailable)
	assert.EqualValues(t, 1, b.decrCalls.Load())
}
