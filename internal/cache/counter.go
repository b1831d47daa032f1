package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrUnavailable wraps every failure to reach the counter backend.
var ErrUnavailable = errors.New("counter backend unavailable")

// Counter is an atomically incrementable integer keyed by string.
// Incr and Decr must be single atomic operations on the backend.
type Counter interface {
	// Incr adds one and returns the new value. A positive ttl (re)arms the key expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decr subtracts one and returns the new value. A missing key, for example
	// one whose ttl ran out, is left absent and reads as zero.
	Decr(ctx context.Context, key string) (int64, error)
	// Set overwrites the value unconditionally.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	// Get returns the current value; a missing key reads as zero.
	Get(ctx context.Context, key string) (int64, error)
}

// NewCounter returns a redis counter, or a process-local one when redis is disabled.
func NewCounter(b *Backend, logger *zap.Logger) Counter {
	if b == nil || b.Client == nil {
		if logger != nil {
			logger.Warn("redis disabled; admission counters are process-local")
		}
		return NewMemoryCounter()
	}
	return NewRedisCounter(b.Client)
}

// decrExisting never recreates an expired key, so a late release cannot leave
// a negative counter without a ttl behind.
var decrExisting = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
return redis.call("DECR", KEYS[1])
`)

type redisCounter struct {
	client *goredis.Client
}

// NewRedisCounter builds a Counter over INCR/SET and a guarded DECR script.
func NewRedisCounter(client *goredis.Client) Counter {
	return &redisCounter{client: client}
}

func (c *redisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		v, err := c.client.Incr(ctx, key).Result()
		if err != nil {
			return 0, unavailable("incr", key, err)
		}
		return v, nil
	}

	var incr *goredis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, unavailable("incr", key, err)
	}
	return incr.Val(), nil
}

func (c *redisCounter) Decr(ctx context.Context, key string) (int64, error) {
	v, err := decrExisting.Run(ctx, c.client, []string{key}).Int64()
	if err != nil {
		return 0, unavailable("decr", key, err)
	}
	return v, nil
}

func (c *redisCounter) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (c *redisCounter) Get(ctx context.Context, key string) (int64, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get", key, err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s holds non-integer value %q: %w", key, raw, err)
	}
	return v, nil
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, key, err)
}

// MemoryCounter is a mutex-guarded in-process Counter. Expiry is not tracked.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: make(map[string]int64)}
}

func (c *MemoryCounter) Incr(ctx context.Context, key string, _ time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key]++
	return c.values[key], nil
}

func (c *MemoryCounter) Decr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return 0, nil
	}
	v--
	c.values[key] = v
	return v, nil
}

func (c *MemoryCounter) Set(ctx context.Context, key string, value int64, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *MemoryCounter) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}
