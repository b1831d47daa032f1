package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Additional-Code/chefeye/internal/cache"
	"github.com/Additional-Code/chefeye/internal/entity"
	"github.com/Additional-Code/chefeye/internal/messaging"
	repo "github.com/Additional-Code/chefeye/internal/repository/order"
)

type fakeRepo struct {
	mu       sync.Mutex
	menu     map[uuid.UUID]decimal.Decimal
	orders   map[uuid.UUID]*entity.Order
	getCalls int

	insertErr error
	onInsert  func(ctx context.Context) error
	// afterGet runs once GetByID has read the row and released the lock.
	afterGet func()
}

func newFakeRepo(menu map[uuid.UUID]decimal.Decimal) *fakeRepo {
	return &fakeRepo{menu: menu, orders: make(map[uuid.UUID]*entity.Order)}
}

func (f *fakeRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repo.Tx) error) error {
	tx := &fakeTx{repo: f}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range tx.pending {
		f.orders[o.ID] = o
	}
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Order, error) {
	f.mu.Lock()
	f.getCalls++
	o, ok := f.orders[id]
	var cp entity.Order
	if ok {
		cp = *o
	}
	hook := f.afterGet
	f.mu.Unlock()

	if !ok {
		return nil, repo.ErrNotFound
	}
	if hook != nil {
		hook()
	}
	return &cp, nil
}

func (f *fakeRepo) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func (f *fakeRepo) FindForCustomer(_ context.Context, id uuid.UUID, customerID string) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.CustomerID != customerID {
		return nil, repo.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeRepo) TransitionStatus(_ context.Context, id uuid.UUID, from, to entity.OrderStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeTx struct {
	repo    *fakeRepo
	pending []*entity.Order
}

func (t *fakeTx) MenuItemPrices(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal)
	for _, id := range ids {
		if p, ok := t.repo.menu[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *fakeTx) InsertOrder(ctx context.Context, order *entity.Order) error {
	if t.repo.onInsert != nil {
		if err := t.repo.onInsert(ctx); err != nil {
			return err
		}
	}
	if t.repo.insertErr != nil {
		return t.repo.insertErr
	}
	cp := *order
	t.pending = append(t.pending, &cp)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, _ []byte, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, value)
	return nil
}

func (p *fakePublisher) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePublisher) Topic() string { return "chefeye.orders" }

type mapStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMapStore() *mapStore { return &mapStore{values: make(map[string][]byte)} }

func (m *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *mapStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

func (m *mapStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// flakyCounter delegates to a memory counter and can fail selected operations.
type flakyCounter struct {
	*cache.MemoryCounter
	failIncr bool
	failDecr atomic.Bool
}

func (c *flakyCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c.failIncr {
		return 0, fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
	}
	return c.MemoryCounter.Incr(ctx, key, ttl)
}

func (c *flakyCounter) Decr(ctx context.Context, key string) (int64, error) {
	if c.failDecr.Load() {
		return 0, fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
	}
	return c.MemoryCounter.Decr(ctx, key)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var errDiskFull = errors.New("disk full")
