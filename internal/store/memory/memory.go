package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/store"
)

// Op names a remote call that can be made to fail.
type Op string

const (
	OpTransaction     Op = "transaction"
	OpAggregateExists Op = "aggregate_exists"
	OpCreateAggregate Op = "create_aggregate"
	OpIncrement       Op = "increment"
	OpPutOrder        Op = "put_order"
	OpPing            Op = "ping"
)

type Store struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	counters   map[string]domain.ShopCounter
	aggregates map[string]domain.DailyAggregate
	orders     map[string]domain.Order
	failures   map[Op]error
	calls      map[Op]int
	now        func() time.Time
}

func New() *Store {
	return &Store{
		counters:   map[string]domain.ShopCounter{},
		aggregates: map[string]domain.DailyAggregate{},
		orders:     map[string]domain.Order{},
		failures:   map[Op]error{},
		calls:      map[Op]int{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SeedCounter sets a shop's last issued sequence, as an administrator would.
func (s *Store) SeedCounter(shopID string, last int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[shopID] = domain.ShopCounter{ShopID: shopID, LastSequence: last, UpdatedAt: s.now()}
}

// SetFailure makes every later call of op return err until cleared with nil.
func (s *Store) SetFailure(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) Calls(op Op) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

func (s *Store) enter(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.failures[op]
}

type memTx struct {
	s      *Store
	staged map[string]domain.ShopCounter
}

func (t *memTx) GetCounter(ctx context.Context, shopID string) (*domain.ShopCounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if counter, ok := t.staged[shopID]; ok {
		return &counter, nil
	}
	t.s.mu.RLock()
	counter, ok := t.s.counters[shopID]
	t.s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return &counter, nil
}

func (t *memTx) SetCounter(ctx context.Context, counter domain.ShopCounter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.staged[counter.ShopID] = counter
	return nil
}

// RunTransaction serializes transactions store-wide; staged writes are
// applied only when fn returns nil.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := s.enter(OpTransaction); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{s: s, staged: map[string]domain.ShopCounter{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for shopID, counter := range tx.staged {
		s.counters[shopID] = counter
	}
	return nil
}

func (s *Store) DailyAggregateExists(ctx context.Context, shopID string, date string) (bool, error) {
	if err := s.enter(OpAggregateExists); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.aggregates[store.AggregatePath(shopID, date)]
	return ok, nil
}

func (s *Store) CreateDailyAggregate(ctx context.Context, agg domain.DailyAggregate) error {
	if err := s.enter(OpCreateAggregate); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := store.AggregatePath(agg.ShopID, agg.Date)
	if _, ok := s.aggregates[key]; ok {
		return nil
	}
	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = s.now()
	}
	s.aggregates[key] = agg
	return nil
}

func (s *Store) IncrementDailyAggregate(ctx context.Context, shopID string, date string, orders int64, revenue decimal.Decimal) error {
	if err := s.enter(OpIncrement); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := store.AggregatePath(shopID, date)
	agg, ok := s.aggregates[key]
	if !ok {
		agg = domain.DailyAggregate{ShopID: shopID, Date: date, CreatedAt: s.now()}
	}
	agg.TotalOrder += orders
	agg.GrandTotal = agg.GrandTotal.Add(revenue)
	s.aggregates[key] = agg
	return nil
}

func (s *Store) GetDailyAggregate(ctx context.Context, shopID string, date string) (*domain.DailyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggregates[store.AggregatePath(shopID, date)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &agg, nil
}

func (s *Store) PutOrder(ctx context.Context, order domain.Order) error {
	if err := s.enter(OpPutOrder); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateOrder(order); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[store.OrderPath(order.ShopID, order.OrderDate, order.OrderID)] = order.Clone()
	return nil
}

func (s *Store) ListOrders(ctx context.Context, shopID string, date string) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.ShopID == shopID && order.OrderDate == date {
			out = append(out, order.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.enter(OpPing); err != nil {
		return err
	}
	return ctx.Err()
}
