package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"prompos/terminal/internal/cart"
	"prompos/terminal/internal/checkout"
	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/identity"
	"prompos/terminal/internal/invoice"
	"prompos/terminal/internal/logger"
	"prompos/terminal/internal/metrics"
	"prompos/terminal/internal/notify"
	"prompos/terminal/internal/order"
	"prompos/terminal/internal/persist"
	"prompos/terminal/internal/store"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrOrderNotFound  = errors.New("order not found")
)

const defaultPaymentMethod = "cash"

type Params struct {
	ShopID            string
	ShopName          string
	TaxRate           decimal.Decimal
	Location          *time.Location
	Catalog           *cart.Catalog
	Persist           *persist.Adapter
	Remote            store.Repository
	Reachability      checkout.Reachability
	Identity          *identity.Service
	Notifier          notify.Notifier
	Metrics           *metrics.CheckoutMetrics
	Logger            *logger.Logger
	RemoteTimeout     time.Duration
	ReconcileInterval time.Duration
	Now               func() time.Time
}

// Service is the terminal context: it owns the cart and the local order
// history for one shop and mirrors both into local persistence after every
// mutation.
type Service struct {
	shopID   string
	taxRate  decimal.Decimal
	loc      *time.Location
	cart     *cart.Cart
	persist  *persist.Adapter
	remote   store.Repository
	identity *identity.Service
	logg     *logger.Logger
	timeout  time.Duration
	now      func() time.Time

	engine     *checkout.Engine
	reconciler *checkout.Reconciler

	mu     sync.Mutex
	orders []domain.Order
}

func New(p Params) (*Service, error) {
	if strings.TrimSpace(p.ShopID) == "" {
		return nil, fmt.Errorf("shop id required")
	}
	if p.Persist == nil {
		return nil, fmt.Errorf("persistence adapter required")
	}
	if p.Remote == nil {
		return nil, fmt.Errorf("remote store required")
	}
	if p.Identity == nil {
		return nil, fmt.Errorf("identity service required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	reach := p.Reachability
	if reach == nil {
		reach = checkout.Static(true)
	}

	s := &Service{
		shopID:   p.ShopID,
		taxRate:  p.TaxRate,
		loc:      loc,
		cart:     cart.New(p.Catalog),
		persist:  p.Persist,
		remote:   p.Remote,
		identity: p.Identity,
		logg:     logg,
		timeout:  p.RemoteTimeout,
		now:      now,
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}

	seq := invoice.NewSequencer(p.Remote,
		invoice.WithShopName(p.ShopName),
		invoice.WithObserver(p.Metrics),
		invoice.WithClock(func() time.Time { return now().UTC() }),
	)
	mat := order.NewMaterializer(p.ShopID, p.TaxRate, loc,
		order.WithClock(now),
		order.WithTakenLocalIDs(s.localIDTakenLocked),
	)
	engine, err := checkout.NewEngine(checkout.EngineParams{
		Book:          s,
		Sequencer:     seq,
		Materializer:  mat,
		Remote:        p.Remote,
		Reachability:  reach,
		Notifier:      p.Notifier,
		Metrics:       p.Metrics,
		Logger:        logg,
		RemoteTimeout: s.timeout,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	reconciler, err := checkout.NewReconciler(checkout.ReconcilerParams{
		Engine:       engine,
		Book:         s,
		Reachability: reach,
		Metrics:      p.Metrics,
		Logger:       logg,
		Interval:     p.ReconcileInterval,
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine
	s.reconciler = reconciler
	return s, nil
}

func (s *Service) ShopID() string {
	return s.shopID
}

func (s *Service) Reconciler() *checkout.Reconciler {
	return s.reconciler
}

// Restore loads the local snapshot. Orders marked failed by older builds are
// treated as pending so the reconciler picks them up.
func (s *Service) Restore(ctx context.Context) error {
	snap, err := s.persist.LoadSnapshot(ctx)
	if err != nil {
		return err
	}

	orders := make([]domain.Order, 0, len(snap.Orders))
	normalized := 0
	for _, o := range snap.Orders {
		if o.SendStatus == domain.SendStatusFailed || o.SendStatus == "" {
			o.SendStatus = domain.SendStatusPending
			normalized++
		}
		if o.OrderID == "" {
			o.OrderID = domain.UnassignedOrderID
		}
		orders = append(orders, o)
	}

	s.mu.Lock()
	s.orders = orders
	dropped := s.cart.Restore(snap.SelectedItems)
	s.mu.Unlock()

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"orders":        len(orders),
		"normalized":    normalized,
		"dropped_lines": dropped,
	}), "local snapshot restored")
	return nil
}

func (s *Service) Menu() []domain.MenuItem {
	return s.cart.Catalog().Items()
}

func (s *Service) Cart() domain.CartView {
	return s.cart.View()
}

func (s *Service) AddItem(ctx context.Context, itemID int) (domain.CartView, error) {
	return s.mutateCart(ctx, func() error {
		_, err := s.cart.AddByID(itemID)
		return err
	})
}

func (s *Service) DecrementItem(ctx context.Context, itemID int) (domain.CartView, error) {
	return s.mutateCart(ctx, func() error {
		s.cart.DecrementOrRemove(itemID)
		return nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, itemID int) (domain.CartView, error) {
	return s.mutateCart(ctx, func() error {
		s.cart.RemoveCompletely(itemID)
		return nil
	})
}

func (s *Service) ClearCart(ctx context.Context) (domain.CartView, error) {
	return s.mutateCart(ctx, func() error {
		s.cart.Clear()
		return nil
	})
}

func (s *Service) mutateCart(ctx context.Context, mutate func() error) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.cart.Selection()
	if err := mutate(); err != nil {
		return domain.CartView{}, err
	}
	if err := s.saveLocked(ctx); err != nil {
		s.cart.Restore(before)
		return domain.CartView{}, err
	}
	return s.cart.View(), nil
}

// Checkout turns the current cart into an order. Remote failures are
// reported in the response; a returned error is an empty cart, a bad payment
// or a local persistence failure.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if req.Tendered.IsNegative() {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: tendered amount is negative", ErrInvalidRequest)
	}
	cashier, attributed := s.cashier(ctx)

	out, err := s.engine.Checkout(ctx, func(lines []domain.CartLine) (domain.PaymentDetails, error) {
		payment, err := s.paymentDetails(req, lines)
		if err != nil {
			return domain.PaymentDetails{}, err
		}
		if attributed {
			payment.CashierUID = cashier.UID
			payment.CashierName = cashier.DisplayName
			if payment.CashierName == "" {
				payment.CashierName = cashier.Email
			}
		}
		return payment, nil
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	resp := domain.CheckoutResponse{
		Order: out.Order,
		State: out.State().String(),
		Trail: out.Trail.Strings(),
	}
	switch {
	case out.Offline:
		resp.Reason = "offline"
	case out.Err != nil:
		resp.Reason = out.Err.Error()
	}
	return resp, nil
}

// cashier is the identity the sale is credited to: the request's own
// identity when ctx carries one.
func (s *Service) cashier(ctx context.Context) (domain.Identity, bool) {
	id, err := s.identity.Attribution(ctx)
	if err != nil {
		s.logg.Warn(ctx, "cashier attribution unavailable", err)
		return domain.Identity{}, false
	}
	return id, true
}

func (s *Service) paymentDetails(req domain.CheckoutRequest, lines []domain.CartLine) (domain.PaymentDetails, error) {
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = defaultPaymentMethod
	}

	payment := domain.PaymentDetails{
		Method:    method,
		Reference: strings.TrimSpace(req.PaymentReference),
		Tendered:  req.Tendered,
		Change:    decimal.Zero,
		Extra:     req.Extra,
	}
	if method == "cash" && req.Tendered.IsPositive() {
		subtotal := cart.Subtotal(lines)
		total := subtotal.Add(order.Tax(subtotal, s.taxRate))
		if req.Tendered.LessThan(total) {
			return domain.PaymentDetails{}, fmt.Errorf("%w: tendered %s is less than total %s", ErrInvalidRequest, req.Tendered, total)
		}
		payment.Change = req.Tendered.Sub(total)
	}
	return payment, nil
}

// Orders lists local history newest first.
func (s *Service) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Order, 0, len(s.orders))
	for i := len(s.orders) - 1; i >= 0; i-- {
		out = append(out, s.orders[i].Clone())
	}
	return out
}

// UpdateOrderStatus changes the business status only; transport fields stay put.
func (s *Service) UpdateOrderStatus(ctx context.Context, localID string, status domain.OrderStatus) (domain.Order, error) {
	if !status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown order status %q", ErrInvalidRequest, status)
	}
	updated, err := s.UpdateOrder(ctx, localID, func(o *domain.Order) {
		o.OrderStatus = status
	})
	if errors.Is(err, checkout.ErrUnknownOrder) {
		return domain.Order{}, ErrOrderNotFound
	}
	return updated, err
}

// SyncPending runs one reconcile cycle now.
func (s *Service) SyncPending(ctx context.Context) (domain.ReconcileResponse, error) {
	return s.reconciler.RunOnce(ctx)
}

// DailySummary reads the remote aggregate; a day without orders is all zeros.
func (s *Service) DailySummary(ctx context.Context, date string) (domain.DailyAggregate, error) {
	date, err := s.normalizeDate(date)
	if err != nil {
		return domain.DailyAggregate{}, err
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	agg, err := s.remote.GetDailyAggregate(rctx, s.shopID, date)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DailyAggregate{ShopID: s.shopID, Date: date, GrandTotal: decimal.Zero}, nil
	}
	if err != nil {
		return domain.DailyAggregate{}, err
	}
	return *agg, nil
}

func (s *Service) RemoteOrders(ctx context.Context, date string) ([]domain.Order, error) {
	date, err := s.normalizeDate(date)
	if err != nil {
		return nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.remote.ListOrders(rctx, s.shopID, date)
}

func (s *Service) StoreHealth(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.remote.Ping(rctx)
}

func (s *Service) normalizeDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return s.now().In(s.loc).Format(order.DateLayout), nil
	}
	if _, err := time.Parse(order.DateLayout, date); err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	return date, nil
}

// TakeCart drains the cart into the order built from its lines and records
// both in one snapshot write. A failed build or write restores the cart.
func (s *Service) TakeCart(ctx context.Context, build func(lines []domain.CartLine) (domain.Order, error)) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selection := s.cart.Selection()
	lines := s.cart.Drain()
	if len(lines) == 0 {
		return domain.Order{}, checkout.ErrEmptyCart
	}
	o, err := build(lines)
	if err != nil {
		s.cart.Restore(selection)
		return domain.Order{}, err
	}
	s.orders = append(s.orders, o.Clone())
	if err := s.saveLocked(ctx); err != nil {
		s.orders = s.orders[:len(s.orders)-1]
		s.cart.Restore(selection)
		return domain.Order{}, err
	}
	return o.Clone(), nil
}

func (s *Service) UpdateOrder(ctx context.Context, localID string, mutate func(*domain.Order)) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(localID)
	if idx < 0 {
		return domain.Order{}, checkout.ErrUnknownOrder
	}
	previous := s.orders[idx]
	updated := previous.Clone()
	mutate(&updated)
	s.orders[idx] = updated
	if err := s.saveLocked(ctx); err != nil {
		s.orders[idx] = previous
		return domain.Order{}, err
	}
	return updated.Clone(), nil
}

func (s *Service) Order(localID string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(localID)
	if idx < 0 {
		return domain.Order{}, false
	}
	return s.orders[idx].Clone(), true
}

func (s *Service) Pending() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.SendStatus != domain.SendStatusSent {
			out = append(out, o.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAtUTC < out[j].CreatedAtUTC })
	return out
}

// localIDTakenLocked backs the materializer, which only runs inside TakeCart.
func (s *Service) localIDTakenLocked(localID string) bool {
	return s.indexLocked(localID) >= 0
}

func (s *Service) indexLocked(localID string) int {
	for i := range s.orders {
		if s.orders[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func (s *Service) saveLocked(ctx context.Context) error {
	orders := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o.Clone())
	}
	snap := domain.Snapshot{
		SelectedItems: s.cart.Selection(),
		Orders:        orders,
	}
	if err := s.persist.SaveSnapshot(ctx, snap); err != nil {
		s.logg.Error(ctx, "local snapshot write failed", err)
		return err
	}
	return nil
}
