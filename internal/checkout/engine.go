package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/invoice"
	"prompos/terminal/internal/logger"
	"prompos/terminal/internal/metrics"
	"prompos/terminal/internal/notify"
	"prompos/terminal/internal/order"
	"prompos/terminal/internal/store"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrWriteThrough      = errors.New("order write-through failed")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrInFlight          = errors.New("order sync already in progress")
	ErrIllegalTransition = errors.New("illegal sync state transition")
)

const defaultRemoteTimeout = 10 * time.Second

// OrderBook is the local order history. Every method persists before returning
// and a returned error means local persistence failed.
type OrderBook interface {
	// TakeCart empties the cart into the order returned by build and records
	// it, all in one write under the book's lock. build runs with that lock
	// held; if it fails nothing changes. An empty cart yields ErrEmptyCart.
	TakeCart(ctx context.Context, build func(lines []domain.CartLine) (domain.Order, error)) (domain.Order, error)
	UpdateOrder(ctx context.Context, localID string, mutate func(*domain.Order)) (domain.Order, error)
	Order(localID string) (domain.Order, bool)
	// Pending lists orders not yet sent, oldest first.
	Pending() []domain.Order
}

// Pricer derives payment details from the lines taken out of the cart.
type Pricer func(lines []domain.CartLine) (domain.PaymentDetails, error)

// Outcome is the result of one checkout or sync attempt.
type Outcome struct {
	Order   domain.Order
	Trail   *Trail
	Offline bool
	// Err is the recovered cause of UNASSIGNED or FAILED.
	Err error
}

func (o Outcome) State() State {
	return o.Trail.Current()
}

type EngineParams struct {
	Book          OrderBook
	Sequencer     *invoice.Sequencer
	Materializer  *order.Materializer
	Remote        store.Repository
	Reachability  Reachability
	Notifier      notify.Notifier
	Metrics       *metrics.CheckoutMetrics
	Logger        *logger.Logger
	RemoteTimeout time.Duration
	Now           func() time.Time
}

// Engine drives orders through the sync state machine.
type Engine struct {
	book     OrderBook
	seq      *invoice.Sequencer
	mat      *order.Materializer
	remote   store.Repository
	reach    Reachability
	notifier notify.Notifier
	metrics  *metrics.CheckoutMetrics
	logg     *logger.Logger
	timeout  time.Duration
	now      func() time.Time
	inflight *inflightSet
}

func NewEngine(p EngineParams) (*Engine, error) {
	if p.Book == nil {
		return nil, fmt.Errorf("order book required")
	}
	if p.Sequencer == nil {
		return nil, fmt.Errorf("sequencer required")
	}
	if p.Materializer == nil {
		return nil, fmt.Errorf("materializer required")
	}
	if p.Remote == nil {
		return nil, fmt.Errorf("remote store required")
	}
	if p.Reachability == nil {
		return nil, fmt.Errorf("reachability required")
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	timeout := p.RemoteTimeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		book:     p.Book,
		seq:      p.Sequencer,
		mat:      p.Materializer,
		remote:   p.Remote,
		reach:    p.Reachability,
		notifier: notifier,
		metrics:  p.Metrics,
		logg:     logg,
		timeout:  timeout,
		now:      now,
		inflight: newInflightSet(),
	}, nil
}

// Checkout takes the cart into a new order, records it locally and then tries
// to reserve an invoice number and write the order through. Remote failures
// are recovered into the outcome; an empty cart, a pricing error or a local
// persistence failure is returned as an error.
func (e *Engine) Checkout(ctx context.Context, price Pricer) (Outcome, error) {
	online := e.reach.Online(ctx)

	var (
		localID  string
		buildErr error
	)
	o, err := e.book.TakeCart(ctx, func(lines []domain.CartLine) (domain.Order, error) {
		payment, err := price(lines)
		if err != nil {
			buildErr = err
			return domain.Order{}, err
		}
		o, err := e.mat.Materialize(lines, payment, "")
		if err != nil {
			buildErr = err
			return domain.Order{}, err
		}
		localID = o.LocalID
		e.inflight.add(localID)
		return o, nil
	})
	if localID != "" {
		defer e.inflight.remove(localID)
	}
	if err != nil {
		if buildErr != nil || errors.Is(err, ErrEmptyCart) {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("record order locally: %w", err)
	}

	ctx = e.logg.WithLocalID(e.logg.WithShopID(ctx, o.ShopID), o.LocalID)
	out, err := e.advance(ctx, o, newTrail(StateCreated), online)
	if err != nil {
		return out, err
	}
	e.metrics.IncOutcome(out.State().String())
	e.notifyCheckout(ctx, out)
	return out, nil
}

// Sync retries a pending order: unassigned orders get a new reservation,
// assigned ones go straight to write-through. Callers check reachability.
func (e *Engine) Sync(ctx context.Context, localID string) (Outcome, error) {
	if !e.inflight.tryAdd(localID) {
		return Outcome{}, ErrInFlight
	}
	defer e.inflight.remove(localID)

	o, ok := e.book.Order(localID)
	if !ok {
		return Outcome{}, ErrUnknownOrder
	}
	if o.SendStatus == domain.SendStatusSent {
		trail := newTrail(StateAssigned)
		trail.states = append(trail.states, StateSent)
		return Outcome{Order: o, Trail: trail}, nil
	}

	start := StateCreated
	if o.Assigned() {
		start = StateAssigned
	}
	ctx = e.logg.WithLocalID(e.logg.WithShopID(ctx, o.ShopID), o.LocalID)
	out, err := e.advance(ctx, o, newTrail(start), true)
	if err != nil {
		return out, err
	}
	if out.State() == StateSent {
		e.notifier.Notify(ctx, notify.Notification{
			Severity: notify.SeveritySuccess,
			Summary:  "Order synced",
			Detail:   fmt.Sprintf("Order %s was sent", out.Order.OrderID),
			Life:     notify.DefaultLife,
		})
	}
	return out, nil
}

func (e *Engine) advance(ctx context.Context, o domain.Order, trail *Trail, online bool) (Outcome, error) {
	out := Outcome{Order: o, Trail: trail}

	if trail.Current() == StateCreated {
		if !online {
			out.Offline = true
			if err := trail.advance(StateUnassigned); err != nil {
				return out, err
			}
			e.logg.Info(ctx, "offline; order kept unassigned")
			return out, nil
		}
		if err := trail.advance(StateReserving); err != nil {
			return out, err
		}

		orderID, err := e.reserve(ctx, o.ShopID)
		if err != nil {
			out.Err = err
			if advErr := trail.advance(StateUnassigned); advErr != nil {
				return out, advErr
			}
			e.logg.Warn(ctx, "invoice reservation failed; order kept unassigned", err)
			return out, nil
		}

		o, err = e.book.UpdateOrder(ctx, o.LocalID, func(stored *domain.Order) {
			stored.OrderID = orderID
		})
		if err != nil {
			return out, fmt.Errorf("persist invoice id: %w", err)
		}
		out.Order = o
		if err := trail.advance(StateAssigned); err != nil {
			return out, err
		}
	}

	ctx = e.logg.WithField(ctx, "order_id", o.OrderID)
	sent, err := e.writeThrough(ctx, o)
	if sent.LocalID != "" {
		out.Order = sent
	}
	var persistErr *persistError
	if errors.As(err, &persistErr) {
		return out, persistErr.err
	}
	if err != nil {
		out.Err = fmt.Errorf("%w: %w", ErrWriteThrough, err)
		if advErr := trail.advance(StateFailed); advErr != nil {
			return out, advErr
		}
		e.logg.Warn(ctx, "write-through failed; order left pending", err)
		return out, nil
	}
	if err := trail.advance(StateSent); err != nil {
		return out, err
	}
	e.logg.Info(ctx, "order sent")
	return out, nil
}

func (e *Engine) reserve(ctx context.Context, shopID string) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	seq, err := e.seq.Reserve(rctx, shopID)
	if err != nil {
		return "", err
	}
	year := e.now().In(e.mat.Location()).Year()
	return invoice.FormatID(shopID, year, seq), nil
}

type persistError struct {
	err error
}

func (p *persistError) Error() string { return p.err.Error() }
func (p *persistError) Unwrap() error { return p.err }

// writeThrough ensures the daily aggregate, increments it once per order and
// writes the order document. The aggregate step is skipped when a previous
// attempt already recorded it.
func (e *Engine) writeThrough(ctx context.Context, o domain.Order) (domain.Order, error) {
	wctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if !o.AggregateRecorded {
		exists, err := e.remote.DailyAggregateExists(wctx, o.ShopID, o.OrderDate)
		if err != nil {
			return domain.Order{}, fmt.Errorf("check daily aggregate: %w", err)
		}
		if !exists {
			err := e.remote.CreateDailyAggregate(wctx, domain.DailyAggregate{
				ShopID:     o.ShopID,
				Date:       o.OrderDate,
				GrandTotal: decimal.Zero,
				CreatedAt:  e.now().UTC(),
			})
			if err != nil {
				return domain.Order{}, fmt.Errorf("create daily aggregate: %w", err)
			}
		}
		if err := e.remote.IncrementDailyAggregate(wctx, o.ShopID, o.OrderDate, 1, o.TotalWithTax); err != nil {
			return domain.Order{}, fmt.Errorf("increment daily aggregate: %w", err)
		}

		updated, err := e.book.UpdateOrder(ctx, o.LocalID, func(stored *domain.Order) {
			stored.AggregateRecorded = true
		})
		if err != nil {
			return domain.Order{}, &persistError{err: fmt.Errorf("persist aggregate progress: %w", err)}
		}
		o = updated
	}

	doc := o.Clone()
	doc.SendStatus = domain.SendStatusSent
	if err := e.remote.PutOrder(wctx, doc); err != nil {
		return o, fmt.Errorf("write order document: %w", err)
	}

	sent, err := e.book.UpdateOrder(ctx, o.LocalID, func(stored *domain.Order) {
		stored.SendStatus = domain.SendStatusSent
	})
	if err != nil {
		return o, &persistError{err: fmt.Errorf("persist sent status: %w", err)}
	}
	return sent, nil
}

func (e *Engine) notifyCheckout(ctx context.Context, out Outcome) {
	n := notify.Notification{Life: notify.DefaultLife}
	switch out.State() {
	case StateSent:
		n.Severity = notify.SeveritySuccess
		n.Summary = "Checkout complete"
		n.Detail = fmt.Sprintf("Order %s was sent", out.Order.OrderID)
	case StateFailed:
		n.Severity = notify.SeverityError
		n.Summary = "Order not sent"
		n.Detail = fmt.Sprintf("Order %s is saved on this terminal and will be retried", out.Order.OrderID)
		n.Life = 5 * time.Second
	case StateUnassigned:
		n.Severity = notify.SeverityWarn
		if out.Offline {
			n.Summary = "Saved offline"
			n.Detail = "The order is saved on this terminal and will sync when the connection returns"
		} else {
			n.Summary = "Invoice number unavailable"
			n.Detail = "The order is saved on this terminal without an invoice number"
		}
		n.Life = 5 * time.Second
	default:
		return
	}
	e.notifier.Notify(ctx, n)
}
