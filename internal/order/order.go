package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/xid"
)

var ErrEmptySelection = errors.New("empty selection")

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Materializer turns a cart selection into an immutable order record.
type Materializer struct {
	shopID  string
	taxRate decimal.Decimal
	loc     *time.Location
	now     func() time.Time
	taken   func(localID string) bool
}

type Option func(*Materializer)

func WithClock(now func() time.Time) Option {
	return func(m *Materializer) { m.now = now }
}

// WithTakenLocalIDs lets the materializer skip local ids already in history.
func WithTakenLocalIDs(taken func(localID string) bool) Option {
	return func(m *Materializer) { m.taken = taken }
}

func NewMaterializer(shopID string, taxRate decimal.Decimal, loc *time.Location, opts ...Option) *Materializer {
	if loc == nil {
		loc = time.UTC
	}
	m := &Materializer{
		shopID:  shopID,
		taxRate: taxRate,
		loc:     loc,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Materializer) ShopID() string {
	return m.shopID
}

func (m *Materializer) Location() *time.Location {
	return m.loc
}

// Materialize copies lines into a new order. An empty invoiceID yields the
// unassigned sentinel. The order always starts pending.
func (m *Materializer) Materialize(lines []domain.CartLine, payment domain.PaymentDetails, invoiceID string) (domain.Order, error) {
	if len(lines) == 0 {
		return domain.Order{}, ErrEmptySelection
	}
	if invoiceID == "" {
		invoiceID = domain.UnassignedOrderID
	}

	at := m.now()
	items := make([]domain.LineItem, 0, len(lines))
	subtotal := decimal.Zero
	for _, line := range lines {
		total := line.Item.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, domain.LineItem{
			ItemID:     line.Item.ID,
			Name:       line.Item.Name,
			UnitPrice:  line.Item.Price,
			Image:      line.Item.Image,
			Quantity:   line.Quantity,
			TotalPrice: total,
		})
		subtotal = subtotal.Add(total)
	}
	tax := Tax(subtotal, m.taxRate)

	order := domain.Order{
		OrderID:          invoiceID,
		LocalID:          xid.LocalAfter(m.shopID, at, m.taken),
		ShopID:           m.shopID,
		LineItems:        items,
		Subtotal:         subtotal,
		TaxRate:          m.taxRate,
		TaxAmount:        tax,
		TotalWithTax:     subtotal.Add(tax),
		SendStatus:       domain.SendStatusPending,
		OrderStatus:      domain.OrderStatusSuccess,
		CreatedAtLocalTz: at.In(m.loc).Format(TimestampLayout),
		CreatedAtUTC:     at.UTC().Format(TimestampLayout),
		OrderDate:        at.In(m.loc).Format(DateLayout),
		PaymentDetails:   copyPayment(payment),
	}
	return order, nil
}

// Tax is subtotal times rate, rounded half away from zero to two places.
func Tax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(rate).Round(2)
}

func copyPayment(p domain.PaymentDetails) domain.PaymentDetails {
	dup := p
	if p.Extra != nil {
		dup.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			dup.Extra[k] = v
		}
	}
	return dup
}
