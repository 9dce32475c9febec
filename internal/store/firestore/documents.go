package firestore

import (
	"time"

	"github.com/shopspring/decimal"

	"prompos/terminal/internal/domain"
)

type counterDoc struct {
	ShopID            string    `firestore:"shopId"`
	ShopName          string    `firestore:"shopName"`
	LastInvoiceNumber int64     `firestore:"lastInvoiceNumber"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func counterFromDomain(c domain.ShopCounter) counterDoc {
	return counterDoc{
		ShopID:            c.ShopID,
		ShopName:          c.ShopName,
		LastInvoiceNumber: c.LastSequence,
		UpdatedAt:         c.UpdatedAt,
	}
}

func (d counterDoc) toDomain() domain.ShopCounter {
	return domain.ShopCounter{
		ShopID:       d.ShopID,
		ShopName:     d.ShopName,
		LastSequence: d.LastInvoiceNumber,
		UpdatedAt:    d.UpdatedAt,
	}
}

type aggregateDoc struct {
	ShopID     string    `firestore:"shopId"`
	Date       string    `firestore:"date"`
	TotalOrder int64     `firestore:"totalOrder"`
	GrandTotal float64   `firestore:"grandTotal"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func aggregateFromDomain(a domain.DailyAggregate) aggregateDoc {
	return aggregateDoc{
		ShopID:     a.ShopID,
		Date:       a.Date,
		TotalOrder: a.TotalOrder,
		GrandTotal: a.GrandTotal.InexactFloat64(),
		CreatedAt:  a.CreatedAt,
	}
}

func (d aggregateDoc) toDomain() domain.DailyAggregate {
	return domain.DailyAggregate{
		ShopID:     d.ShopID,
		Date:       d.Date,
		TotalOrder: d.TotalOrder,
		GrandTotal: decimal.NewFromFloat(d.GrandTotal).Round(2),
		CreatedAt:  d.CreatedAt,
	}
}

type lineItemDoc struct {
	ID         int     `firestore:"id"`
	Name       string  `firestore:"name"`
	Price      float64 `firestore:"price"`
	Image      string  `firestore:"image"`
	Quantity   int     `firestore:"quantity"`
	TotalPrice float64 `firestore:"totalPrice"`
}

type paymentDoc struct {
	Method      string            `firestore:"method"`
	Reference   string            `firestore:"reference,omitempty"`
	Tendered    float64           `firestore:"tendered"`
	Change      float64           `firestore:"change"`
	CashierUID  string            `firestore:"cashierUid,omitempty"`
	CashierName string            `firestore:"cashierName,omitempty"`
	Extra       map[string]string `firestore:"extra,omitempty"`
}

type orderDoc struct {
	OrderID          string        `firestore:"orderId"`
	LocalID          string        `firestore:"localId"`
	ShopID           string        `firestore:"shopId"`
	LineItems        []lineItemDoc `firestore:"lineItems"`
	Subtotal         float64       `firestore:"subtotal"`
	TaxRate          float64       `firestore:"taxRate"`
	TaxAmount        float64       `firestore:"taxAmount"`
	TotalWithTax     float64       `firestore:"totalWithTax"`
	SendStatus       string        `firestore:"sendStatus"`
	OrderStatus      string        `firestore:"orderStatus"`
	CreatedAtLocalTz string        `firestore:"createdAtLocalTz"`
	CreatedAtUTC     string        `firestore:"createdAtUtc"`
	OrderDate        string        `firestore:"orderDate"`
	PaymentDetails   paymentDoc    `firestore:"paymentDetails"`
}

func orderFromDomain(o domain.Order) orderDoc {
	items := make([]lineItemDoc, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, lineItemDoc{
			ID:         li.ItemID,
			Name:       li.Name,
			Price:      li.UnitPrice.InexactFloat64(),
			Image:      li.Image,
			Quantity:   li.Quantity,
			TotalPrice: li.TotalPrice.InexactFloat64(),
		})
	}
	p := o.PaymentDetails
	return orderDoc{
		OrderID:          o.OrderID,
		LocalID:          o.LocalID,
		ShopID:           o.ShopID,
		LineItems:        items,
		Subtotal:         o.Subtotal.InexactFloat64(),
		TaxRate:          o.TaxRate.InexactFloat64(),
		TaxAmount:        o.TaxAmount.InexactFloat64(),
		TotalWithTax:     o.TotalWithTax.InexactFloat64(),
		SendStatus:       string(o.SendStatus),
		OrderStatus:      string(o.OrderStatus),
		CreatedAtLocalTz: o.CreatedAtLocalTz,
		CreatedAtUTC:     o.CreatedAtUTC,
		OrderDate:        o.OrderDate,
		PaymentDetails: paymentDoc{
			Method:      p.Method,
			Reference:   p.Reference,
			Tendered:    p.Tendered.InexactFloat64(),
			Change:      p.Change.InexactFloat64(),
			CashierUID:  p.CashierUID,
			CashierName: p.CashierName,
			Extra:       p.Extra,
		},
	}
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

func (d orderDoc) toDomain() domain.Order {
	items := make([]domain.LineItem, 0, len(d.LineItems))
	for _, li := range d.LineItems {
		items = append(items, domain.LineItem{
			ItemID:     li.ID,
			Name:       li.Name,
			UnitPrice:  money(li.Price),
			Image:      li.Image,
			Quantity:   li.Quantity,
			TotalPrice: money(li.TotalPrice),
		})
	}
	p := d.PaymentDetails
	return domain.Order{
		OrderID:          d.OrderID,
		LocalID:          d.LocalID,
		ShopID:           d.ShopID,
		LineItems:        items,
		Subtotal:         money(d.Subtotal),
		TaxRate:          decimal.NewFromFloat(d.TaxRate),
		TaxAmount:        money(d.TaxAmount),
		TotalWithTax:     money(d.TotalWithTax),
		SendStatus:       domain.SendStatus(d.SendStatus),
		OrderStatus:      domain.OrderStatus(d.OrderStatus),
		CreatedAtLocalTz: d.CreatedAtLocalTz,
		CreatedAtUTC:     d.CreatedAtUTC,
		OrderDate:        d.OrderDate,
		PaymentDetails: domain.PaymentDetails{
			Method:      p.Method,
			Reference:   p.Reference,
			Tendered:    money(p.Tendered),
			Change:      money(p.Change),
			CashierUID:  p.CashierUID,
			CashierName: p.CashierName,
			Extra:       p.Extra,
		},
	}
}
