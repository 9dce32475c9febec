package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnassignedOrderID marks an order whose invoice number has not been reserved yet.
const UnassignedOrderID = "n/a"

type MenuItem struct {
	ID    int             `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Image string          `json:"image"`
}

type SelectionLine struct {
	ItemID   int `json:"id"`
	Quantity int `json:"quantity"`
}

// CartLine is a selection line resolved against the catalog.
type CartLine struct {
	Item       MenuItem        `json:"item"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type CartView struct {
	Lines      []CartLine      `json:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TotalItems int             `json:"totalItems"`
}

// LineItem is frozen at purchase time; it never re-reads the catalog.
type LineItem struct {
	ItemID     int             `json:"id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"price"`
	Image      string          `json:"image,omitempty"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type SendStatus string

const (
	SendStatusPending SendStatus = "pending"
	SendStatusSent    SendStatus = "sent"
	SendStatusFailed  SendStatus = "failed"
)

type OrderStatus string

const (
	OrderStatusSuccess   OrderStatus = "success"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusSuccess, OrderStatusPreparing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

type PaymentDetails struct {
	Method      string            `json:"method"`
	Reference   string            `json:"reference,omitempty"`
	Tendered    decimal.Decimal   `json:"tendered"`
	Change      decimal.Decimal   `json:"change"`
	CashierUID  string            `json:"cashierUid,omitempty"`
	CashierName string            `json:"cashierName,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type Order struct {
	OrderID          string          `json:"orderId"`
	LocalID          string          `json:"localId"`
	ShopID           string          `json:"shopId"`
	LineItems        []LineItem      `json:"lineItems"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	TaxRate          decimal.Decimal `json:"taxRate"`
	TaxAmount        decimal.Decimal `json:"taxAmount"`
	TotalWithTax     decimal.Decimal `json:"totalWithTax"`
	SendStatus       SendStatus      `json:"sendStatus"`
	OrderStatus      OrderStatus     `json:"orderStatus"`
	CreatedAtLocalTz string          `json:"createdAtLocalTz"`
	CreatedAtUTC     string          `json:"createdAtUtc"`
	// OrderDate is the local-zone calendar date (YYYY-MM-DD) the order is filed under remotely.
	OrderDate         string         `json:"orderDate"`
	PaymentDetails    PaymentDetails `json:"paymentDetails"`
	AggregateRecorded bool           `json:"aggregateRecorded"`
}

func (o Order) Assigned() bool {
	return o.OrderID != "" && o.OrderID != UnassignedOrderID
}

func (o Order) TotalUnits() int {
	units := 0
	for _, line := range o.LineItems {
		units += line.Quantity
	}
	return units
}

// Clone returns a deep copy so callers can never alias stored history.
func (o Order) Clone() Order {
	dup := o
	dup.LineItems = make([]LineItem, len(o.LineItems))
	copy(dup.LineItems, o.LineItems)
	if o.PaymentDetails.Extra != nil {
		dup.PaymentDetails.Extra = make(map[string]string, len(o.PaymentDetails.Extra))
		for k, v := range o.PaymentDetails.Extra {
			dup.PaymentDetails.Extra[k] = v
		}
	}
	return dup
}

type ShopCounter struct {
	ShopID       string    `json:"shopId"`
	ShopName     string    `json:"shopName"`
	LastSequence int64     `json:"lastInvoiceNumber"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type DailyAggregate struct {
	ShopID     string          `json:"shopId"`
	Date       string          `json:"date"`
	TotalOrder int64           `json:"totalOrder"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Provider    string `json:"provider"`
	IsGuest     bool   `json:"isGuest"`
}

const (
	ProviderGuest    = "guest"
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

// Snapshot is the locally persisted terminal state.
type Snapshot struct {
	SelectedItems []SelectionLine `json:"selectedItems"`
	Orders        []Order         `json:"orders"`
}

type EmailLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type GoogleLoginRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Identity    Identity `json:"identity"`
	ExpiresAt   string   `json:"expires_at"`
}

type AddItemRequest struct {
	ItemID int `json:"item_id" validate:"required,gt=0"`
}

type CheckoutRequest struct {
	PaymentMethod    string            `json:"payment_method" validate:"omitempty,oneof=cash card qr transfer"`
	PaymentReference string            `json:"payment_reference"`
	Tendered         decimal.Decimal   `json:"tendered"`
	Extra            map[string]string `json:"extra,omitempty"`
}

type CheckoutResponse struct {
	Order  Order    `json:"order"`
	State  string   `json:"state"`
	Trail  []string `json:"trail"`
	Reason string   `json:"reason,omitempty"`
}

type OrderStatusUpdateRequest struct {
	OrderStatus OrderStatus `json:"orderStatus" validate:"required"`
}

type ReconcileResponse struct {
	Attempted int  `json:"attempted"`
	Sent      int  `json:"sent"`
	Pending   int  `json:"pending"`
	Skipped   bool `json:"skipped"`
}
