package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"prompos/terminal/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidOrder = errors.New("invalid order")
	ErrConflict     = errors.New("transaction conflict")
)

// Document layout shared by every backend.
const (
	ShopsCollection  = "orders"
	DaysCollection   = "shopOrders"
	OrdersCollection = "orders"
	HealthCollection = "healthCheck"
)

func CounterPath(shopID string) string {
	return fmt.Sprintf("%s/%s", ShopsCollection, shopID)
}

func AggregatePath(shopID, date string) string {
	return fmt.Sprintf("%s/%s/%s", CounterPath(shopID), DaysCollection, date)
}

func OrderPath(shopID, date, orderID string) string {
	return fmt.Sprintf("%s/%s/%s", AggregatePath(shopID, date), OrdersCollection, orderID)
}

// Tx is the transactional view over a shop counter document.
type Tx interface {
	// GetCounter returns ErrNotFound when the shop has no counter yet.
	GetCounter(ctx context.Context, shopID string) (*domain.ShopCounter, error)
	SetCounter(ctx context.Context, counter domain.ShopCounter) error
}

// Repository is the remote document store the terminal writes through to.
type Repository interface {
	// RunTransaction runs fn once; conflicting transactions on the same
	// counter serialize. A failed commit is returned, never retried.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	DailyAggregateExists(ctx context.Context, shopID string, date string) (bool, error)
	// CreateDailyAggregate is create-if-absent: an existing document is left untouched.
	CreateDailyAggregate(ctx context.Context, agg domain.DailyAggregate) error
	// IncrementDailyAggregate applies a commutative increment, never a read-modify-write.
	IncrementDailyAggregate(ctx context.Context, shopID string, date string, orders int64, revenue decimal.Decimal) error
	GetDailyAggregate(ctx context.Context, shopID string, date string) (*domain.DailyAggregate, error)

	// PutOrder writes the order document keyed by its orderId under its date.
	PutOrder(ctx context.Context, order domain.Order) error
	ListOrders(ctx context.Context, shopID string, date string) ([]domain.Order, error)

	Ping(ctx context.Context) error
}

// ValidateOrder checks the fields PutOrder keys on.
func ValidateOrder(order domain.Order) error {
	if order.ShopID == "" || order.OrderDate == "" {
		return fmt.Errorf("%w: missing shop or date", ErrInvalidOrder)
	}
	if !order.Assigned() {
		return fmt.Errorf("%w: order %s has no invoice id", ErrInvalidOrder, order.LocalID)
	}
	return nil
}
