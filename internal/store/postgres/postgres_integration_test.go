package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/invoice"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	shopID := fmt.Sprintf("shop-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shop_orders WHERE shop_id = $1`, shopID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM daily_aggregates WHERE shop_id = $1`, shopID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shop_counters WHERE shop_id = $1`, shopID)
		_ = s.Close()
	})
	return s, shopID
}

func TestConcurrentReservationsSerialize(t *testing.T) {
	s, shopID := newTestStore(t)
	seq := invoice.NewSequencer(s)
	const workers = 8

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.Reserve(context.Background(), shopID)
			if err != nil {
				// Serialization conflicts are reported, not retried.
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[n] {
				t.Errorf("sequence %d issued twice", n)
			}
			seen[n] = true
		}()
	}
	wg.Wait()

	if len(seen) == 0 {
		t.Fatalf("expected at least one reservation to commit")
	}
}

func TestAggregateCreateIfAbsentAndIncrement(t *testing.T) {
	s, shopID := newTestStore(t)
	ctx := context.Background()
	date := "2024-05-01"

	for i := 0; i < 2; i++ {
		if err := s.CreateDailyAggregate(ctx, domain.DailyAggregate{ShopID: shopID, Date: date}); err != nil {
			t.Fatalf("create aggregate: %v", err)
		}
	}
	if err := s.IncrementDailyAggregate(ctx, shopID, date, 1, decimal.NewFromInt(22)); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.IncrementDailyAggregate(ctx, shopID, date, 1, decimal.RequireFromString("10.70")); err != nil {
		t.Fatalf("increment: %v", err)
	}

	agg, err := s.GetDailyAggregate(ctx, shopID, date)
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.TotalOrder != 2 || !agg.GrandTotal.Equal(decimal.RequireFromString("32.70")) {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}

func TestPutOrderRoundTrip(t *testing.T) {
	s, shopID := newTestStore(t)
	ctx := context.Background()

	order := domain.Order{
		OrderID:      shopID + "-24000001",
		LocalID:      shopID + "-1714548600000",
		ShopID:       shopID,
		OrderDate:    "2024-05-01",
		TotalWithTax: decimal.NewFromInt(22),
		SendStatus:   domain.SendStatusSent,
		OrderStatus:  domain.OrderStatusSuccess,
	}
	if err := s.PutOrder(ctx, order); err != nil {
		t.Fatalf("put order: %v", err)
	}
	orders, err := s.ListOrders(ctx, shopID, "2024-05-01")
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderID != order.OrderID {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}
