package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gfs "cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/store"
)

// Store keeps shop counters, daily aggregates and orders in Cloud Firestore
// under orders/{shopId}/shopOrders/{date}/orders/{orderId}.
type Store struct {
	client *gfs.Client
}

func New(ctx context.Context, projectID string, credentialsFile string) (*Store, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("firestore project id is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gfs.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

type fsTx struct {
	client *gfs.Client
	tx     *gfs.Transaction
}

func (t *fsTx) GetCounter(_ context.Context, shopID string) (*domain.ShopCounter, error) {
	snap, err := t.tx.Get(t.client.Doc(store.CounterPath(shopID)))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var doc counterDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode counter: %w", err)
	}
	counter := doc.toDomain()
	counter.ShopID = shopID
	return &counter, nil
}

func (t *fsTx) SetCounter(_ context.Context, counter domain.ShopCounter) error {
	return t.tx.Set(t.client.Doc(store.CounterPath(counter.ShopID)), counterFromDomain(counter))
}

// RunTransaction makes exactly one attempt; contention is reported to the caller.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gfs.Transaction) error {
		return fn(ctx, &fsTx{client: s.client, tx: tx})
	}, gfs.MaxAttempts(1))
	if status.Code(err) == codes.Aborted {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func (s *Store) DailyAggregateExists(ctx context.Context, shopID string, date string) (bool, error) {
	_, err := s.client.Doc(store.AggregatePath(shopID, date)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) CreateDailyAggregate(ctx context.Context, agg domain.DailyAggregate) error {
	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = time.Now().UTC()
	}
	_, err := s.client.Doc(store.AggregatePath(agg.ShopID, agg.Date)).Create(ctx, aggregateFromDomain(agg))
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

func (s *Store) IncrementDailyAggregate(ctx context.Context, shopID string, date string, orders int64, revenue decimal.Decimal) error {
	_, err := s.client.Doc(store.AggregatePath(shopID, date)).Set(ctx, map[string]interface{}{
		"totalOrder": gfs.Increment(orders),
		"grandTotal": gfs.Increment(revenue.InexactFloat64()),
	}, gfs.MergeAll)
	return err
}

func (s *Store) GetDailyAggregate(ctx context.Context, shopID string, date string) (*domain.DailyAggregate, error) {
	snap, err := s.client.Doc(store.AggregatePath(shopID, date)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var doc aggregateDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	agg := doc.toDomain()
	agg.ShopID, agg.Date = shopID, date
	return &agg, nil
}

func (s *Store) PutOrder(ctx context.Context, order domain.Order) error {
	if err := store.ValidateOrder(order); err != nil {
		return err
	}
	_, err := s.client.Doc(store.OrderPath(order.ShopID, order.OrderDate, order.OrderID)).Set(ctx, orderFromDomain(order))
	return err
}

func (s *Store) ListOrders(ctx context.Context, shopID string, date string) ([]domain.Order, error) {
	iter := s.client.Doc(store.AggregatePath(shopID, date)).
		Collection(store.OrdersCollection).
		OrderBy("orderId", gfs.Asc).
		Documents(ctx)
	defer iter.Stop()

	orders := make([]domain.Order, 0, 32)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc orderDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain())
	}
	return orders, nil
}

// Ping reads at most one document from the health check collection.
func (s *Store) Ping(ctx context.Context) error {
	iter := s.client.Collection(store.HealthCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	_, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil
	}
	return err
}
