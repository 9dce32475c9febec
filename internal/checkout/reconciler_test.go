package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/store/memory"
)

func newReconciler(t *testing.T, f *fixture) *Reconciler {
	t.Helper()
	r, err := NewReconciler(ReconcilerParams{Engine: f.engine, Book: f.book, Reachability: f.reach})
	require.NoError(t, err)
	return r
}

func TestReconcilerSkipsWhileOffline(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.checkout(context.Background(), domain.PaymentDetails{})
	require.NoError(t, err)

	report, err := newReconciler(t, f).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, 1, report.Pending)
	assert.Zero(t, f.remote.Calls(memory.OpTransaction))
}

func TestReconcilerAssignsAndSendsOfflineOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	first, err := f.checkout(ctx, domain.PaymentDetails{})
	require.NoError(t, err)
	f.clock = f.clock.Add(5 * time.Millisecond)
	_, err = f.checkout(ctx, domain.PaymentDetails{})
	require.NoError(t, err)
	f.feed.Drain()

	f.reach.Set(true)
	report, err := newReconciler(t, f).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconcileResponse{Attempted: 2, Sent: 2}, report)

	stored, ok := f.book.Order(first.Order.LocalID)
	require.True(t, ok)
	assert.Equal(t, "shop123-24000001", stored.OrderID)
	assert.Equal(t, domain.SendStatusSent, stored.SendStatus)
	assert.Empty(t, f.book.Pending())
	assert.Len(t, f.feed.Drain(), 2)

	agg, err := f.remote.GetDailyAggregate(ctx, "shop123", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg.TotalOrder)
}

func TestReconcilerLeavesFailuresPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.checkout(ctx, domain.PaymentDetails{})
	require.NoError(t, err)

	f.reach.Set(true)
	f.remote.SetFailure(memory.OpPutOrder, errors.New("unavailable"))
	report, err := newReconciler(t, f).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconcileResponse{Attempted: 1, Pending: 1}, report)
	require.Len(t, f.book.Pending(), 1)
	assert.True(t, f.book.Pending()[0].Assigned())
}

func TestReconcilerAbortsOnLocalPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.checkout(ctx, domain.PaymentDetails{})
	require.NoError(t, err)

	f.reach.Set(true)
	disk := errors.New("disk full")
	f.book.updateErr = disk
	_, err = newReconciler(t, f).RunOnce(ctx)
	require.ErrorIs(t, err, disk)
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, true)
	r := newReconciler(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, r.Run(ctx), context.Canceled)
}
