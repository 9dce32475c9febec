package cart

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompos/terminal/internal/domain"
)

func item(id int, price int64) domain.MenuItem {
	return domain.MenuItem{ID: id, Name: "x", Price: decimal.NewFromInt(price)}
}

func TestAddTwiceMergesLine(t *testing.T) {
	c := New(nil)
	c.Add(item(1, 10))
	c.Add(item(1, 10))

	require.Equal(t, []domain.SelectionLine{{ItemID: 1, Quantity: 2}}, c.Selection())
	assert.True(t, c.Subtotal().Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 2, c.TotalUnits())
}

func TestDecrementOrRemove(t *testing.T) {
	c := New(nil)
	c.Add(item(1, 10))
	c.Add(item(1, 10))
	c.Add(item(2, 15))

	c.DecrementOrRemove(1)
	assert.Equal(t, []domain.SelectionLine{{ItemID: 1, Quantity: 1}, {ItemID: 2, Quantity: 1}}, c.Selection())

	c.DecrementOrRemove(1)
	assert.Equal(t, []domain.SelectionLine{{ItemID: 2, Quantity: 1}}, c.Selection())

	before := c.Selection()
	c.DecrementOrRemove(99)
	assert.Equal(t, before, c.Selection(), "absent id must be a no-op")
}

func TestRemoveCompletelyAndClear(t *testing.T) {
	c := New(nil)
	c.Add(item(3, 20))
	c.Add(item(3, 20))
	c.Add(item(4, 25))

	c.RemoveCompletely(3)
	assert.Equal(t, []domain.SelectionLine{{ItemID: 4, Quantity: 1}}, c.Selection())
	c.RemoveCompletely(3)

	c.Clear()
	assert.Empty(t, c.Lines())
	assert.True(t, c.Subtotal().IsZero())
}

func TestDerivedViewsFollowMutations(t *testing.T) {
	c := New(nil)
	c.Add(item(1, 10))
	c.Add(item(2, 15))
	c.Add(item(2, 15))

	totals := c.LineTotals()
	assert.True(t, totals[1].Equal(decimal.NewFromInt(10)))
	assert.True(t, totals[2].Equal(decimal.NewFromInt(30)))

	c.DecrementOrRemove(2)
	assert.True(t, c.LineTotals()[2].Equal(decimal.NewFromInt(15)))
	assert.True(t, c.View().Subtotal.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 2, c.View().TotalItems)
}

func TestSubtotalMatchesLineTotalsForRandomSequences(t *testing.T) {
	catalog := DefaultCatalog()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		c := New(catalog)
		for step := 0; step < 200; step++ {
			id := rng.Intn(17) + 1
			if rng.Intn(3) == 0 {
				c.DecrementOrRemove(id)
				continue
			}
			if it, ok := catalog.Lookup(id); ok {
				c.Add(it)
			}
		}

		sum := decimal.Zero
		for _, total := range c.LineTotals() {
			sum = sum.Add(total)
		}
		require.True(t, sum.Equal(c.Subtotal()), "run %d: %s != %s", run, sum, c.Subtotal())
		require.False(t, c.Subtotal().IsNegative())
		for _, sel := range c.Selection() {
			require.Positive(t, sel.Quantity)
		}
	}
}

func TestAddByIDRejectsUnknownItem(t *testing.T) {
	c := New(DefaultCatalog())
	_, err := c.AddByID(42)
	require.ErrorIs(t, err, ErrUnknownItem)

	it, err := c.AddByID(15)
	require.NoError(t, err)
	assert.Equal(t, "Item 15", it.Name)
	assert.True(t, it.Price.Equal(decimal.NewFromInt(80)))
}

func TestRestoreDropsUnknownAndMergesDuplicates(t *testing.T) {
	c := New(DefaultCatalog())
	dropped := c.Restore([]domain.SelectionLine{
		{ItemID: 1, Quantity: 2},
		{ItemID: 99, Quantity: 1},
		{ItemID: 2, Quantity: 0},
		{ItemID: 1, Quantity: 1},
	})

	assert.Equal(t, 2, dropped)
	assert.Equal(t, []domain.SelectionLine{{ItemID: 1, Quantity: 3}}, c.Selection())
}

func TestDrainEmptiesCart(t *testing.T) {
	c := New(nil)
	c.Add(item(1, 10))

	lines := c.Drain()
	require.Len(t, lines, 1)
	assert.Empty(t, c.Selection())
}

func TestNewCatalogValidation(t *testing.T) {
	_, err := NewCatalog([]domain.MenuItem{item(1, 1), item(1, 2)})
	require.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = NewCatalog([]domain.MenuItem{item(1, -1)})
	require.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = NewCatalog(nil)
	require.ErrorIs(t, err, ErrInvalidCatalog)
}
