package cart

import (
	"sync"

	"github.com/shopspring/decimal"

	"prompos/terminal/internal/domain"
)

type line struct {
	item     domain.MenuItem
	quantity int
}

// Cart holds the in-progress selection. At most one line exists per item id
// and a line disappears when its quantity reaches zero. Totals are derived
// on every read.
type Cart struct {
	mu      sync.Mutex
	catalog *Catalog
	lines   []line
}

func New(catalog *Catalog) *Cart {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Cart{catalog: catalog}
}

func (c *Cart) Catalog() *Catalog {
	return c.catalog
}

// Add increments the line for item, inserting it with quantity 1 when absent.
func (c *Cart) Add(item domain.MenuItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indexOf(item.ID); idx >= 0 {
		c.lines[idx].quantity++
		return
	}
	c.lines = append(c.lines, line{item: item, quantity: 1})
}

// AddByID resolves id against the catalog before adding.
func (c *Cart) AddByID(id int) (domain.MenuItem, error) {
	item, ok := c.catalog.Lookup(id)
	if !ok {
		return domain.MenuItem{}, ErrUnknownItem
	}
	c.Add(item)
	return item, nil
}

// DecrementOrRemove is a no-op for an id that is not in the selection.
func (c *Cart) DecrementOrRemove(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(id)
	if idx < 0 {
		return
	}
	if c.lines[idx].quantity > 1 {
		c.lines[idx].quantity--
		return
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
}

func (c *Cart) RemoveCompletely(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indexOf(id); idx >= 0 {
		c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	}
}

func (c *Cart) Clear() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

// Selection is the persisted form of the cart.
func (c *Cart) Selection() []domain.SelectionLine {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.SelectionLine, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, domain.SelectionLine{ItemID: l.item.ID, Quantity: l.quantity})
	}
	return out
}

// Restore replaces the selection, resolving ids against the catalog. Lines
// for unknown ids or with non-positive quantities are dropped and counted.
func (c *Cart) Restore(selection []domain.SelectionLine) (dropped int) {
	restored := make([]line, 0, len(selection))
	seen := make(map[int]int, len(selection))
	for _, sel := range selection {
		item, ok := c.catalog.Lookup(sel.ItemID)
		if !ok || sel.Quantity <= 0 {
			dropped++
			continue
		}
		if idx, dup := seen[sel.ItemID]; dup {
			restored[idx].quantity += sel.Quantity
			continue
		}
		seen[sel.ItemID] = len(restored)
		restored = append(restored, line{item: item, quantity: sel.Quantity})
	}

	c.mu.Lock()
	c.lines = restored
	c.mu.Unlock()
	return dropped
}

func (c *Cart) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolvedLocked()
}

// Drain returns the current lines and empties the cart in one step.
func (c *Cart) Drain() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.resolvedLocked()
	c.lines = nil
	return out
}

// LineTotals maps item id to price times quantity.
func (c *Cart) LineTotals() map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal)
	for _, l := range c.Lines() {
		out[l.Item.ID] = l.TotalPrice
	}
	return out
}

func (c *Cart) Subtotal() decimal.Decimal {
	return Subtotal(c.Lines())
}

func (c *Cart) TotalUnits() int {
	return TotalUnits(c.Lines())
}

func (c *Cart) View() domain.CartView {
	lines := c.Lines()
	return domain.CartView{
		Lines:      lines,
		Subtotal:   Subtotal(lines),
		TotalItems: TotalUnits(lines),
	}
}

func Subtotal(lines []domain.CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.TotalPrice)
	}
	return sum
}

func TotalUnits(lines []domain.CartLine) int {
	units := 0
	for _, l := range lines {
		units += l.Quantity
	}
	return units
}

func (c *Cart) indexOf(id int) int {
	for i, l := range c.lines {
		if l.item.ID == id {
			return i
		}
	}
	return -1
}

func (c *Cart) resolvedLocked() []domain.CartLine {
	out := make([]domain.CartLine, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, domain.CartLine{
			Item:       l.item,
			Quantity:   l.quantity,
			TotalPrice: l.item.Price.Mul(decimal.NewFromInt(int64(l.quantity))),
		})
	}
	return out
}
