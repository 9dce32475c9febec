package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"

	"prompos/terminal/internal/domain"
)

var (
	ErrUnknownItem    = errors.New("unknown menu item")
	ErrInvalidCatalog = errors.New("invalid catalog")
)

const defaultImage = "default-image.jpg"

// Catalog is the immutable menu loaded at startup.
type Catalog struct {
	items []domain.MenuItem
	byID  map[int]domain.MenuItem
}

func NewCatalog(items []domain.MenuItem) (*Catalog, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidCatalog)
	}
	byID := make(map[int]domain.MenuItem, len(items))
	ordered := make([]domain.MenuItem, 0, len(items))
	for _, item := range items {
		if item.ID <= 0 {
			return nil, fmt.Errorf("%w: item %q has non-positive id %d", ErrInvalidCatalog, item.Name, item.ID)
		}
		if _, dup := byID[item.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %d", ErrInvalidCatalog, item.ID)
		}
		if item.Price.IsNegative() {
			return nil, fmt.Errorf("%w: item %d has negative price", ErrInvalidCatalog, item.ID)
		}
		byID[item.ID] = item
		ordered = append(ordered, item)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	return &Catalog{items: ordered, byID: byID}, nil
}

// DefaultCatalog is the built-in 15-item menu, priced 10 to 80 in steps of 5.
func DefaultCatalog() *Catalog {
	items := make([]domain.MenuItem, 0, 15)
	for i := 1; i <= 15; i++ {
		items = append(items, domain.MenuItem{
			ID:    i,
			Name:  fmt.Sprintf("Item %d", i),
			Price: decimal.NewFromInt(int64(5 + 5*i)),
			Image: defaultImage,
		})
	}
	catalog, _ := NewCatalog(items)
	return catalog
}

// LoadCatalogFile reads a JSON array of menu items.
func LoadCatalogFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu file: %w", err)
	}
	var items []domain.MenuItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return NewCatalog(items)
}

func (c *Catalog) Items() []domain.MenuItem {
	out := make([]domain.MenuItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Catalog) Lookup(id int) (domain.MenuItem, bool) {
	item, ok := c.byID[id]
	return item, ok
}
