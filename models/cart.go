package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Addon is a named extra on a cart line, e.g. "extra cheese".
type Addon struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// CartLine prices are captured when the line is added and never re-fetched.
type CartLine struct {
	ID         string          `json:"id"`
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	Addons     []Addon         `json:"addons,omitempty"`
}

// Cart is the single active cart of a customer. Lines are stored inline.
type Cart struct {
	ID           string          `json:"id" gorm:"primaryKey;size:36"`
	OwnerID      string          `json:"owner_id" gorm:"uniqueIndex;not null;size:64"`
	RestaurantID string          `json:"restaurant_id" gorm:"not null;size:64"`
	Lines        []CartLine      `json:"lines" gorm:"serializer:json"`
	TotalAmount  decimal.Decimal `json:"total_amount" gorm:"type:decimal(12,2)"`
	Version      int             `json:"-" gorm:"not null;default:1"`
	LastUpdated  time.Time       `json:"last_updated"`
	CreatedAt    time.Time       `json:"created_at"`

	// CheckedOutVersion is the cart version of the last order whose lines
	// were withdrawn from this cart while newer lines stayed behind.
	CheckedOutVersion int `json:"-" gorm:"not null;default:0"`
}

// AddonTotal is the sum of all addon prices for one unit of the line.
func (l CartLine) AddonTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range l.Addons {
		sum = sum.Add(a.Price)
	}
	return sum
}

// EffectiveUnitPrice is the base price plus addons for a single unit.
func (l CartLine) EffectiveUnitPrice() decimal.Decimal {
	return l.UnitPrice.Add(l.AddonTotal())
}

// Subtotal is (unit price + addons) * quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.EffectiveUnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// SameSelection reports whether two lines describe the same menu item with the
// same addon set. Addon order does not matter.
func (l CartLine) SameSelection(menuItemID string, addons []Addon) bool {
	if l.MenuItemID != menuItemID || len(l.Addons) != len(addons) {
		return false
	}
	a, b := sortedAddons(l.Addons), sortedAddons(addons)
	for i := range a {
		if a[i].Name != b[i].Name || !a[i].Price.Equal(b[i].Price) {
			return false
		}
	}
	return true
}

func sortedAddons(in []Addon) []Addon {
	out := make([]Addon, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// Recalculate recomputes TotalAmount from the lines and stamps LastUpdated.
// Every cart mutation goes through it so the total is never stale.
func (c *Cart) Recalculate(now time.Time) {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	c.TotalAmount = total
	c.LastUpdated = now
}

// LineIndex returns the position of the line with the given id, or -1.
func (c *Cart) LineIndex(lineID string) int {
	for i, l := range c.Lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func (c *Cart) IsEmpty() bool { return c == nil || len(c.Lines) == 0 }
