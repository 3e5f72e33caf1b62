package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CartLine is one menu item and its quantity within a cart.
type CartLine struct {
	ItemID    string          `json:"itemId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Qty       int             `json:"qty"`
}

// Subtotal returns unitPrice × qty.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Cart holds at most one line per item, in the order items were first added.
// The zero value is an empty cart.
type Cart struct {
	Lines []CartLine `json:"lines"`
}

// ErrInvalidCart is wrapped by Validate failures.
var ErrInvalidCart = errors.New("invalid cart")

// Total returns the exact sum of all line subtotals.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ItemCount returns the number of units across all lines.
func (c Cart) ItemCount() int {
	var n int
	for _, l := range c.Lines {
		n += l.Qty
	}
	return n
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// IndexOf returns the index of the line for itemID or -1.
func (c Cart) IndexOf(itemID string) int {
	for i := range c.Lines {
		if c.Lines[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (c Cart) Clone() Cart {
	if c.Lines == nil {
		return Cart{}
	}
	lines := make([]CartLine, len(c.Lines))
	copy(lines, c.Lines)
	return Cart{Lines: lines}
}

// Add increments the quantity of an existing line for item, or appends a
// new line with qty 1. The line's name and price are kept from the first add.
func (c *Cart) Add(item MenuItem) {
	if i := c.IndexOf(item.ItemID); i >= 0 {
		c.Lines[i].Qty++
		return
	}
	c.Lines = append(c.Lines, CartLine{
		ItemID:    item.ItemID,
		Name:      item.Name,
		UnitPrice: item.UnitPrice,
		Qty:       1,
	})
}

// Remove drops the whole line for itemID and reports whether it existed.
func (c *Cart) Remove(itemID string) bool {
	i := c.IndexOf(itemID)
	if i < 0 {
		return false
	}
	c.Lines = append(c.Lines[:i:i], c.Lines[i+1:]...)
	return true
}

// Decrement lowers the quantity of itemID by one, removing the line when it
// reaches zero. It reports whether the cart changed.
func (c *Cart) Decrement(itemID string) bool {
	i := c.IndexOf(itemID)
	if i < 0 {
		return false
	}
	if c.Lines[i].Qty <= 1 {
		return c.Remove(itemID)
	}
	c.Lines[i].Qty--
	return true
}

// Validate checks the structural invariants of a decoded cart.
func (c Cart) Validate() error {
	seen := make(map[string]struct{}, len(c.Lines))
	for i, l := range c.Lines {
		switch {
		case l.ItemID == "":
			return fmt.Errorf("%w: line %d has no itemId", ErrInvalidCart, i)
		case l.Qty < 1:
			return fmt.Errorf("%w: line %q has qty %d", ErrInvalidCart, l.ItemID, l.Qty)
		case l.UnitPrice.IsNegative():
			return fmt.Errorf("%w: line %q has negative price", ErrInvalidCart, l.ItemID)
		}
		if _, dup := seen[l.ItemID]; dup {
			return fmt.Errorf("%w: duplicate line %q", ErrInvalidCart, l.ItemID)
		}
		seen[l.ItemID] = struct{}{}
	}
	return nil
}
