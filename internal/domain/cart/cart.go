// Package cart holds the immutable cart snapshot that one scheme calculation
// pass runs against.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Line is a single cart row. Lines are values; a calculation never mutates them.
type Line struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku,omitempty"`
	Category  string          `json:"category,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Total returns quantity * unit price.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an ordered list of lines. The same product may appear on several
// lines; per-product helpers sum across them.
type Cart []Line

// InvalidLineError indicates a cart line that violates the cart contract.
type InvalidLineError struct {
	Index     int
	ProductID string
	Reason    string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("cart line %d (product %q): %s", e.Index, e.ProductID, e.Reason)
}

// Validate checks that every line has a product, a positive quantity and a
// non-negative unit price.
func (c Cart) Validate() error {
	for i, l := range c {
		switch {
		case l.ProductID == "":
			return &InvalidLineError{Index: i, Reason: "product id is required"}
		case l.Quantity <= 0:
			return &InvalidLineError{Index: i, ProductID: l.ProductID, Reason: "quantity must be greater than 0"}
		case l.UnitPrice.IsNegative():
			return &InvalidLineError{Index: i, ProductID: l.ProductID, Reason: "unit price must not be negative"}
		}
	}
	return nil
}

// Subtotal returns the sum of all line totals.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c {
		sum = sum.Add(l.Total())
	}
	return sum
}

// TotalQuantity returns the sum of quantities across all lines.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, l := range c {
		total += l.Quantity
	}
	return total
}

// QuantityOf returns the quantity of productID across all lines.
func (c Cart) QuantityOf(productID string) int {
	total := 0
	for _, l := range c {
		if l.ProductID == productID {
			total += l.Quantity
		}
	}
	return total
}

// ValueOfUnits returns the value of the first n units of productID, taking
// units in line order. It returns the value of every unit when the cart holds
// fewer than n.
func (c Cart) ValueOfUnits(productID string, n int) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c {
		if n <= 0 {
			break
		}
		if l.ProductID != productID {
			continue
		}
		take := min(l.Quantity, n)
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(take))))
		n -= take
	}
	return sum
}

// Clone returns a copy that shares no backing array with c.
func (c Cart) Clone() Cart {
	if c == nil {
		return nil
	}
	out := make(Cart, len(c))
	copy(out, c)
	return out
}
