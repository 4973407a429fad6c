// Package calculation runs scheme calculation passes over a cart, keeps the
// override ledger of an in-progress order and snapshots the final result when
// the order is submitted.
package calculation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

// Result is the outcome of one calculation pass with the session's overrides
// applied on top.
type Result struct {
	AsOf     time.Time       `json:"as_of"`
	Subtotal decimal.Decimal `json:"subtotal"`
	// Applied is in scheme list order. The order is for display only.
	Applied []scheme.Applied `json:"applied_schemes"`
	// ComputedDiscount is the capped sum of computed benefits, ignoring
	// overrides.
	ComputedDiscount decimal.Decimal `json:"computed_discount"`
	// TotalDiscount is the capped sum of effective benefits: the override
	// value where one exists, the computed value otherwise.
	TotalDiscount  decimal.Decimal     `json:"total_discount"`
	TotalFreeGoods []scheme.FreeGoods  `json:"total_free_goods"`
	Overrides      map[string]Override `json:"overrides"`
	Diagnostics    []scheme.Diagnostic `json:"diagnostics,omitempty"`
}

// newResult aggregates applied benefits under ledger.
func newResult(asOf time.Time, subtotal decimal.Decimal, applied []scheme.Applied, diags []scheme.Diagnostic, ledger Ledger) *Result {
	r := &Result{
		AsOf:        asOf,
		Subtotal:    subtotal,
		Applied:     applied,
		Diagnostics: diags,
	}
	r.ComputedDiscount, _ = aggregate(subtotal, applied, Ledger{})
	r.TotalDiscount, r.TotalFreeGoods = aggregate(subtotal, applied, ledger)
	r.Overrides = ledger.Map()
	return r
}

// WithLedger returns a copy of r with effective totals recomputed under l.
// The applied set and computed values are unchanged.
func (r *Result) WithLedger(l Ledger) *Result {
	c := r.Clone()
	return newResult(c.AsOf, c.Subtotal, c.Applied, c.Diagnostics, l)
}

// Total is the order total after effective discounts. It is never negative.
func (r *Result) Total() decimal.Decimal {
	return r.Subtotal.Sub(r.TotalDiscount)
}

// AppliedScheme returns the applied entry for schemeID.
func (r *Result) AppliedScheme(schemeID string) (scheme.Applied, bool) {
	for _, a := range r.Applied {
		if a.SchemeID == schemeID {
			return a, true
		}
	}
	return scheme.Applied{}, false
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Applied != nil {
		c.Applied = make([]scheme.Applied, len(r.Applied))
		for i, a := range r.Applied {
			a.Benefit = a.Benefit.Clone()
			c.Applied[i] = a
		}
	}
	if r.TotalFreeGoods != nil {
		c.TotalFreeGoods = make([]scheme.FreeGoods, len(r.TotalFreeGoods))
		copy(c.TotalFreeGoods, r.TotalFreeGoods)
	}
	if r.Diagnostics != nil {
		c.Diagnostics = make([]scheme.Diagnostic, len(r.Diagnostics))
		copy(c.Diagnostics, r.Diagnostics)
	}
	c.Overrides = make(map[string]Override, len(r.Overrides))
	for id, o := range r.Overrides {
		c.Overrides[id] = cloneOverride(o)
	}
	return &c
}

// aggregate sums effective discounts, capped at subtotal, and merges free
// goods by product. Every applied scheme is counted independently: stacking
// is additive and no scheme reduces another's basis.
func aggregate(subtotal decimal.Decimal, applied []scheme.Applied, ledger Ledger) (decimal.Decimal, []scheme.FreeGoods) {
	var (
		discount = decimal.Zero
		free     = map[string]int{}
	)
	for _, a := range applied {
		b := a.Benefit
		if o, ok := ledger.Get(a.SchemeID); ok {
			b = o.effective()
		}
		discount = discount.Add(b.DiscountAmount)
		for _, fg := range b.FreeGoods {
			free[fg.ProductID] += fg.Quantity
		}
	}

	discount = discount.Round(2)
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount, mergeFreeGoods(free)
}

// mergeFreeGoods returns one line per product, sorted by product id so the
// result does not depend on scheme order.
func mergeFreeGoods(free map[string]int) []scheme.FreeGoods {
	out := make([]scheme.FreeGoods, 0, len(free))
	for id, qty := range free {
		if qty <= 0 {
			continue
		}
		out = append(out, scheme.FreeGoods{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
