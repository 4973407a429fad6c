package calculation

import (
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

// OverrideBenefit is a manually entered replacement for a computed benefit.
type OverrideBenefit struct {
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FreeQuantity   int             `json:"free_quantity"`
}

// Override replaces the effective benefit of one applied scheme. The computed
// benefit is kept verbatim in Original.
type Override struct {
	SchemeID string          `json:"scheme_id"`
	Original scheme.Benefit  `json:"original"`
	Benefit  OverrideBenefit `json:"override"`
	Reason   string          `json:"reason"`
	Actor    string          `json:"actor"`
	At       time.Time       `json:"at"`
}

// effective returns the benefit the override grants in place of the original.
// Free goods keep the product of the original free-goods line.
func (o Override) effective() scheme.Benefit {
	b := scheme.Benefit{DiscountAmount: o.Benefit.DiscountAmount}
	if o.Benefit.FreeQuantity > 0 && len(o.Original.FreeGoods) > 0 {
		b.FreeGoods = []scheme.FreeGoods{{
			ProductID: o.Original.FreeGoods[0].ProductID,
			Quantity:  o.Benefit.FreeQuantity,
		}}
	}
	return b
}

// OverrideRequest asks to replace the benefit of SchemeID.
type OverrideRequest struct {
	SchemeID string
	Benefit  OverrideBenefit
	Reason   string
	Actor    string
}

// Ledger is an immutable set of overrides keyed by scheme id. The zero value
// is an empty ledger. Every mutation returns a new Ledger.
type Ledger struct {
	entries map[string]Override
}

// NewLedger builds a ledger from overrides. Later entries win on duplicate ids.
func NewLedger(overrides ...Override) Ledger {
	l := Ledger{}
	for _, o := range overrides {
		l = l.With(o)
	}
	return l
}

// Len returns the number of overrides.
func (l Ledger) Len() int { return len(l.entries) }

// Get returns the override for schemeID.
func (l Ledger) Get(schemeID string) (Override, bool) {
	o, ok := l.entries[schemeID]
	if !ok {
		return Override{}, false
	}
	return cloneOverride(o), true
}

// With returns a ledger where o replaces any existing override of its scheme.
func (l Ledger) With(o Override) Ledger {
	next := l.copyEntries(len(l.entries) + 1)
	next[o.SchemeID] = cloneOverride(o)
	return Ledger{entries: next}
}

// Without returns a ledger without the override of schemeID and whether one
// was present.
func (l Ledger) Without(schemeID string) (Ledger, bool) {
	if _, ok := l.entries[schemeID]; !ok {
		return l, false
	}
	next := l.copyEntries(len(l.entries))
	delete(next, schemeID)
	return Ledger{entries: next}, true
}

// Retain keeps the overrides for which keep returns true and returns the
// dropped ones sorted by scheme id.
func (l Ledger) Retain(keep func(Override) bool) (Ledger, []Override) {
	var (
		next    = make(map[string]Override, len(l.entries))
		dropped []Override
	)
	for id, o := range l.entries {
		if keep(o) {
			next[id] = o
			continue
		}
		dropped = append(dropped, cloneOverride(o))
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].SchemeID < dropped[j].SchemeID })
	return Ledger{entries: next}, dropped
}

// Map returns a copy of the overrides keyed by scheme id.
func (l Ledger) Map() map[string]Override {
	out := make(map[string]Override, len(l.entries))
	for id, o := range l.entries {
		out[id] = cloneOverride(o)
	}
	return out
}

func (l Ledger) copyEntries(size int) map[string]Override {
	next := make(map[string]Override, size)
	for id, o := range l.entries {
		next[id] = o
	}
	return next
}

// AddOverride validates req against the applied set of r and returns the
// ledger with the new override. l is left untouched.
func AddOverride(r *Result, l Ledger, req OverrideRequest, at time.Time) (Ledger, Override, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return l, Override{}, validationErr("reason", ErrReasonRequired)
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return l, Override{}, validationErr("actor", ErrActorRequired)
	}

	applied, ok := r.AppliedScheme(req.SchemeID)
	if !ok {
		return l, Override{}, &ValidationError{
			Field:  "scheme_id",
			Reason: "scheme " + req.SchemeID + " is not applied",
			Err:    ErrSchemeNotApplied,
		}
	}

	switch {
	case req.Benefit.DiscountAmount.IsNegative():
		return l, Override{}, validationErr("discount_amount", errors.New("must not be negative"))
	case req.Benefit.FreeQuantity < 0:
		return l, Override{}, validationErr("free_quantity", errors.New("must not be negative"))
	case req.Benefit.FreeQuantity > 0 && len(applied.Benefit.FreeGoods) == 0:
		return l, Override{}, validationErr("free_quantity", errors.New("scheme grants no free goods"))
	}

	o := Override{
		SchemeID: req.SchemeID,
		Original: applied.Benefit.Clone(),
		Benefit: OverrideBenefit{
			DiscountAmount: req.Benefit.DiscountAmount.Round(2),
			FreeQuantity:   req.Benefit.FreeQuantity,
		},
		Reason: reason,
		Actor:  actor,
		At:     at,
	}
	return l.With(o), o, nil
}

// RemoveOverride returns l without the override of schemeID. Removing an
// absent override is a no-op.
func RemoveOverride(l Ledger, schemeID string) (Ledger, Override, bool) {
	o, ok := l.Get(schemeID)
	if !ok {
		return l, Override{}, false
	}
	next, _ := l.Without(schemeID)
	return next, o, true
}

func cloneOverride(o Override) Override {
	o.Original = o.Original.Clone()
	return o
}
