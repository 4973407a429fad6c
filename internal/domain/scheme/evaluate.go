package scheme

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/xenking/sfa-scheme-engine/internal/domain/cart"
)

// Evaluate computes the benefit d grants to c. It returns (nil, nil) when the
// scheme does not trigger and a *ConfigurationError when d is invalid.
//
// Every scheme sees the full, unmodified cart: Evaluate never looks at other
// schemes' results.
func Evaluate(d Definition, c cart.Cart) (*Applied, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	subtotal := c.Subtotal()
	if d.MinOrderValue.IsPositive() && subtotal.LessThan(d.MinOrderValue) {
		return nil, nil
	}

	e := &evaluator{def: d, cart: c, subtotal: subtotal}
	Visit(d.Config, e)
	return e.applied, nil
}

type evaluator struct {
	def      Definition
	cart     cart.Cart
	subtotal decimal.Decimal
	applied  *Applied
}

func (e *evaluator) VisitSlab(c SlabConfig) {
	metric := e.subtotal
	if c.Basis == BasisQuantity {
		metric = decimal.NewFromInt(int64(e.cart.TotalQuantity()))
	}
	tier, ok := matchTier(c.Tiers, metric)
	if !ok {
		return
	}
	e.discount(tierBenefit(tier, e.subtotal),
		fmt.Sprintf("cart %s %s falls in slab [%s, %s]: %s", c.Basis, metric, tier.Min, tier.Max, describeTier(tier)))
}

func (e *evaluator) VisitValueWise(c ValueWiseConfig) {
	tier, ok := matchTier(c.Tiers, e.subtotal)
	if !ok {
		return
	}
	e.discount(tierBenefit(tier, e.subtotal),
		fmt.Sprintf("cart value %s falls in tier [%s, %s]: %s", e.subtotal, tier.Min, tier.Max, describeTier(tier)))
}

func (e *evaluator) VisitBuyXGetY(c BuyXGetYConfig) {
	eligible := e.cart.QuantityOf(c.BuyProductID)
	triggers := eligible / c.BuyQuantity
	free := math.MaxInt
	if triggers <= math.MaxInt/c.GetQuantity {
		free = triggers * c.GetQuantity
	}
	if c.MaxFreeQuantity > 0 && free > c.MaxFreeQuantity {
		free = c.MaxFreeQuantity
	}
	if free <= 0 {
		return
	}
	e.freeGoods(c.GetProductID, free,
		fmt.Sprintf("buy %d of %s get %d of %s: %d in cart, %d free",
			c.BuyQuantity, c.BuyProductID, c.GetQuantity, c.GetProductID, eligible, free))
}

// VisitCombo prices one bundle: the required units of each component, not
// every unit of it in the cart.
func (e *evaluator) VisitCombo(c ComboConfig) {
	bundle := decimal.Zero
	for _, item := range c.Items {
		if e.cart.QuantityOf(item.ProductID) < item.RequiredQuantity {
			return
		}
		bundle = bundle.Add(e.cart.ValueOfUnits(item.ProductID, item.RequiredQuantity))
	}

	if c.Price != nil {
		e.discount(bundle.Sub(*c.Price),
			fmt.Sprintf("combo %s complete: bundle %s priced at %s", c.Name, bundle, c.Price))
		return
	}
	e.discount(percentOf(bundle, *c.Discount),
		fmt.Sprintf("combo %s complete: %s%% off bundle %s", c.Name, c.Discount, bundle))
}

func (e *evaluator) VisitBillWise(c BillWiseConfig) {
	if e.subtotal.LessThan(c.MinBillAmount) {
		return
	}
	switch c.RewardType {
	case RewardDiscount:
		e.discount(percentOf(e.subtotal, c.RewardValue),
			fmt.Sprintf("bill %s reaches %s: %s%% off", e.subtotal, c.MinBillAmount, c.RewardValue))
	case RewardCash:
		e.discount(c.RewardValue,
			fmt.Sprintf("bill %s reaches %s: %s cash reward", e.subtotal, c.MinBillAmount, c.RewardValue))
	case RewardProduct:
		qty := int(c.RewardValue.IntPart())
		e.freeGoods(c.RewardProductID, qty,
			fmt.Sprintf("bill %s reaches %s: %d of %s free", e.subtotal, c.MinBillAmount, qty, c.RewardProductID))
	}
}

// VisitDisplay never triggers: display schemes are settled outside the cart.
func (e *evaluator) VisitDisplay(DisplayConfig) {}

// discount records a monetary benefit capped at the scheme's max benefit and
// rounded to 2 dp. Non-positive amounts do not trigger the scheme.
func (e *evaluator) discount(amount decimal.Decimal, explanation string) {
	if e.def.MaxBenefit.IsPositive() && amount.GreaterThan(e.def.MaxBenefit) {
		amount = e.def.MaxBenefit
		explanation += fmt.Sprintf(" (capped at %s)", e.def.MaxBenefit)
	}
	amount = roundMoney(amount)
	if !amount.IsPositive() {
		return
	}
	e.applied = e.newApplied(Benefit{DiscountAmount: amount}, explanation)
}

func (e *evaluator) freeGoods(productID string, qty int, explanation string) {
	if qty <= 0 {
		return
	}
	e.applied = e.newApplied(Benefit{
		DiscountAmount: decimal.Zero,
		FreeGoods:      []FreeGoods{{ProductID: productID, Quantity: qty}},
	}, explanation)
}

func (e *evaluator) newApplied(b Benefit, explanation string) *Applied {
	return &Applied{
		SchemeID:    e.def.ID,
		SchemeName:  e.def.Name,
		Type:        e.def.Type,
		Benefit:     b,
		Explanation: explanation,
	}
}

// matchTier returns the tier whose inclusive [Min, Max] contains metric.
func matchTier(tiers []Tier, metric decimal.Decimal) (Tier, bool) {
	for _, t := range sortTiers(tiers) {
		if metric.GreaterThanOrEqual(t.Min) && metric.LessThanOrEqual(t.Max) {
			return t, true
		}
	}
	return Tier{}, false
}

// tierBenefit applies a tier to the monetary basis. Percent takes precedence
// over Amount when both are set.
func tierBenefit(t Tier, basis decimal.Decimal) decimal.Decimal {
	if !t.Percent.IsZero() {
		return percentOf(basis, t.Percent)
	}
	return t.Amount
}

func describeTier(t Tier) string {
	if !t.Percent.IsZero() {
		return t.Percent.String() + "% off"
	}
	return t.Amount.String() + " off"
}

func percentOf(basis, percent decimal.Decimal) decimal.Decimal {
	return basis.Mul(percent).Div(hundred)
}

// roundMoney clamps negative values to zero and rounds to 2 dp.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}
