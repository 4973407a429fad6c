package scheme

import (
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

var (
	hundred      = decimal.NewFromInt(100)
	quantityStep = decimal.NewFromInt(1)
	valueStep    = decimal.New(1, -2)
)

// Validate checks every data-model invariant of d and returns a
// *ConfigurationError describing the first violation.
func (d Definition) Validate() error {
	if d.decodeErr != nil {
		return &ConfigurationError{SchemeID: d.ID, Reason: "undecodable configuration payload", Err: d.decodeErr}
	}

	err := validation.ValidateStruct(&d,
		validation.Field(&d.ID, validation.Required),
		validation.Field(&d.Name, validation.Required),
		validation.Field(&d.Type, validation.Required, validation.In(
			TypeSlab, TypeBuyXGetY, TypeCombo, TypeBillWise, TypeValueWise, TypeDisplay,
		)),
		validation.Field(&d.Applicability, validation.Required, validation.In(
			ApplicabilityAllOutlets, ApplicabilityDistributor, ApplicabilityRetailer,
			ApplicabilitySegment, ApplicabilityZone,
		)),
		validation.Field(&d.Status, validation.Required, validation.In(
			StatusActive, StatusPending, StatusInactive,
		)),
		validation.Field(&d.StartDate, validation.Required),
		validation.Field(&d.EndDate, validation.Required),
	)
	if err != nil {
		return &ConfigurationError{SchemeID: d.ID, Reason: "invalid definition", Err: err}
	}

	switch {
	case d.EndDate.Before(d.StartDate):
		return configErr(d.ID, "end date precedes start date")
	case d.MinOrderValue.IsNegative():
		return configErr(d.ID, "min order value must not be negative")
	case d.MaxBenefit.IsNegative():
		return configErr(d.ID, "max benefit must not be negative")
	case (d.Applicability == ApplicabilitySegment || d.Applicability == ApplicabilityZone) && len(d.Targets) == 0:
		return configErr(d.ID, "%s applicability requires at least one target", d.Applicability)
	case d.Config == nil:
		return configErr(d.ID, "missing configuration payload")
	case d.Config.Type() != d.Type:
		return configErr(d.ID, "configuration payload %q does not match type %q", d.Config.Type(), d.Type)
	}

	v := &configValidator{id: d.ID}
	Visit(d.Config, v)
	if v.err != nil {
		return v.err
	}
	return nil
}

type configValidator struct {
	id  string
	err *ConfigurationError
}

func (v *configValidator) fail(format string, args ...any) {
	v.err = configErr(v.id, format, args...)
}

func (v *configValidator) VisitSlab(c SlabConfig) {
	switch c.Basis {
	case BasisQuantity:
		v.tiers(c.Tiers, quantityStep)
	case BasisValue:
		v.tiers(c.Tiers, valueStep)
	default:
		v.fail("unknown slab basis %q", c.Basis)
	}
}

func (v *configValidator) VisitValueWise(c ValueWiseConfig) {
	v.tiers(c.Tiers, valueStep)
}

func (v *configValidator) VisitBuyXGetY(c BuyXGetYConfig) {
	switch {
	case c.BuyProductID == "":
		v.fail("buy product is required")
	case c.BuyQuantity < 1:
		v.fail("buy quantity must be at least 1")
	case c.GetProductID == "":
		v.fail("get product is required")
	case c.GetQuantity < 1:
		v.fail("get quantity must be at least 1")
	case c.MaxFreeQuantity < 0:
		v.fail("max free quantity must not be negative")
	}
}

func (v *configValidator) VisitCombo(c ComboConfig) {
	if len(c.Items) == 0 {
		v.fail("combo has no items")
		return
	}
	seen := make(map[string]struct{}, len(c.Items))
	for _, item := range c.Items {
		if item.ProductID == "" {
			v.fail("combo item without product")
			return
		}
		if item.RequiredQuantity < 1 {
			v.fail("combo item %s requires quantity of at least 1", item.ProductID)
			return
		}
		if _, dup := seen[item.ProductID]; dup {
			v.fail("combo lists product %s twice", item.ProductID)
			return
		}
		seen[item.ProductID] = struct{}{}
	}

	switch {
	case c.Price == nil && c.Discount == nil:
		v.fail("combo sets neither price nor discount")
	case c.Price != nil && c.Discount != nil:
		v.fail("combo sets both price and discount")
	case c.Price != nil && c.Price.IsNegative():
		v.fail("combo price must not be negative")
	case c.Discount != nil && (!c.Discount.IsPositive() || c.Discount.GreaterThan(hundred)):
		v.fail("combo discount must be in (0, 100]")
	}
}

func (v *configValidator) VisitBillWise(c BillWiseConfig) {
	if c.MinBillAmount.IsNegative() {
		v.fail("min bill amount must not be negative")
		return
	}
	if c.RewardValue.IsNegative() {
		v.fail("reward value must not be negative")
		return
	}
	switch c.RewardType {
	case RewardCash:
	case RewardDiscount:
		if c.RewardValue.GreaterThan(hundred) {
			v.fail("discount reward must not exceed 100 percent")
		}
	case RewardProduct:
		if c.RewardProductID == "" {
			v.fail("product reward requires a reward product")
		} else if !c.RewardValue.IsInteger() || c.RewardValue.LessThan(quantityStep) {
			v.fail("product reward value must be a whole quantity of at least 1")
		}
	default:
		v.fail("unknown reward type %q", c.RewardType)
	}
}

func (v *configValidator) VisitDisplay(DisplayConfig) {}

// tiers enforces that tiers, sorted by Min, are well formed, do not overlap
// and leave no gap wider than step between neighbours.
func (v *configValidator) tiers(tiers []Tier, step decimal.Decimal) {
	if len(tiers) == 0 {
		v.fail("no tiers configured")
		return
	}
	sorted := sortTiers(tiers)
	for i, t := range sorted {
		switch {
		case t.Min.IsNegative():
			v.fail("tier %d has negative lower bound", i)
			return
		case t.Max.LessThan(t.Min):
			v.fail("tier [%s, %s] has upper bound below lower bound", t.Min, t.Max)
			return
		case t.Percent.IsNegative() || t.Percent.GreaterThan(hundred):
			v.fail("tier [%s, %s] percent must be in [0, 100]", t.Min, t.Max)
			return
		case t.Amount.IsNegative():
			v.fail("tier [%s, %s] amount must not be negative", t.Min, t.Max)
			return
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if !t.Min.GreaterThan(prev.Max) {
			v.fail("tiers [%s, %s] and [%s, %s] overlap", prev.Min, prev.Max, t.Min, t.Max)
			return
		}
		if t.Min.Sub(prev.Max).GreaterThan(step) {
			v.fail("gap between tiers [%s, %s] and [%s, %s]", prev.Min, prev.Max, t.Min, t.Max)
			return
		}
	}
}

func sortTiers(tiers []Tier) []Tier {
	sorted := cloneTiers(tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Min.LessThan(sorted[j].Min)
	})
	return sorted
}
