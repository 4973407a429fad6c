// Package scheme models promotional scheme definitions and computes the
// benefit a single scheme grants to a cart.
//
// A Definition carries exactly one variant payload (Config). The set of
// variants is closed: Config is sealed by an unexported method and every
// consumer dispatches through Visitor, so adding a variant without handling
// it everywhere fails to compile.
package scheme

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates the scheme variants.
type Type string

const (
	TypeSlab      Type = "slab"
	TypeBuyXGetY  Type = "buy_x_get_y"
	TypeCombo     Type = "combo"
	TypeBillWise  Type = "bill_wise"
	TypeValueWise Type = "value_wise"
	// TypeDisplay is informational only. Its compliance is settled by a field
	// proof workflow and it never contributes to a cart calculation.
	TypeDisplay Type = "display"
)

// Applicability scopes a scheme to a set of customers.
type Applicability string

const (
	ApplicabilityAllOutlets  Applicability = "all_outlets"
	ApplicabilityDistributor Applicability = "distributor"
	ApplicabilityRetailer    Applicability = "retailer"
	ApplicabilitySegment     Applicability = "segment"
	ApplicabilityZone        Applicability = "zone"
)

// Status is the authoring lifecycle state of a scheme.
type Status string

const (
	StatusActive   Status = "active"
	StatusPending  Status = "pending"
	StatusInactive Status = "inactive"
)

// CustomerType distinguishes the two kinds of ordering customer.
type CustomerType string

const (
	CustomerDistributor CustomerType = "distributor"
	CustomerRetailer    CustomerType = "retailer"
)

// Definition is an immutable snapshot of one authored scheme.
type Definition struct {
	ID                 string
	Name               string
	Code               string
	Type               Type
	Applicability      Applicability
	Targets            []string // segment or zone ids for Segment/Zone applicability
	CustomerCategories []string // optional allow-list of customer categories
	StartDate          time.Time
	EndDate            time.Time
	MinOrderValue      decimal.Decimal
	MaxBenefit         decimal.Decimal // 0 means uncapped
	Status             Status
	Config             Config

	// decodeErr records a payload that could not be decoded by the loader.
	decodeErr error
}

// Clone returns a deep copy of d.
func (d Definition) Clone() Definition {
	out := d
	out.Targets = cloneStrings(d.Targets)
	out.CustomerCategories = cloneStrings(d.CustomerCategories)
	if d.Config != nil {
		out.Config = d.Config.clone()
	}
	return out
}

// ActiveAt reports whether d is active and asOf falls on a calendar day
// within [StartDate, EndDate], both ends inclusive.
func (d Definition) ActiveAt(asOf time.Time) bool {
	if d.Status != StatusActive {
		return false
	}
	day := civilDay(asOf)
	return day >= civilDay(d.StartDate) && day <= civilDay(d.EndDate)
}

func civilDay(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// Customer is the ordering context a calculation runs for.
type Customer struct {
	ID       string       `json:"id"`
	Type     CustomerType `json:"type"`
	Category string       `json:"category,omitempty"`
}

// Repository supplies the schemes valid for evaluation. Implementations must
// return definitions owned by the caller: later edits to the scheme master
// must not be visible through a returned slice.
type Repository interface {
	Snapshot(ctx context.Context) ([]Definition, error)
}

// Config is the variant-specific payload of a Definition.
type Config interface {
	Type() Type
	accept(v Visitor)
	clone() Config
}

// Visitor dispatches over every Config variant.
type Visitor interface {
	VisitSlab(SlabConfig)
	VisitBuyXGetY(BuyXGetYConfig)
	VisitCombo(ComboConfig)
	VisitBillWise(BillWiseConfig)
	VisitValueWise(ValueWiseConfig)
	VisitDisplay(DisplayConfig)
}

// Visit calls the Visitor method matching c's variant.
func Visit(c Config, v Visitor) {
	c.accept(v)
}

// Basis selects the controlling metric of a slab scheme.
type Basis string

const (
	BasisQuantity Basis = "quantity"
	BasisValue    Basis = "value"
)

// Tier is one threshold band. Min and Max are both inclusive. When Percent
// and Amount are both non-zero, Percent wins.
type Tier struct {
	Min     decimal.Decimal `json:"min"`
	Max     decimal.Decimal `json:"max"`
	Percent decimal.Decimal `json:"percent"`
	Amount  decimal.Decimal `json:"amount"`
}

// SlabConfig grants a tiered benefit keyed on cart quantity or value.
type SlabConfig struct {
	Basis Basis  `json:"basis"`
	Tiers []Tier `json:"tiers"`
}

func (SlabConfig) Type() Type         { return TypeSlab }
func (c SlabConfig) accept(v Visitor) { v.VisitSlab(c) }
func (c SlabConfig) clone() Config {
	c.Tiers = cloneTiers(c.Tiers)
	return c
}

// ValueWiseConfig grants a tiered benefit keyed on cart subtotal.
type ValueWiseConfig struct {
	Tiers []Tier `json:"tiers"`
}

func (ValueWiseConfig) Type() Type         { return TypeValueWise }
func (c ValueWiseConfig) accept(v Visitor) { v.VisitValueWise(c) }
func (c ValueWiseConfig) clone() Config {
	c.Tiers = cloneTiers(c.Tiers)
	return c
}

// BuyXGetYConfig grants GetQuantity free units of GetProductID for every
// BuyQuantity units of BuyProductID in the cart.
type BuyXGetYConfig struct {
	BuyProductID    string `json:"buy_product_id"`
	BuyQuantity     int    `json:"buy_quantity"`
	GetProductID    string `json:"get_product_id"`
	GetQuantity     int    `json:"get_quantity"`
	MaxFreeQuantity int    `json:"max_free_quantity"` // 0 means uncapped
}

func (BuyXGetYConfig) Type() Type         { return TypeBuyXGetY }
func (c BuyXGetYConfig) accept(v Visitor) { v.VisitBuyXGetY(c) }
func (c BuyXGetYConfig) clone() Config    { return c }

// ComboItem is one required component of a combo.
type ComboItem struct {
	ProductID        string `json:"product_id"`
	RequiredQuantity int    `json:"required_quantity"`
}

// ComboConfig prices a bundle. Exactly one of Price and Discount is set.
type ComboConfig struct {
	Name     string           `json:"combo_name"`
	Items    []ComboItem      `json:"items"`
	Price    *decimal.Decimal `json:"combo_price,omitempty"`
	Discount *decimal.Decimal `json:"combo_discount,omitempty"` // percent
}

func (ComboConfig) Type() Type         { return TypeCombo }
func (c ComboConfig) accept(v Visitor) { v.VisitCombo(c) }
func (c ComboConfig) clone() Config {
	if c.Items != nil {
		items := make([]ComboItem, len(c.Items))
		copy(items, c.Items)
		c.Items = items
	}
	c.Price = cloneDecimalPtr(c.Price)
	c.Discount = cloneDecimalPtr(c.Discount)
	return c
}

// RewardType selects how a bill-wise reward value is interpreted.
type RewardType string

const (
	RewardCash     RewardType = "cash"
	RewardDiscount RewardType = "discount"
	RewardProduct  RewardType = "product"
)

// BillWiseConfig rewards carts whose subtotal reaches MinBillAmount.
type BillWiseConfig struct {
	MinBillAmount   decimal.Decimal `json:"min_bill_amount"`
	RewardType      RewardType      `json:"reward_type"`
	RewardValue     decimal.Decimal `json:"reward_value"`
	RewardProductID string          `json:"reward_product_id,omitempty"`
}

func (BillWiseConfig) Type() Type         { return TypeBillWise }
func (c BillWiseConfig) accept(v Visitor) { v.VisitBillWise(c) }
func (c BillWiseConfig) clone() Config    { return c }

// DisplayConfig describes a display scheme. It is carried for completeness
// and never evaluated against a cart.
type DisplayConfig struct {
	Description string `json:"description,omitempty"`
}

func (DisplayConfig) Type() Type         { return TypeDisplay }
func (c DisplayConfig) accept(v Visitor) { v.VisitDisplay(c) }
func (c DisplayConfig) clone() Config    { return c }

// FreeGoods is a quantity of a product granted at no charge.
type FreeGoods struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Benefit is what a scheme grants: a discount amount and/or free goods.
type Benefit struct {
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FreeGoods      []FreeGoods     `json:"free_goods,omitempty"`
}

// Clone returns a copy of b that shares no backing array.
func (b Benefit) Clone() Benefit {
	if b.FreeGoods != nil {
		fg := make([]FreeGoods, len(b.FreeGoods))
		copy(fg, b.FreeGoods)
		b.FreeGoods = fg
	}
	return b
}

// Applied is a scheme that triggered on a cart together with its computed
// benefit. Explanation is for display and audit only.
type Applied struct {
	SchemeID    string  `json:"scheme_id"`
	SchemeName  string  `json:"scheme_name"`
	Type        Type    `json:"type"`
	Benefit     Benefit `json:"benefit"`
	Explanation string  `json:"explanation"`
}

// Diagnostic records why a scheme was dropped from a calculation. It is meant
// for operators and never blocks a calculation.
type Diagnostic struct {
	SchemeID string `json:"scheme_id"`
	Reason   string `json:"reason"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTiers(in []Tier) []Tier {
	if in == nil {
		return nil
	}
	out := make([]Tier, len(in))
	copy(out, in)
	return out
}

func cloneDecimalPtr(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
