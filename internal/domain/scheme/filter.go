package scheme

import (
	"context"
	"slices"
	"time"
)

// MembershipResolver answers whether a customer belongs to any of the given
// segments or zones. It fronts the customer master and may block.
type MembershipResolver interface {
	IsMember(ctx context.Context, kind Applicability, targets []string, customerID string) (bool, error)
}

// Filter narrows a scheme list to those applicable to one order context.
type Filter struct {
	members MembershipResolver
}

// NewFilter returns a Filter. A nil resolver makes every Segment and Zone
// scheme inapplicable.
func NewFilter(members MembershipResolver) *Filter {
	return &Filter{members: members}
}

// Applicable returns the schemes of defs that are active on asOf and whose
// applicability matches the customer, preserving input order. Display schemes
// are dropped as informational. Non-matching schemes are dropped silently; a
// failed membership lookup drops the scheme and is reported as a diagnostic.
func (f *Filter) Applicable(ctx context.Context, defs []Definition, c Customer, asOf time.Time) ([]Definition, []Diagnostic) {
	var (
		out   []Definition
		diags []Diagnostic
	)
	for _, d := range defs {
		if d.Type == TypeDisplay || !d.ActiveAt(asOf) {
			continue
		}
		if len(d.CustomerCategories) > 0 && !slices.Contains(d.CustomerCategories, c.Category) {
			continue
		}
		ok, err := f.matches(ctx, d, c)
		if err != nil {
			diags = append(diags, Diagnostic{SchemeID: d.ID, Reason: "membership lookup failed: " + err.Error()})
			continue
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, diags
}

func (f *Filter) matches(ctx context.Context, d Definition, c Customer) (bool, error) {
	switch d.Applicability {
	case ApplicabilityAllOutlets:
		return true, nil
	case ApplicabilityDistributor:
		return c.Type == CustomerDistributor, nil
	case ApplicabilityRetailer:
		return c.Type == CustomerRetailer, nil
	case ApplicabilitySegment, ApplicabilityZone:
		if f.members == nil || c.ID == "" || len(d.Targets) == 0 {
			return false, nil
		}
		return f.members.IsMember(ctx, d.Applicability, d.Targets, c.ID)
	default:
		// Unknown applicability reaches Validate and is reported there.
		return true, nil
	}
}
