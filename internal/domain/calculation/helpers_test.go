package calculation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/sfa-scheme-engine/internal/domain/cart"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var fixedNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func newDef(id string, cfg scheme.Config) scheme.Definition {
	return scheme.Definition{
		ID:            id,
		Name:          "scheme " + id,
		Type:          cfg.Type(),
		Applicability: scheme.ApplicabilityAllOutlets,
		StartDate:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		Status:        scheme.StatusActive,
		Config:        cfg,
	}
}

// slabDef gives 4% off at 100..1000 units.
func slabDef(id string) scheme.Definition {
	return newDef(id, scheme.SlabConfig{
		Basis: scheme.BasisQuantity,
		Tiers: []scheme.Tier{{Min: d("100"), Max: d("1000"), Percent: d("4")}},
	})
}

// billDef gives 3% off bills of at least 1000.
func billDef(id string) scheme.Definition {
	return newDef(id, scheme.BillWiseConfig{
		MinBillAmount: d("1000"),
		RewardType:    scheme.RewardDiscount,
		RewardValue:   d("3"),
	})
}

// freeDef gives one unit of "gift" per 10 units of "soap".
func freeDef(id string) scheme.Definition {
	return newDef(id, scheme.BuyXGetYConfig{
		BuyProductID: "soap",
		BuyQuantity:  10,
		GetProductID: "gift",
		GetQuantity:  1,
	})
}

// brokenDef is a combo with neither price nor discount.
func brokenDef(id string) scheme.Definition {
	return newDef(id, scheme.ComboConfig{
		Items: []scheme.ComboItem{{ProductID: "soap", RequiredQuantity: 1}},
	})
}

// fiveThousandCart is 100 units of soap at 50.
func fiveThousandCart() cart.Cart {
	return cart.Cart{{ProductID: "soap", Quantity: 100, UnitPrice: d("50")}}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestEngine(t *testing.T, repo scheme.Repository, sink AuditSink) *Engine {
	t.Helper()
	e, err := NewEngine(EngineDeps{
		Schemes: repo,
		Audit:   sink,
		Now:     func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return e
}
