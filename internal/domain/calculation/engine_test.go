package calculation

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/sfa-scheme-engine/internal/domain/cart"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

type failingRepo struct{ err error }

func (r failingRepo) Snapshot(context.Context) ([]scheme.Definition, error) { return nil, r.err }

var retailer = scheme.Customer{ID: "c1", Type: scheme.CustomerRetailer}

func TestEngineCalculate_Stacking(t *testing.T) {
	e := newTestEngine(t, NewMemoryRepository(slabDef("slab"), billDef("bill")), nil)

	r, err := e.Calculate(context.Background(), Request{Cart: fiveThousandCart(), Customer: retailer})
	require.NoError(t, err)

	require.Len(t, r.Applied, 2)
	assert.Equal(t, "slab", r.Applied[0].SchemeID)
	assert.Equal(t, "bill", r.Applied[1].SchemeID)
	assert.True(t, d("200").Equal(r.Applied[0].Benefit.DiscountAmount))
	assert.True(t, d("150").Equal(r.Applied[1].Benefit.DiscountAmount))
	assert.True(t, d("350").Equal(r.TotalDiscount), "got %s", r.TotalDiscount)
	assert.True(t, d("350").Equal(r.ComputedDiscount))
	assert.True(t, d("4650").Equal(r.Total()))
	assert.Equal(t, fixedNow, r.AsOf)
	assert.Empty(t, r.Overrides)
	assert.Empty(t, r.Diagnostics)
}

func TestEngineCalculate_ValueWiseThreshold(t *testing.T) {
	def := newDef("vw", scheme.ValueWiseConfig{Tiers: []scheme.Tier{
		{Min: d("5000"), Max: d("10000"), Percent: d("10")},
	}})
	e := newTestEngine(t, NewMemoryRepository(def), nil)

	tests := []struct {
		price string
		want  string
	}{
		{price: "4999", want: "0"},
		{price: "5000", want: "500"},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			r, err := e.Calculate(context.Background(), Request{
				Cart:     cart.Cart{{ProductID: "p1", Quantity: 1, UnitPrice: d(tt.price)}},
				Customer: retailer,
			})
			require.NoError(t, err)
			assert.True(t, d(tt.want).Equal(r.TotalDiscount), "got %s", r.TotalDiscount)
		})
	}
}

func TestEngineCalculate_SkipsMisconfigured(t *testing.T) {
	e := newTestEngine(t, NewMemoryRepository(brokenDef("broken"), slabDef("slab")), nil)

	r, err := e.Calculate(context.Background(), Request{Cart: fiveThousandCart(), Customer: retailer})
	require.NoError(t, err)

	require.Len(t, r.Applied, 1)
	assert.Equal(t, "slab", r.Applied[0].SchemeID)
	require.Len(t, r.Diagnostics, 1)
	assert.Equal(t, "broken", r.Diagnostics[0].SchemeID)
	assert.Contains(t, r.Diagnostics[0].Reason, "neither price nor discount")
}

func TestEngineCalculate_MergesFreeGoods(t *testing.T) {
	other := newDef("bill-gift", scheme.BillWiseConfig{
		MinBillAmount:   d("100"),
		RewardType:      scheme.RewardProduct,
		RewardValue:     d("2"),
		RewardProductID: "apron",
	})
	e := newTestEngine(t, NewMemoryRepository(freeDef("f1"), other, freeDef("f2")), nil)

	r, err := e.Calculate(context.Background(), Request{Cart: fiveThousandCart(), Customer: retailer})
	require.NoError(t, err)

	assert.Equal(t, []scheme.FreeGoods{
		{ProductID: "apron", Quantity: 2},
		{ProductID: "gift", Quantity: 20},
	}, r.TotalFreeGoods)
	assert.True(t, r.TotalDiscount.IsZero())
}

func TestEngineCalculate_CapsAtSubtotal(t *testing.T) {
	cash := newDef("cash", scheme.BillWiseConfig{RewardType: scheme.RewardCash, RewardValue: d("4900")})
	e := newTestEngine(t, NewMemoryRepository(cash, slabDef("slab"), billDef("bill")), nil)

	r, err := e.Calculate(context.Background(), Request{Cart: fiveThousandCart(), Customer: retailer})
	require.NoError(t, err)
	assert.True(t, d("5000").Equal(r.TotalDiscount), "got %s", r.TotalDiscount)
	assert.True(t, r.Total().IsZero())
}

func TestEngineCalculate_InvalidCart(t *testing.T) {
	e := newTestEngine(t, NewMemoryRepository(), nil)

	_, err := e.Calculate(context.Background(), Request{
		Cart:     cart.Cart{{ProductID: "p1", Quantity: 0, UnitPrice: d("1")}},
		Customer: retailer,
	})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)
	assert.Equal(t, "items", vErr.Field)
}

func TestEngineCalculate_RepositoryError(t *testing.T) {
	e := newTestEngine(t, failingRepo{err: errors.New("db down")}, nil)

	_, err := e.Calculate(context.Background(), Request{Cart: fiveThousandCart(), Customer: retailer})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestEngineCalculate_AsOfControlsValidity(t *testing.T) {
	e := newTestEngine(t, NewMemoryRepository(slabDef("slab")), nil)

	r, err := e.Calculate(context.Background(), Request{
		Cart:     fiveThousandCart(),
		Customer: retailer,
		AsOf:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Empty(t, r.Applied)
	assert.True(t, r.TotalDiscount.IsZero())
}

func TestMemoryRepository_SnapshotIsolation(t *testing.T) {
	repo := NewMemoryRepository(slabDef("slab"))

	snap, err := repo.Snapshot(context.Background())
	require.NoError(t, err)

	snap[0].Config.(scheme.SlabConfig).Tiers[0].Percent = d("99")

	again, err := repo.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, d("4").Equal(again[0].Config.(scheme.SlabConfig).Tiers[0].Percent))

	repo.Replace(billDef("bill"))
	again, err = repo.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "bill", again[0].ID)

	// A pass that already pinned its snapshot keeps the old definitions.
	assert.Equal(t, "slab", snap[0].ID)
}

func TestMemoryRepository_CloneOnReplace(t *testing.T) {
	def := slabDef("slab")
	repo := NewMemoryRepository(def)

	def.Config.(scheme.SlabConfig).Tiers[0].Percent = d("50")

	e := newTestEngine(t, repo, nil)
	r, err := e.Calculate(context.Background(), Request{Cart: fiveThousandCart(), Customer: retailer})
	require.NoError(t, err)
	require.Len(t, r.Applied, 1)
	assert.True(t, d("200").Equal(r.Applied[0].Benefit.DiscountAmount))
}
