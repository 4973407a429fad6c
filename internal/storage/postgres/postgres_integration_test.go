//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/sfa-scheme-engine/internal/domain/auth"
	"github.com/xenking/sfa-scheme-engine/internal/domain/calculation"
	"github.com/xenking/sfa-scheme-engine/internal/domain/order"
	"github.com/xenking/sfa-scheme-engine/internal/domain/product"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "scheme",
				"POSTGRES_PASSWORD": "scheme",
				"POSTGRES_DB":       "scheme",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://scheme:scheme@%s:%s/scheme?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func TestRepositories(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	t.Run("schemes", func(t *testing.T) {
		repo := NewSchemeRepository(pool)
		discount := d("10")
		defs := []scheme.Definition{
			{
				ID: "combo-1", Name: "Tea combo", Code: "TC", Type: scheme.TypeCombo,
				Applicability: scheme.ApplicabilityZone, Targets: []string{"west"},
				StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				EndDate:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
				MaxBenefit: d("250"), Status: scheme.StatusActive,
				Config: scheme.ComboConfig{
					Name:     "tea",
					Items:    []scheme.ComboItem{{ProductID: "tea", RequiredQuantity: 2}},
					Discount: &discount,
				},
			},
			{
				ID: "off", Name: "Paused", Type: scheme.TypeDisplay,
				Applicability: scheme.ApplicabilityAllOutlets,
				StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				EndDate:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
				Status:    scheme.StatusInactive,
				Config:    scheme.DisplayConfig{},
			},
		}
		require.NoError(t, repo.Upsert(ctx, defs))

		got, err := repo.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.NoError(t, got[0].Validate())
		assert.Equal(t, []string{"west"}, got[0].Targets)
		assert.True(t, d("250").Equal(got[0].MaxBenefit))
		cfg, ok := got[0].Config.(scheme.ComboConfig)
		require.True(t, ok)
		assert.True(t, discount.Equal(*cfg.Discount))
	})

	t.Run("corrupt payload is reported by validation", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO schemes (id, name, type, applicability, start_date, end_date, status, config)
			VALUES ('bad', 'Bad', 'slab', 'all_outlets', '2025-01-01', '2025-12-31', 'active', '{"slab":{},"combo":{}}')`)
		require.NoError(t, err)

		got, err := NewSchemeRepository(pool).Snapshot(ctx)
		require.NoError(t, err)
		var bad scheme.Definition
		for _, def := range got {
			if def.ID == "bad" {
				bad = def
			}
		}
		assert.ErrorIs(t, bad.Validate(), scheme.ErrInvalidConfiguration)
	})

	t.Run("products", func(t *testing.T) {
		repo := NewProductRepository(pool)
		require.NoError(t, repo.Upsert(ctx, []product.Product{
			{ID: "tea", SKU: "T-1", Name: "Tea", Price: d("42.50"), Category: "beverage"},
			{ID: "soap", SKU: "S-1", Name: "Soap", Price: d("18"), Category: "personal"},
		}))

		got, err := repo.GetByIDs(ctx, []string{"tea", "missing"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "T-1", got[0].SKU)
		assert.True(t, d("42.50").Equal(got[0].Price))
	})

	t.Run("memberships", func(t *testing.T) {
		repo := NewMembershipRepository(pool)
		before, err := repo.Version(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.Add(ctx,
			Membership{Kind: scheme.ApplicabilityZone, TargetID: "west", CustomerID: "c1"},
			Membership{Kind: scheme.ApplicabilitySegment, TargetID: "key-accounts", CustomerID: "c1"},
		))

		ok, err := repo.IsMember(ctx, scheme.ApplicabilityZone, []string{"east", "west"}, "c1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.IsMember(ctx, scheme.ApplicabilityZone, []string{"key-accounts"}, "c1")
		require.NoError(t, err)
		assert.False(t, ok)

		var n int
		require.NoError(t, repo.All(ctx, func(Membership) error { n++; return nil }))
		assert.Equal(t, 2, n)

		after, err := repo.Version(ctx)
		require.NoError(t, err)
		assert.Greater(t, after, before)

		// Re-running migrations keeps the version row.
		require.NoError(t, RunMigrations(ctx, pool))
		again, err := repo.Version(ctx)
		require.NoError(t, err)
		assert.Equal(t, after, again)
	})

	t.Run("audit", func(t *testing.T) {
		repo := NewAuditRepository(pool)
		at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		ev := calculation.Event{
			ID: uuid.New(), Kind: calculation.EventOverrideAdded, SessionID: "s1", SchemeID: "combo-1",
			Actor: "rsm", Reason: "negotiated",
			Original: scheme.Benefit{DiscountAmount: d("20")},
			Override: &calculation.OverrideBenefit{DiscountAmount: d("15")},
			At:       at,
		}
		require.NoError(t, repo.Append(ctx, ev))

		got, err := repo.ListBySession(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, ev.ID, got[0].ID)
		assert.True(t, d("15").Equal(got[0].Override.DiscountAmount))
		assert.True(t, at.Equal(got[0].At))
	})

	t.Run("orders", func(t *testing.T) {
		repo := NewOrderRepository(pool)
		err := repo.Create(ctx, &order.Order{
			ID: uuid.NewString(), SessionID: "s1", CustomerID: "c1", CustomerType: scheme.CustomerRetailer,
			Subtotal: d("100"), Discount: d("10"), Total: d("90"),
			Snapshot:  calculation.Snapshot{SessionID: "s1", Digest: "abc"},
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)

		var digest string
		require.NoError(t, pool.QueryRow(ctx, `SELECT snapshot_digest FROM orders WHERE session_id = 's1'`).Scan(&digest))
		assert.Equal(t, "abc", digest)
	})

	t.Run("api keys", func(t *testing.T) {
		repo := NewAPIKeyRepository(pool)
		require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
			ID: "k1", KeyHash: "deadbeef", Name: "order-ui", Scopes: []string{auth.ScopeCalculate},
		}))

		info, err := repo.FindByHash(ctx, "deadbeef")
		require.NoError(t, err)
		assert.Equal(t, "order-ui", info.Name)
		assert.True(t, info.Has(auth.ScopeCalculate))

		_, err = repo.FindByHash(ctx, "nope")
		assert.Error(t, err)
	})
}
