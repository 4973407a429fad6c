package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/sfa-scheme-engine/internal/domain/auth"
	"github.com/xenking/sfa-scheme-engine/internal/domain/product"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
	"github.com/xenking/sfa-scheme-engine/internal/handler"
	"github.com/xenking/sfa-scheme-engine/internal/storage/postgres"
)

type seedFiles struct {
	products    string
	memberships string
	schemes     string
}

func main() {
	var (
		databaseURL  string
		files        seedFiles
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&files.products, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&files.memberships, "memberships-file", "db/seed/memberships.json", "path to segment/zone memberships JSON file")
	flag.StringVar(&files.schemes, "schemes-file", "db/seed/schemes.json", "path to sample schemes JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or SCHEME_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SCHEME_API_KEY_PEPPER env)")
	flag.Parse()

	lg, _ := zap.NewProduction()
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("SCHEME_SEED_API_KEY")
	}
	if apiKey == "" {
		lg.Fatal("API key is required: set --api-key or SCHEME_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SCHEME_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, files, apiKey, apiKeyPepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files seedFiles, apiKey, pepper string) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, lg, postgres.NewProductRepository(pool), files.products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedMemberships(ctx, lg, postgres.NewMembershipRepository(pool), files.memberships); err != nil {
		return errors.Wrap(err, "seed memberships")
	}
	if err := seedSchemes(ctx, lg, postgres.NewSchemeRepository(pool), files.schemes); err != nil {
		return errors.Wrap(err, "seed schemes")
	}
	if err := seedAPIKey(ctx, lg, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.ProductRepository, path string) error {
	var products []product.Product
	if err := readJSON(path, &products); err != nil {
		return err
	}
	if err := repo.Upsert(ctx, products); err != nil {
		return err
	}
	lg.Info("Upserted products", zap.Int("count", len(products)))
	return nil
}

type membershipJSON struct {
	Kind       scheme.Applicability `json:"kind"`
	TargetID   string               `json:"target_id"`
	CustomerID string               `json:"customer_id"`
}

func seedMemberships(ctx context.Context, lg *zap.Logger, repo *postgres.MembershipRepository, path string) error {
	var rows []membershipJSON
	if err := readJSON(path, &rows); err != nil {
		return err
	}
	ms := make([]postgres.Membership, len(rows))
	for i, r := range rows {
		ms[i] = postgres.Membership(r)
	}
	if err := repo.Add(ctx, ms...); err != nil {
		return err
	}
	lg.Info("Upserted memberships", zap.Int("count", len(ms)))
	return nil
}

func seedSchemes(ctx context.Context, lg *zap.Logger, repo *postgres.SchemeRepository, path string) error {
	var docs []scheme.Document
	if err := readJSON(path, &docs); err != nil {
		return err
	}
	defs := make([]scheme.Definition, 0, len(docs))
	for _, doc := range docs {
		def := doc.Definition()
		if err := def.Validate(); err != nil {
			return err
		}
		defs = append(defs, def)
	}
	if err := repo.Upsert(ctx, defs); err != nil {
		return err
	}
	lg.Info("Upserted schemes", zap.Int("count", len(defs)))
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: handler.HashKey([]byte(pepper), apiKey),
		Name:    "default",
		Scopes:  []string{auth.ScopeCalculate, auth.ScopeOverride, auth.ScopeSubmit},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}
	lg.Info("Upserted API key", zap.String("id", info.ID), zap.Strings("scopes", info.Scopes))
	return nil
}
