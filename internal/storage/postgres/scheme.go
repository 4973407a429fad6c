package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

const (
	listActiveSchemesSQL = `SELECT id, name, code, type, applicability, targets, customer_categories,
		start_date, end_date, min_order_value, max_benefit, status, config
		FROM schemes WHERE status = 'active' ORDER BY id`

	upsertSchemeSQL = `INSERT INTO schemes (id, name, code, type, applicability, targets, customer_categories,
		start_date, end_date, min_order_value, max_benefit, status, config, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, code = EXCLUDED.code, type = EXCLUDED.type,
			applicability = EXCLUDED.applicability, targets = EXCLUDED.targets,
			customer_categories = EXCLUDED.customer_categories,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			min_order_value = EXCLUDED.min_order_value, max_benefit = EXCLUDED.max_benefit,
			status = EXCLUDED.status, config = EXCLUDED.config, updated_at = now()`
)

var _ scheme.Repository = (*SchemeRepository)(nil)

// SchemeRepository reads the scheme master. The variant payload lives in a
// JSONB column keyed by variant name.
type SchemeRepository struct {
	pool *pgxpool.Pool
}

// NewSchemeRepository returns a SchemeRepository that uses the given pool.
func NewSchemeRepository(pool *pgxpool.Pool) *SchemeRepository {
	return &SchemeRepository{pool: pool}
}

// Snapshot returns every active scheme in one query, ordered by id. Rows with
// an undecodable payload are returned as-is and rejected later by validation.
func (r *SchemeRepository) Snapshot(ctx context.Context) ([]scheme.Definition, error) {
	rows, err := r.pool.Query(ctx, listActiveSchemesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing schemes: %w", err)
	}
	return pgx.CollectRows(rows, scanScheme)
}

// Upsert inserts or updates definitions in one batch.
func (r *SchemeRepository) Upsert(ctx context.Context, defs []scheme.Definition) error {
	batch := &pgx.Batch{}
	for _, d := range defs {
		cfg, err := scheme.MarshalConfig(d.Config)
		if err != nil {
			return fmt.Errorf("scheme %q: %w", d.ID, err)
		}
		batch.Queue(upsertSchemeSQL,
			d.ID, d.Name, d.Code, string(d.Type), string(d.Applicability),
			nonNil(d.Targets), nonNil(d.CustomerCategories),
			d.StartDate, d.EndDate, d.MinOrderValue, d.MaxBenefit, string(d.Status), cfg,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting schemes: %w", err)
	}
	return nil
}

func scanScheme(row pgx.CollectableRow) (scheme.Definition, error) {
	var (
		d                          scheme.Definition
		typ, applicability, status string
		targets, categories        []string
		config                     []byte
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.Code, &typ, &applicability, &targets, &categories,
		&d.StartDate, &d.EndDate, &d.MinOrderValue, &d.MaxBenefit, &status, &config,
	)
	if err != nil {
		return scheme.Definition{}, err
	}
	d.Type = scheme.Type(typ)
	d.Applicability = scheme.Applicability(applicability)
	d.Status = scheme.Status(status)
	if len(targets) > 0 {
		d.Targets = targets
	}
	if len(categories) > 0 {
		d.CustomerCategories = categories
	}
	return d.WithConfigPayload(config), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
