package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/sfa-scheme-engine/internal/domain/order"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

const createOrderSQL = `INSERT INTO orders (id, session_id, customer_id, customer_type,
	subtotal, discount, total, free_goods, snapshot, snapshot_digest, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a submitted order. Free goods and the calculation snapshot
// are stored as JSONB; the snapshot digest is kept alongside for audit.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	freeGoods := o.FreeGoods
	if freeGoods == nil {
		freeGoods = []scheme.FreeGoods{}
	}
	freeJSON, err := json.Marshal(freeGoods)
	if err != nil {
		return fmt.Errorf("marshaling free goods: %w", err)
	}
	snapJSON, err := json.Marshal(o.Snapshot)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.SessionID, o.CustomerID, string(o.CustomerType),
		o.Subtotal, o.Discount, o.Total, freeJSON, snapJSON, o.Snapshot.Digest, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}
