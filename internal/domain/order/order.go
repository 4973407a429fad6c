package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/sfa-scheme-engine/internal/domain/calculation"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

// Order is a submitted order. Its amounts and snapshot are fixed at
// submission and never recomputed.
type Order struct {
	ID           string
	SessionID    string
	CustomerID   string
	CustomerType scheme.CustomerType
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	FreeGoods    []scheme.FreeGoods
	Snapshot     calculation.Snapshot
	CreatedAt    time.Time
}

// Item is a requested cart line before product master resolution.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
}
