package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/sfa-scheme-engine/internal/domain/calculation"
	"github.com/xenking/sfa-scheme-engine/internal/domain/cart"
	"github.com/xenking/sfa-scheme-engine/internal/domain/product"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = fmt.Errorf("items required")
	ErrInvalidCustomer = fmt.Errorf("customer type must be distributor or retailer")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// OpenRequest holds the input for opening a calculation session.
type OpenRequest struct {
	Customer scheme.Customer
	Items    []Item
	// AsOf pins the evaluation date for the session. Zero means now.
	AsOf time.Time
}

// Service drives calculation sessions from cart edit to submitted order.
type Service struct {
	products product.Repository
	engine   *calculation.Engine
	sessions *calculation.Store
	orders   Repository
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	engine *calculation.Engine,
	sessions *calculation.Store,
	orders Repository,
) *Service {
	return &Service{
		products: products,
		engine:   engine,
		sessions: sessions,
		orders:   orders,
		now:      time.Now,
	}
}

// BuildCart validates items and resolves price, SKU and category of every
// line from the product master in a single batch.
func (s *Service) BuildCart(ctx context.Context, items []Item) (cart.Cart, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	c := make(cart.Cart, 0, len(items))
	for _, item := range items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		c = append(c, cart.Line{
			ProductID: p.ID,
			SKU:       p.SKU,
			Category:  p.Category,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
		})
	}
	return c, nil
}

// Open builds the cart, runs the first calculation and registers the session.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*calculation.Session, error) {
	if req.Customer.Type != scheme.CustomerDistributor && req.Customer.Type != scheme.CustomerRetailer {
		return nil, ErrInvalidCustomer
	}
	c, err := s.BuildCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	sess, err := s.engine.Open(ctx, req.Customer, c, req.AsOf)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	s.sessions.Put(sess)
	return sess, nil
}

// Get returns an open session.
func (s *Service) Get(id string) (*calculation.Session, error) {
	return s.sessions.Get(id)
}

// UpdateCart replaces the session cart and recalculates.
func (s *Service) UpdateCart(ctx context.Context, id string, items []Item, actor string) (*calculation.Session, *calculation.Result, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.BuildCart(ctx, items)
	if err != nil {
		return nil, nil, err
	}
	r, err := sess.Recalculate(ctx, c, actor)
	if err != nil {
		return nil, nil, err
	}
	return sess, r, nil
}

// AddOverride applies an override to the session's current result.
func (s *Service) AddOverride(ctx context.Context, id string, req calculation.OverrideRequest) (*calculation.Session, *calculation.Result, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, nil, err
	}
	r, err := sess.AddOverride(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return sess, r, nil
}

// RemoveOverride reverts a scheme to its computed benefit.
func (s *Service) RemoveOverride(ctx context.Context, id, schemeID, actor string) (*calculation.Session, *calculation.Result, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, nil, err
	}
	r, err := sess.RemoveOverride(ctx, schemeID, actor)
	if err != nil {
		return nil, nil, err
	}
	return sess, r, nil
}

// Submit snapshots the session result and persists it as an order. The
// stored order is never recomputed: it keeps the snapshot taken here.
func (s *Service) Submit(ctx context.Context, id string) (*Order, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}

	var o *Order
	_, err = sess.Submit(ctx, func(ctx context.Context, snap calculation.Snapshot) error {
		r := snap.Result
		o = &Order{
			ID:           uuid.New().String(),
			SessionID:    snap.SessionID,
			CustomerID:   snap.Customer.ID,
			CustomerType: snap.Customer.Type,
			Subtotal:     r.Subtotal.Round(2),
			Discount:     r.TotalDiscount,
			Total:        snap.Total.Round(2),
			FreeGoods:    r.TotalFreeGoods,
			Snapshot:     snap,
			CreatedAt:    s.now(),
		}
		if err := s.orders.Create(ctx, o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}
