package calculation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/sfa-scheme-engine/internal/domain/cart"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

// Session is one customer's in-progress order: the cart, the last computed
// result and the override ledger on top of it. Every change recomputes the
// result in full. Methods are safe for concurrent use.
type Session struct {
	ID        string
	Customer  scheme.Customer
	CreatedAt time.Time

	engine *Engine
	asOf   time.Time

	mu        sync.Mutex
	cart      cart.Cart
	computed  *Result // no overrides
	ledger    Ledger
	result    *Result // computed with ledger applied
	submitted bool
	lastUsed  time.Time
}

// Open creates a session for customer and runs the first calculation. A zero
// asOf evaluates every pass at the current time.
func (e *Engine) Open(ctx context.Context, customer scheme.Customer, c cart.Cart, asOf time.Time) (*Session, error) {
	r, err := e.Calculate(ctx, Request{Cart: c, Customer: customer, AsOf: asOf})
	if err != nil {
		return nil, err
	}
	now := e.now()
	s := &Session{
		ID:        uuid.NewString(),
		Customer:  customer,
		CreatedAt: now,
		engine:    e,
		asOf:      asOf,
		cart:      c.Clone(),
		computed:  r,
		result:    r.WithLedger(Ledger{}),
		lastUsed:  now,
	}
	return s, nil
}

// Result returns a copy of the current result.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.Clone()
}

// Submitted reports whether the session has been submitted.
func (s *Session) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// State is a consistent copy of a session's cart, result and submission flag.
type State struct {
	Cart      cart.Cart
	Result    *Result
	Submitted bool
}

// State returns the cart, result and submitted flag taken under one lock, so
// the cart always matches the result computed from it.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Cart:      s.cart.Clone(),
		Result:    s.result.Clone(),
		Submitted: s.submitted,
	}
}

// Recalculate replaces the cart and recomputes against a fresh scheme
// snapshot. Overrides of schemes that still apply are kept and re-attached to
// the new computed benefit; the rest are released.
func (s *Session) Recalculate(ctx context.Context, c cart.Cart, actor string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return nil, ErrSessionSubmitted
	}

	r, err := s.engine.Calculate(ctx, Request{Cart: c, Customer: s.Customer, AsOf: s.asOf})
	if err != nil {
		return nil, err
	}

	kept, released := s.ledger.Retain(func(o Override) bool {
		_, ok := r.AppliedScheme(o.SchemeID)
		return ok
	})
	ledger := Ledger{}
	for id, o := range kept.Map() {
		a, _ := r.AppliedScheme(id)
		o.Original = a.Benefit.Clone()
		if o.Benefit.FreeQuantity > 0 && len(a.Benefit.FreeGoods) == 0 {
			released = append(released, o)
			continue
		}
		ledger = ledger.With(o)
	}

	now := s.engine.now()
	for _, o := range released {
		ev := newEvent(EventOverrideReleased, s.ID, actor, o, now)
		if err := s.engine.record(ctx, ev); err != nil {
			// The override is gone from the ledger either way.
			s.engine.lg.Error("Record override release",
				zap.String("session_id", s.ID),
				zap.String("scheme_id", o.SchemeID),
				zap.Error(err),
			)
		}
	}

	s.cart = c.Clone()
	s.computed = r
	s.ledger = ledger
	s.result = r.WithLedger(ledger)
	s.lastUsed = now
	return s.result.Clone(), nil
}

// AddOverride replaces the effective benefit of an applied scheme. Adding an
// override for a scheme that already has one replaces it. The ledger only
// changes once the audit event is recorded.
func (s *Session) AddOverride(ctx context.Context, req OverrideRequest) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return nil, ErrSessionSubmitted
	}

	now := s.engine.now()
	ledger, o, err := AddOverride(s.computed, s.ledger, req, now)
	if err != nil {
		return nil, err
	}
	if err := s.engine.record(ctx, newEvent(EventOverrideAdded, s.ID, o.Actor, o, now)); err != nil {
		return nil, err
	}

	s.ledger = ledger
	s.result = s.computed.WithLedger(ledger)
	s.lastUsed = now
	return s.result.Clone(), nil
}

// RemoveOverride restores the computed benefit of schemeID. Removing an
// override that does not exist returns the current result unchanged.
func (s *Session) RemoveOverride(ctx context.Context, schemeID, actor string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return nil, ErrSessionSubmitted
	}

	now := s.engine.now()
	ledger, o, ok := RemoveOverride(s.ledger, schemeID)
	if !ok {
		s.lastUsed = now
		return s.result.Clone(), nil
	}
	if err := s.engine.record(ctx, newEvent(EventOverrideRemoved, s.ID, actor, o, now)); err != nil {
		return nil, err
	}

	s.ledger = ledger
	s.result = s.computed.WithLedger(ledger)
	s.lastUsed = now
	return s.result.Clone(), nil
}

// Submit snapshots the current result and hands it to persist. The session
// is marked submitted only when persist succeeds; afterwards it rejects every
// change.
func (s *Session) Submit(ctx context.Context, persist func(context.Context, Snapshot) error) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return Snapshot{}, ErrSessionSubmitted
	}

	now := s.engine.now()
	snap, err := newSnapshot(s.ID, s.Customer, s.cart, s.result, now)
	if err != nil {
		return Snapshot{}, err
	}
	if err := persist(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	s.submitted = true
	s.lastUsed = now
	return snap, nil
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}
