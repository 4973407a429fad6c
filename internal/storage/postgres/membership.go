package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

const (
	isMemberSQL = `SELECT EXISTS (
		SELECT 1 FROM customer_memberships
		WHERE kind = $1 AND customer_id = $2 AND target_id = ANY($3))`

	listMembershipsSQL = `SELECT kind, target_id, customer_id FROM customer_memberships`

	membershipVersionSQL = `SELECT version FROM membership_version`

	insertMembershipSQL = `INSERT INTO customer_memberships (kind, target_id, customer_id)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
)

var _ scheme.MembershipResolver = (*MembershipRepository)(nil)

// Membership assigns a customer to one segment or zone.
type Membership struct {
	Kind       scheme.Applicability
	TargetID   string
	CustomerID string
}

// MembershipRepository answers segment and zone membership from the customer
// master tables.
type MembershipRepository struct {
	pool *pgxpool.Pool
}

// NewMembershipRepository returns a MembershipRepository that uses the given pool.
func NewMembershipRepository(pool *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

// IsMember implements scheme.MembershipResolver.
func (r *MembershipRepository) IsMember(ctx context.Context, kind scheme.Applicability, targets []string, customerID string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, isMemberSQL, string(kind), customerID, targets).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking %s membership of %q: %w", kind, customerID, err)
	}
	return ok, nil
}

// Version returns a counter bumped by every write to the membership table.
func (r *MembershipRepository) Version(ctx context.Context) (int64, error) {
	var v int64
	if err := r.pool.QueryRow(ctx, membershipVersionSQL).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading membership version: %w", err)
	}
	return v, nil
}

// All streams every membership row to fn.
func (r *MembershipRepository) All(ctx context.Context, fn func(Membership) error) error {
	rows, err := r.pool.Query(ctx, listMembershipsSQL)
	if err != nil {
		return fmt.Errorf("listing memberships: %w", err)
	}
	var (
		m    Membership
		kind string
	)
	_, err = pgx.ForEachRow(rows, []any{&kind, &m.TargetID, &m.CustomerID}, func() error {
		m.Kind = scheme.Applicability(kind)
		return fn(m)
	})
	if err != nil {
		return fmt.Errorf("scanning memberships: %w", err)
	}
	return nil
}

// Add stores memberships, ignoring duplicates.
func (r *MembershipRepository) Add(ctx context.Context, ms ...Membership) error {
	batch := &pgx.Batch{}
	for _, m := range ms {
		batch.Queue(insertMembershipSQL, string(m.Kind), m.TargetID, m.CustomerID)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("adding memberships: %w", err)
	}
	return nil
}
