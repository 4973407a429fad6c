package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/sfa-scheme-engine/internal/domain/calculation"
)

const (
	insertAuditSQL = `INSERT INTO override_audit (id, kind, session_id, scheme_id, actor, reason, original, override, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	listAuditBySessionSQL = `SELECT id, kind, session_id, scheme_id, actor, reason, original, override, at
		FROM override_audit WHERE session_id = $1 ORDER BY at, id`
)

var _ calculation.AuditSink = (*AuditRepository)(nil)

// AuditRepository is the append-only override audit table.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository returns an AuditRepository that uses the given pool.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append inserts e.
func (r *AuditRepository) Append(ctx context.Context, e calculation.Event) error {
	original, err := json.Marshal(e.Original)
	if err != nil {
		return fmt.Errorf("marshaling original benefit: %w", err)
	}
	var override []byte
	if e.Override != nil {
		if override, err = json.Marshal(e.Override); err != nil {
			return fmt.Errorf("marshaling override benefit: %w", err)
		}
	}

	_, err = r.pool.Exec(ctx, insertAuditSQL,
		e.ID, string(e.Kind), e.SessionID, e.SchemeID, e.Actor, e.Reason, original, override, e.At,
	)
	if err != nil {
		return fmt.Errorf("appending audit event %s: %w", e.ID, err)
	}
	return nil
}

// ListBySession returns the events of one session in append order.
func (r *AuditRepository) ListBySession(ctx context.Context, sessionID string) ([]calculation.Event, error) {
	rows, err := r.pool.Query(ctx, listAuditBySessionSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	return pgx.CollectRows(rows, scanEvent)
}

func scanEvent(row pgx.CollectableRow) (calculation.Event, error) {
	var (
		e                  calculation.Event
		kind               string
		original, override []byte
	)
	if err := row.Scan(&e.ID, &kind, &e.SessionID, &e.SchemeID, &e.Actor, &e.Reason, &original, &override, &e.At); err != nil {
		return calculation.Event{}, err
	}
	e.Kind = calculation.EventKind(kind)
	if err := json.Unmarshal(original, &e.Original); err != nil {
		return calculation.Event{}, fmt.Errorf("decoding original benefit: %w", err)
	}
	if len(override) > 0 {
		e.Override = new(calculation.OverrideBenefit)
		if err := json.Unmarshal(override, e.Override); err != nil {
			return calculation.Event{}, fmt.Errorf("decoding override benefit: %w", err)
		}
	}
	return e, nil
}
