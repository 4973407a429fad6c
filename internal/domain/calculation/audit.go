package calculation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

// EventKind identifies an override audit event.
type EventKind string

const (
	EventOverrideAdded   EventKind = "override.added"
	EventOverrideRemoved EventKind = "override.removed"
	// EventOverrideReleased is emitted when a recalculation drops the scheme an
	// override was attached to.
	EventOverrideReleased EventKind = "override.released"
)

// Event is one entry of the append-only override audit stream.
type Event struct {
	ID        uuid.UUID        `json:"id"`
	Kind      EventKind        `json:"kind"`
	SessionID string           `json:"session_id"`
	SchemeID  string           `json:"scheme_id"`
	Actor     string           `json:"actor"`
	Reason    string           `json:"reason,omitempty"`
	Original  scheme.Benefit   `json:"original"`
	Override  *OverrideBenefit `json:"override,omitempty"`
	At        time.Time        `json:"at"`
}

// AuditSink receives override audit events. Implementations must not reorder
// events of one session.
type AuditSink interface {
	Append(ctx context.Context, e Event) error
}

func newEvent(kind EventKind, sessionID, actor string, o Override, at time.Time) Event {
	ob := o.Benefit
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		SessionID: sessionID,
		SchemeID:  o.SchemeID,
		Actor:     actor,
		Reason:    o.Reason,
		Original:  o.Original.Clone(),
		Override:  &ob,
		At:        at,
	}
}

type nopSink struct{}

func (nopSink) Append(context.Context, Event) error { return nil }
