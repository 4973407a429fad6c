// Package auditlog provides sinks for the override audit stream.
package auditlog

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/sfa-scheme-engine/internal/domain/calculation"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

var (
	_ calculation.AuditSink = (*Writer)(nil)
	_ calculation.AuditSink = (*Logger)(nil)
	_ calculation.AuditSink = Multi(nil)
)

// Writer appends events to w as newline-delimited JSON, one object per line.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	enc jx.Encoder
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Append implements calculation.AuditSink.
func (w *Writer) Append(_ context.Context, ev calculation.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.enc.Reset()
	EncodeEvent(&w.enc, ev)
	w.enc.RawStr("\n")
	if _, err := w.w.Write(w.enc.Bytes()); err != nil {
		return errors.Wrap(err, "write audit event")
	}
	return nil
}

// EncodeEvent writes ev as a JSON object.
func EncodeEvent(e *jx.Encoder, ev calculation.Event) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(ev.ID.String()) })
		e.Field("kind", func(e *jx.Encoder) { e.Str(string(ev.Kind)) })
		e.Field("session_id", func(e *jx.Encoder) { e.Str(ev.SessionID) })
		e.Field("scheme_id", func(e *jx.Encoder) { e.Str(ev.SchemeID) })
		e.Field("actor", func(e *jx.Encoder) { e.Str(ev.Actor) })
		if ev.Reason != "" {
			e.Field("reason", func(e *jx.Encoder) { e.Str(ev.Reason) })
		}
		e.Field("original", func(e *jx.Encoder) { encodeBenefit(e, ev.Original) })
		if ev.Override != nil {
			e.Field("override", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("discount_amount", func(e *jx.Encoder) { e.Str(ev.Override.DiscountAmount.String()) })
					e.Field("free_quantity", func(e *jx.Encoder) { e.Int(ev.Override.FreeQuantity) })
				})
			})
		}
		e.Field("at", func(e *jx.Encoder) { e.Str(ev.At.UTC().Format(time.RFC3339Nano)) })
	})
}

func encodeBenefit(e *jx.Encoder, b scheme.Benefit) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("discount_amount", func(e *jx.Encoder) { e.Str(b.DiscountAmount.String()) })
		if len(b.FreeGoods) > 0 {
			e.Field("free_goods", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, fg := range b.FreeGoods {
						e.Obj(func(e *jx.Encoder) {
							e.Field("product_id", func(e *jx.Encoder) { e.Str(fg.ProductID) })
							e.Field("quantity", func(e *jx.Encoder) { e.Int(fg.Quantity) })
						})
					}
				})
			})
		}
	})
}

// Logger mirrors events to a zap logger at Info.
type Logger struct {
	lg *zap.Logger
}

// NewLogger returns a Logger sink.
func NewLogger(lg *zap.Logger) *Logger {
	return &Logger{lg: lg}
}

// Append implements calculation.AuditSink.
func (l *Logger) Append(_ context.Context, ev calculation.Event) error {
	fields := []zap.Field{
		zap.Stringer("event_id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("session_id", ev.SessionID),
		zap.String("scheme_id", ev.SchemeID),
		zap.String("actor", ev.Actor),
		zap.Stringer("original_discount", ev.Original.DiscountAmount),
	}
	if ev.Override != nil {
		fields = append(fields,
			zap.Stringer("override_discount", ev.Override.DiscountAmount),
			zap.Int("override_free_quantity", ev.Override.FreeQuantity),
		)
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	l.lg.Info("Override audit", fields...)
	return nil
}

// Tee writes every event to a primary sink, then copies it to mirror sinks.
// Only a primary failure is returned: once the primary holds the event, a
// failing mirror must not undo the change it records.
type Tee struct {
	primary calculation.AuditSink
	mirrors []calculation.AuditSink
	lg      *zap.Logger
}

var _ calculation.AuditSink = (*Tee)(nil)

// NewTee returns a Tee over primary. Mirror failures are logged to lg.
func NewTee(primary calculation.AuditSink, lg *zap.Logger, mirrors ...calculation.AuditSink) *Tee {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Tee{primary: primary, mirrors: mirrors, lg: lg}
}

// Append implements calculation.AuditSink.
func (t *Tee) Append(ctx context.Context, ev calculation.Event) error {
	if err := t.primary.Append(ctx, ev); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.Append(ctx, ev); err != nil {
			t.lg.Error("Audit mirror write failed",
				zap.Stringer("event_id", ev.ID),
				zap.String("session_id", ev.SessionID),
				zap.Error(err),
			)
		}
	}
	return nil
}
