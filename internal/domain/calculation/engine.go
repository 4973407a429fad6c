package calculation

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/sfa-scheme-engine/internal/domain/cart"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

const instrumentationName = "github.com/xenking/sfa-scheme-engine/internal/domain/calculation"

// EngineDeps are the collaborators of an Engine. Only Schemes is required.
type EngineDeps struct {
	Schemes        scheme.Repository
	Members        scheme.MembershipResolver
	Audit          AuditSink
	Logger         *zap.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

// Engine computes calculation results. It is safe for concurrent use.
type Engine struct {
	schemes scheme.Repository
	filter  *scheme.Filter
	audit   AuditSink
	lg      *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time

	calculations metric.Int64Counter
	applied      metric.Int64Counter
	configErrors metric.Int64Counter
	overrides    metric.Int64Counter
}

// NewEngine creates an Engine.
func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Schemes == nil {
		return nil, errors.New("scheme repository is required")
	}
	if deps.Audit == nil {
		deps.Audit = nopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MeterProvider == nil {
		deps.MeterProvider = metricnoop.NewMeterProvider()
	}
	if deps.TracerProvider == nil {
		deps.TracerProvider = tracenoop.NewTracerProvider()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	meter := deps.MeterProvider.Meter(instrumentationName)
	e := &Engine{
		schemes: deps.Schemes,
		filter:  scheme.NewFilter(deps.Members),
		audit:   deps.Audit,
		lg:      deps.Logger,
		tracer:  deps.TracerProvider.Tracer(instrumentationName),
		now:     deps.Now,
	}

	var err error
	if e.calculations, err = meter.Int64Counter("scheme.calculations",
		metric.WithDescription("Calculation passes run"),
	); err != nil {
		return nil, errors.Wrap(err, "calculations counter")
	}
	if e.applied, err = meter.Int64Counter("scheme.applied",
		metric.WithDescription("Schemes applied across calculation passes"),
	); err != nil {
		return nil, errors.Wrap(err, "applied counter")
	}
	if e.configErrors, err = meter.Int64Counter("scheme.config_errors",
		metric.WithDescription("Schemes skipped due to invalid configuration"),
	); err != nil {
		return nil, errors.Wrap(err, "config errors counter")
	}
	if e.overrides, err = meter.Int64Counter("scheme.overrides",
		metric.WithDescription("Override ledger changes by kind"),
	); err != nil {
		return nil, errors.Wrap(err, "overrides counter")
	}
	return e, nil
}

// Request is the input of one calculation pass.
type Request struct {
	Cart     cart.Cart
	Customer scheme.Customer
	// AsOf is the evaluation date. Zero means now.
	AsOf time.Time
}

// Calculate runs one pass: it pins a scheme snapshot, filters it by
// applicability, evaluates every remaining scheme against the full cart and
// aggregates the benefits. The returned result carries no overrides.
//
// Misconfigured schemes are skipped and reported in Result.Diagnostics. An
// error is returned only for an invalid cart or an unavailable repository.
func (e *Engine) Calculate(ctx context.Context, req Request) (_ *Result, rerr error) {
	ctx, span := e.tracer.Start(ctx, "scheme.Calculate",
		trace.WithAttributes(
			attribute.String("customer.type", string(req.Customer.Type)),
			attribute.Int("cart.lines", len(req.Cart)),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if err := req.Cart.Validate(); err != nil {
		return nil, &ValidationError{Field: "items", Reason: err.Error(), Err: err}
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = e.now()
	}

	// One snapshot per pass: every evaluator sees the same definitions.
	defs, err := e.schemes.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load scheme snapshot")
	}

	c := req.Cart.Clone()
	candidates, diags := e.filter.Applicable(ctx, defs, req.Customer, asOf)

	var applied []scheme.Applied
	for _, def := range candidates {
		a, err := scheme.Evaluate(def, c)
		if err != nil {
			e.skip(ctx, def, err)
			diags = append(diags, scheme.Diagnostic{SchemeID: def.ID, Reason: err.Error()})
			continue
		}
		if a != nil {
			applied = append(applied, *a)
		}
	}

	r := newResult(asOf, c.Subtotal(), applied, diags, Ledger{})

	e.calculations.Add(ctx, 1)
	e.applied.Add(ctx, int64(len(applied)))
	span.SetAttributes(
		attribute.Int("scheme.candidates", len(candidates)),
		attribute.Int("scheme.applied", len(applied)),
		attribute.String("scheme.total_discount", r.TotalDiscount.String()),
	)
	e.lg.Debug("Calculated",
		zap.Int("schemes", len(defs)),
		zap.Int("candidates", len(candidates)),
		zap.Int("applied", len(applied)),
		zap.Stringer("subtotal", r.Subtotal),
		zap.Stringer("discount", r.TotalDiscount),
	)
	return r, nil
}

func (e *Engine) skip(ctx context.Context, def scheme.Definition, err error) {
	e.configErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("scheme.type", string(def.Type))))
	reason := err.Error()
	var cfgErr *scheme.ConfigurationError
	if errors.As(err, &cfgErr) {
		reason = cfgErr.Reason
	}
	e.lg.Warn("Skipping misconfigured scheme",
		zap.String("scheme_id", def.ID),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

// record appends an audit event and counts it.
func (e *Engine) record(ctx context.Context, ev Event) error {
	e.overrides.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind))))
	if err := e.audit.Append(ctx, ev); err != nil {
		return errors.Wrapf(err, "append %s event", ev.Kind)
	}
	return nil
}
