// Package membership resolves segment and zone membership for the
// applicability filter.
package membership

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
	"github.com/xenking/sfa-scheme-engine/internal/storage/postgres"
)

const (
	defaultCapacity = 1_000_000
	defaultFPR      = 0.001
)

// Source is the membership master the filter is built from and falls back to.
// Version changes whenever the membership rows change.
type Source interface {
	scheme.MembershipResolver
	All(ctx context.Context, fn func(postgres.Membership) error) error
	Version(ctx context.Context) (int64, error)
}

var _ scheme.MembershipResolver = (*BloomResolver)(nil)

// BloomResolver answers negative lookups from an in-memory bloom filter and
// confirms positive ones against the source. A negative answer is trusted only
// while the source version matches the one the filter was built from; a newer
// version sends the lookup to the source and schedules a rebuild. Until the
// first Refresh every lookup goes to the source.
type BloomResolver struct {
	src      Source
	capacity uint
	fpr      float64
	lg       *zap.Logger
	stale    chan struct{}

	mu      sync.RWMutex
	filter  *bloom.BloomFilter
	version int64
}

// Config sizes the filter.
type Config struct {
	ExpectedEntries   uint
	FalsePositiveRate float64
}

// NewBloomResolver returns a resolver over src.
func NewBloomResolver(src Source, cfg Config, lg *zap.Logger) *BloomResolver {
	if cfg.ExpectedEntries == 0 {
		cfg.ExpectedEntries = defaultCapacity
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg.FalsePositiveRate = defaultFPR
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &BloomResolver{
		src:      src,
		capacity: cfg.ExpectedEntries,
		fpr:      cfg.FalsePositiveRate,
		lg:       lg,
		stale:    make(chan struct{}, 1),
	}
}

func key(kind scheme.Applicability, target, customerID string) string {
	return string(kind) + "/" + target + "/" + customerID
}

// IsMember implements scheme.MembershipResolver.
func (r *BloomResolver) IsMember(ctx context.Context, kind scheme.Applicability, targets []string, customerID string) (bool, error) {
	r.mu.RLock()
	f, built := r.filter, r.version
	r.mu.RUnlock()

	if f != nil {
		candidates := targets[:0:0]
		for _, t := range targets {
			if f.TestString(key(kind, t, customerID)) {
				candidates = append(candidates, t)
			}
		}
		switch {
		case len(candidates) > 0:
			targets = candidates
		case r.current(ctx, built):
			return false, nil
		}
	}

	ok, err := r.src.IsMember(ctx, kind, targets, customerID)
	if err != nil {
		return false, errors.Wrap(err, "lookup membership")
	}
	return ok, nil
}

// current reports whether the source is still at version built. Otherwise it
// schedules a rebuild.
func (r *BloomResolver) current(ctx context.Context, built int64) bool {
	v, err := r.src.Version(ctx)
	if err != nil {
		r.lg.Warn("Membership version check failed", zap.Error(err))
		return false
	}
	if v == built {
		return true
	}
	select {
	case r.stale <- struct{}{}:
	default:
	}
	return false
}

// Refresh rebuilds the filter from the source and swaps it in. The version is
// read before the rows, so rows written meanwhile leave the filter stale
// rather than missing.
func (r *BloomResolver) Refresh(ctx context.Context) error {
	version, err := r.src.Version(ctx)
	if err != nil {
		return errors.Wrap(err, "read membership version")
	}
	f := bloom.NewWithEstimates(r.capacity, r.fpr)
	var n int
	if err := r.src.All(ctx, func(m postgres.Membership) error {
		f.AddString(key(m.Kind, m.TargetID, m.CustomerID))
		n++
		return nil
	}); err != nil {
		return errors.Wrap(err, "build membership filter")
	}

	r.mu.Lock()
	r.filter = f
	r.version = version
	r.mu.Unlock()

	r.lg.Info("Membership filter refreshed", zap.Int("entries", n), zap.Int64("version", version))
	return nil
}

// Run refreshes the filter every interval, and whenever a lookup finds it
// stale, until ctx is done. A failed refresh keeps the previous filter.
func (r *BloomResolver) Run(ctx context.Context, interval time.Duration) error {
	refresh := func() {
		if err := r.Refresh(ctx); err != nil {
			r.lg.Warn("Membership filter refresh failed", zap.Error(err))
		}
	}
	refresh()

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			refresh()
		case <-r.stale:
			refresh()
		}
	}
}
