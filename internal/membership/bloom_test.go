package membership

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
	"github.com/xenking/sfa-scheme-engine/internal/storage/postgres"
)

type mockSource struct {
	mu         sync.Mutex
	rows       []postgres.Membership
	version    int64
	allErr     error
	versionErr error
	lookups    int
	lastArgs   []string
}

func (m *mockSource) add(row postgres.Membership) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
	m.version++
}

func (m *mockSource) Version(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, m.versionErr
}

func (m *mockSource) IsMember(_ context.Context, kind scheme.Applicability, targets []string, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	m.lastArgs = targets
	for _, row := range m.rows {
		if row.Kind == kind && row.CustomerID == customerID && slices.Contains(targets, row.TargetID) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockSource) All(_ context.Context, fn func(postgres.Membership) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allErr != nil {
		return m.allErr
	}
	for _, row := range m.rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func newSource() *mockSource {
	return &mockSource{rows: []postgres.Membership{
		{Kind: scheme.ApplicabilityZone, TargetID: "west", CustomerID: "c1"},
		{Kind: scheme.ApplicabilitySegment, TargetID: "key-accounts", CustomerID: "c2"},
	}}
}

func TestBloomResolver_BeforeRefreshDelegates(t *testing.T) {
	src := newSource()
	r := NewBloomResolver(src, Config{}, nil)

	ok, err := r.IsMember(context.Background(), scheme.ApplicabilityZone, []string{"west"}, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, src.lookups)
}

func TestBloomResolver_NegativeShortCircuits(t *testing.T) {
	src := newSource()
	r := NewBloomResolver(src, Config{ExpectedEntries: 100, FalsePositiveRate: 0.0001}, nil)
	ctx := context.Background()
	require.NoError(t, r.Refresh(ctx))

	ok, err := r.IsMember(ctx, scheme.ApplicabilityZone, []string{"north"}, "c9")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, src.lookups)

	ok, err = r.IsMember(ctx, scheme.ApplicabilityZone, []string{"north", "west"}, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, src.lookups)
	assert.Equal(t, []string{"west"}, src.lastArgs)
}

func TestBloomResolver_RowAddedAfterRefresh(t *testing.T) {
	src := newSource()
	r := NewBloomResolver(src, Config{ExpectedEntries: 100, FalsePositiveRate: 0.0001}, nil)
	ctx := context.Background()
	require.NoError(t, r.Refresh(ctx))

	src.add(postgres.Membership{Kind: scheme.ApplicabilityZone, TargetID: "north", CustomerID: "c9"})

	ok, err := r.IsMember(ctx, scheme.ApplicabilityZone, []string{"north"}, "c9")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, src.lookups)
	assert.Len(t, r.stale, 1, "rebuild scheduled")

	require.NoError(t, r.Refresh(ctx))
	ok, err = r.IsMember(ctx, scheme.ApplicabilityZone, []string{"south"}, "c9")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, src.lookups, "current filter answers negatives again")
}

func TestBloomResolver_VersionErrorDelegates(t *testing.T) {
	src := newSource()
	r := NewBloomResolver(src, Config{ExpectedEntries: 100, FalsePositiveRate: 0.0001}, nil)
	ctx := context.Background()
	require.NoError(t, r.Refresh(ctx))

	src.versionErr = errors.New("db down")
	ok, err := r.IsMember(ctx, scheme.ApplicabilityZone, []string{"north"}, "c9")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, src.lookups)
}

func TestBloomResolver_RunRebuildsWhenStale(t *testing.T) {
	src := newSource()
	r := NewBloomResolver(src, Config{ExpectedEntries: 100, FalsePositiveRate: 0.0001}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = r.Run(ctx, 0) }()
	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.filter != nil
	}, time.Second, time.Millisecond)

	src.add(postgres.Membership{Kind: scheme.ApplicabilityZone, TargetID: "north", CustomerID: "c9"})
	ok, err := r.IsMember(ctx, scheme.ApplicabilityZone, []string{"north"}, "c9")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.version == 1 && r.filter.TestString(key(scheme.ApplicabilityZone, "north", "c9"))
	}, time.Second, time.Millisecond)
}

func TestBloomResolver_KindIsPartOfKey(t *testing.T) {
	src := newSource()
	r := NewBloomResolver(src, Config{ExpectedEntries: 100, FalsePositiveRate: 0.0001}, nil)
	ctx := context.Background()
	require.NoError(t, r.Refresh(ctx))

	ok, err := r.IsMember(ctx, scheme.ApplicabilitySegment, []string{"west"}, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBloomResolver_RefreshErrorKeepsFilter(t *testing.T) {
	src := newSource()
	r := NewBloomResolver(src, Config{ExpectedEntries: 100}, nil)
	ctx := context.Background()
	require.NoError(t, r.Refresh(ctx))

	src.allErr = errors.New("db down")
	require.Error(t, r.Refresh(ctx))

	ok, err := r.IsMember(ctx, scheme.ApplicabilitySegment, []string{"key-accounts"}, "c2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBloomResolver_RunStopsOnCancel(t *testing.T) {
	r := NewBloomResolver(newSource(), Config{ExpectedEntries: 100}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 10*time.Millisecond) }()
	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.filter != nil
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
