// Package cache caches the active scheme master in Redis so that concurrent
// calculation passes across replicas do not each hit the database.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

// DefaultKey is the cache key holding the serialized snapshot.
const DefaultKey = "schemes:active:v1"

// Client is the subset of the go-redis API the cache needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var (
	_ Client            = (*redis.Client)(nil)
	_ scheme.Repository = (*SnapshotCache)(nil)
)

// SnapshotCache is a read-through scheme.Repository. Misses are collapsed
// with singleflight and filled from the backing repository. Redis failures
// degrade to the backing repository instead of failing the calculation.
type SnapshotCache struct {
	client  Client
	backing scheme.Repository
	key     string
	ttl     time.Duration
	lg      *zap.Logger
	group   singleflight.Group
}

// Option configures a SnapshotCache.
type Option func(*SnapshotCache)

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(c *SnapshotCache) { c.key = key }
}

// WithLogger sets the logger for cache degradation warnings.
func WithLogger(lg *zap.Logger) Option {
	return func(c *SnapshotCache) { c.lg = lg }
}

// NewSnapshotCache wraps backing with a Redis cache whose entries live for ttl.
func NewSnapshotCache(client Client, backing scheme.Repository, ttl time.Duration, opts ...Option) *SnapshotCache {
	c := &SnapshotCache{
		client:  client,
		backing: backing,
		key:     DefaultKey,
		ttl:     ttl,
		lg:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Snapshot implements scheme.Repository.
func (c *SnapshotCache) Snapshot(ctx context.Context) ([]scheme.Definition, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		defs, decErr := decode(raw)
		if decErr == nil {
			return defs, nil
		}
		c.lg.Warn("Discarding undecodable scheme snapshot", zap.Error(decErr))
	case errors.Is(err, redis.Nil):
	default:
		c.lg.Warn("Scheme cache unavailable", zap.Error(err))
	}

	v, err, _ := c.group.Do(c.key, func() (any, error) {
		return c.fill(ctx)
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]scheme.Definition)
	out := make([]scheme.Definition, len(shared))
	for i, d := range shared {
		out[i] = d.Clone()
	}
	return out, nil
}

func (c *SnapshotCache) fill(ctx context.Context) ([]scheme.Definition, error) {
	defs, err := c.backing.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load schemes")
	}
	raw, err := encode(defs)
	if err != nil {
		c.lg.Warn("Skipping scheme cache fill", zap.Error(err))
		return defs, nil
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		c.lg.Warn("Scheme cache fill failed", zap.Error(err))
	}
	return defs, nil
}

// Invalidate drops the cached snapshot. The scheme ingest tool calls it after
// an import so the next pass reads the new master.
func (c *SnapshotCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return errors.Wrap(err, "invalidate scheme cache")
	}
	return nil
}

func encode(defs []scheme.Definition) ([]byte, error) {
	docs := make([]scheme.Document, 0, len(defs))
	for _, d := range defs {
		doc, err := scheme.NewDocument(d)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return nil, errors.Wrap(err, "marshal snapshot")
	}
	return b, nil
}

func decode(raw []byte) ([]scheme.Definition, error) {
	var docs []scheme.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, errors.Wrap(err, "unmarshal snapshot")
	}
	defs := make([]scheme.Definition, len(docs))
	for i, doc := range docs {
		defs[i] = doc.Definition()
	}
	return defs, nil
}
