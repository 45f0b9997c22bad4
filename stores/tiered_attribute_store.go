package stores

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/permit"
)

// TieredAttributeStore fronts a shared attribute store with a small
// in-process ristretto cache. The local tier uses a short TTL and is evicted
// by the same invalidation events as the shared tier, so the staleness window
// is min(local TTL, invalidation latency).
type TieredAttributeStore struct {
	inner    permit.AttributeStore
	local    *ristretto.Cache
	localTTL time.Duration
}

// WrapLocalCache wraps inner with the local tier when cfg enables it, and
// returns inner unchanged otherwise. Deployments switch the tier on through
// configuration alone.
func WrapLocalCache(inner permit.AttributeStore, cfg permit.LocalCacheConfig) (permit.AttributeStore, error) {
	if !cfg.Enabled {
		return inner, nil
	}
	return NewTieredAttributeStore(inner, cfg)
}

// NewTieredAttributeStore wraps inner with a ristretto front sized by cfg.
func NewTieredAttributeStore(inner permit.AttributeStore, cfg permit.LocalCacheConfig) (*TieredAttributeStore, error) {
	numCounters := cfg.NumCounters
	if numCounters <= 0 {
		numCounters = 100_000
	}
	maxCost := cfg.MaxCost
	if maxCost <= 0 {
		maxCost = 10_000
	}
	bufferItems := cfg.BufferItems
	if bufferItems <= 0 {
		bufferItems = 64
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	localTTL := time.Duration(cfg.TTLSeconds) * time.Second
	if localTTL <= 0 {
		localTTL = 30 * time.Second
	}
	return &TieredAttributeStore{inner: inner, local: cache, localTTL: localTTL}, nil
}

func (s *TieredAttributeStore) Get(ctx context.Context, subjectID int64, scope string) (*permit.AttributeRecord, bool) {
	key := permit.CacheKey(subjectID, scope)
	if v, ok := s.local.Get(key); ok {
		if rec, ok := v.(*permit.AttributeRecord); ok {
			return rec.Clone(), true
		}
	}
	rec, found := s.inner.Get(ctx, subjectID, scope)
	if found {
		s.local.SetWithTTL(key, rec.Clone(), 1, s.localTTL)
	}
	return rec, found
}

func (s *TieredAttributeStore) Put(ctx context.Context, subjectID int64, scope string, rec *permit.AttributeRecord, ttl time.Duration) error {
	s.local.Del(permit.CacheKey(subjectID, scope))
	return s.inner.Put(ctx, subjectID, scope, rec, ttl)
}

func (s *TieredAttributeStore) Invalidate(ctx context.Context, subjectID int64, scope string) int {
	s.evictLocal(subjectID, scope)
	return s.inner.Invalidate(ctx, subjectID, scope)
}

func (s *TieredAttributeStore) PublishInvalidation(ctx context.Context, subjectID int64, scope string) error {
	return s.inner.PublishInvalidation(ctx, subjectID, scope)
}

// SubscribeInvalidations delegates to the shared tier and evicts the local
// tier before the caller's handler runs.
func (s *TieredAttributeStore) SubscribeInvalidations(ctx context.Context, handler permit.InvalidationHandler) error {
	return s.inner.SubscribeInvalidations(ctx, func(subjectID int64, scope string) {
		s.evictLocal(subjectID, scope)
		if handler != nil {
			handler(subjectID, scope)
		}
	})
}

func (s *TieredAttributeStore) HealthCheck(ctx context.Context) bool {
	return s.inner.HealthCheck(ctx)
}

// evictLocal drops the scoped entry. Ristretto cannot enumerate keys, so an
// all-scopes invalidation clears the whole local tier; the short TTL makes
// that cheap and the shared tier still does a precise pattern delete.
func (s *TieredAttributeStore) evictLocal(subjectID int64, scope string) {
	if scope == "" {
		s.local.Clear()
		return
	}
	s.local.Del(permit.CacheKey(subjectID, scope))
}
