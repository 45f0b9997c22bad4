package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

// RedisAttributeStore is the shared attribute cache: records live in redis
// under the subject:{id}:attrs:{scope} key shape, and invalidation events
// travel over a pub/sub channel so every process evicts together.
//
// Per-call redis failures degrade to absent/no-op and are logged; an
// authorization check must never crash its caller over a cache outage. The
// trade is that a redis outage reads as deny for every ABAC check.
type RedisAttributeStore struct {
	client         *redis.Client
	refresher      permit.Refresher
	ttl            time.Duration
	refreshTimeout time.Duration
	logger         logger.Logger
}

type RedisStoreOption func(*RedisAttributeStore)

// WithTTL overrides the default 86400s record TTL.
func WithTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisAttributeStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRefreshTimeout bounds the system-of-record call made on a cache miss.
func WithRefreshTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisAttributeStore) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

func WithStoreLogger(l logger.Logger) RedisStoreOption {
	return func(s *RedisAttributeStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewRedisAttributeStore pings the backing store and fails hard when it is
// unreachable: a process must not start serving decisions against a cache it
// cannot prove works.
func NewRedisAttributeStore(client *redis.Client, refresher permit.Refresher, opts ...RedisStoreOption) (*RedisAttributeStore, error) {
	s := &RedisAttributeStore{
		client:         client,
		refresher:      refresher,
		ttl:            permit.DefaultAttributeTTL,
		refreshTimeout: 2 * time.Second,
		logger:         logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("attribute store unreachable: %w", err)
	}
	return s, nil
}

func (s *RedisAttributeStore) Get(ctx context.Context, subjectID int64, scope string) (*permit.AttributeRecord, bool) {
	key := permit.CacheKey(subjectID, scope)
	data, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		rec := &permit.AttributeRecord{}
		if uerr := json.Unmarshal(data, rec); uerr == nil {
			return rec.Normalize(), true
		}
		// unreadable entry: evict and fall through to refresh
		s.logger.Error("dropping undecodable cache entry", "key", key)
		s.client.Del(ctx, key)
	} else if err != redis.Nil {
		s.logger.Error("attribute cache read failed", "key", key, "error", err.Error())
		return nil, false
	}
	return s.refresh(ctx, subjectID, scope)
}

// refresh consults the system of record. Misses and failures both read as
// absent and are never cached, so a record that appears late is picked up on
// the very next check.
func (s *RedisAttributeStore) refresh(ctx context.Context, subjectID int64, scope string) (*permit.AttributeRecord, bool) {
	if s.refresher == nil {
		return nil, false
	}
	rctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()
	rec, found, err := s.refresher(rctx, subjectID, scope)
	if err != nil {
		s.logger.Error("attribute refresh failed",
			"subject_id", subjectID, "scope", scope, "error", err.Error())
		return nil, false
	}
	if !found {
		return nil, false
	}
	rec.Normalize()
	if perr := s.Put(ctx, subjectID, scope, rec, s.ttl); perr != nil {
		// serve the refreshed record anyway; only the cache write failed
		s.logger.Error("attribute cache write failed",
			"subject_id", subjectID, "scope", scope, "error", perr.Error())
	}
	return rec, true
}

// Put replaces the record under a single SET, which is atomic at key
// granularity: readers see the old record or the new one, never a torn write.
func (s *RedisAttributeStore) Put(ctx context.Context, subjectID int64, scope string, rec *permit.AttributeRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, permit.CacheKey(subjectID, scope), data, ttl).Err()
}

func (s *RedisAttributeStore) Invalidate(ctx context.Context, subjectID int64, scope string) int {
	if scope != "" {
		n, err := s.client.Del(ctx, permit.CacheKey(subjectID, scope)).Result()
		if err != nil {
			s.logger.Error("invalidate failed", "subject_id", subjectID, "scope", scope, "error", err.Error())
			return 0
		}
		return int(n)
	}
	// all scopes: pattern delete via SCAN, never KEYS
	pattern := fmt.Sprintf("subject:%d:attrs:*", subjectID)
	removed := 0
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			s.logger.Error("invalidate scan failed", "subject_id", subjectID, "error", err.Error())
			return removed
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				s.logger.Error("invalidate delete failed", "subject_id", subjectID, "error", err.Error())
				return removed
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed
		}
	}
}

// PublishInvalidation emits the event after the owning service has written
// the system of record; publish-before-write would let another process
// refresh stale data and then discard a still-valid invalidation.
func (s *RedisAttributeStore) PublishInvalidation(ctx context.Context, subjectID int64, scope string) error {
	msg := permit.InvalidationMessage{SubjectID: subjectID, Reason: permit.ReasonInvalidate}
	if scope != "" {
		msg.Scope = &scope
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, permit.InvalidationChannel, payload).Err(); err != nil {
		s.logger.Error("invalidation publish failed", "subject_id", subjectID, "scope", scope, "error", err.Error())
		return err
	}
	return nil
}

// SubscribeInvalidations blocks on the shared channel until ctx is cancelled,
// evicting matching local entries and then invoking handler. Malformed
// messages are logged and skipped; the loop never dies over one bad payload.
func (s *RedisAttributeStore) SubscribeInvalidations(ctx context.Context, handler permit.InvalidationHandler) error {
	sub := s.client.Subscribe(ctx, permit.InvalidationChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			subjectID, scope, err := DecodeInvalidation([]byte(msg.Payload))
			if err != nil {
				s.logger.Error("malformed invalidation message", "payload", msg.Payload, "error", err.Error())
				continue
			}
			s.Invalidate(ctx, subjectID, scope)
			if handler != nil {
				handler(subjectID, scope)
			}
		}
	}
}

func (s *RedisAttributeStore) HealthCheck(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// DecodeInvalidation parses an invalidation payload. Unknown fields are
// ignored for forward compatibility; scope null decodes as "".
func DecodeInvalidation(payload []byte) (subjectID int64, scope string, err error) {
	msg := permit.InvalidationMessage{}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return 0, "", err
	}
	if msg.SubjectID == 0 {
		return 0, "", fmt.Errorf("invalidation message missing subjectID")
	}
	if msg.Scope != nil {
		scope = *msg.Scope
	}
	return msg.SubjectID, scope, nil
}
