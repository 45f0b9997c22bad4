package stores

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

// InvalidationBus is an in-process stand-in for the shared pub/sub channel,
// used by MemoryAttributeStore. Payloads carry the same wire format as the
// redis channel so subscriber behavior can be tested without a broker.
type InvalidationBus struct {
	mu   sync.Mutex
	subs []chan []byte
}

func NewInvalidationBus() *InvalidationBus {
	return &InvalidationBus{}
}

func (b *InvalidationBus) Publish(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (b *InvalidationBus) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

type memoryEntry struct {
	rec       *permit.AttributeRecord
	expiresAt time.Time
}

// MemoryAttributeStore implements the attribute store contract against a
// process-local map. For tests and single-process deployments; coherency
// across processes requires the redis store.
type MemoryAttributeStore struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	refresher permit.Refresher
	ttl       time.Duration
	bus       *InvalidationBus
	logger    logger.Logger
}

type MemoryStoreOption func(*MemoryAttributeStore)

func WithMemoryTTL(ttl time.Duration) MemoryStoreOption {
	return func(s *MemoryAttributeStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMemoryBus(bus *InvalidationBus) MemoryStoreOption {
	return func(s *MemoryAttributeStore) {
		if bus != nil {
			s.bus = bus
		}
	}
}

func WithMemoryLogger(l logger.Logger) MemoryStoreOption {
	return func(s *MemoryAttributeStore) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewMemoryAttributeStore(refresher permit.Refresher, opts ...MemoryStoreOption) *MemoryAttributeStore {
	s := &MemoryAttributeStore{
		entries:   make(map[string]memoryEntry),
		refresher: refresher,
		ttl:       permit.DefaultAttributeTTL,
		bus:       NewInvalidationBus(),
		logger:    logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryAttributeStore) Get(ctx context.Context, subjectID int64, scope string) (*permit.AttributeRecord, bool) {
	key := permit.CacheKey(subjectID, scope)
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		if time.Now().Before(entry.expiresAt) {
			return entry.rec.Clone(), true
		}
		// re-check under the write lock: a concurrent Put may have
		// replaced the expired entry since the read above
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok {
			if time.Now().Before(cur.expiresAt) {
				rec := cur.rec.Clone()
				s.mu.Unlock()
				return rec, true
			}
			delete(s.entries, key)
		}
		s.mu.Unlock()
	}
	if s.refresher == nil {
		return nil, false
	}
	rec, found, err := s.refresher(ctx, subjectID, scope)
	if err != nil {
		s.logger.Error("attribute refresh failed",
			"subject_id", subjectID, "scope", scope, "error", err.Error())
		return nil, false
	}
	if !found {
		return nil, false
	}
	rec.Normalize()
	_ = s.Put(ctx, subjectID, scope, rec, s.ttl)
	return rec, true
}

func (s *MemoryAttributeStore) Put(ctx context.Context, subjectID int64, scope string, rec *permit.AttributeRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	s.mu.Lock()
	s.entries[permit.CacheKey(subjectID, scope)] = memoryEntry{
		rec:       rec.Clone().Normalize(),
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryAttributeStore) Invalidate(ctx context.Context, subjectID int64, scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope != "" {
		key := permit.CacheKey(subjectID, scope)
		if _, ok := s.entries[key]; ok {
			delete(s.entries, key)
			return 1
		}
		return 0
	}
	// CacheKey with an empty scope yields the subject's key prefix
	prefix := permit.CacheKey(subjectID, "")
	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryAttributeStore) PublishInvalidation(ctx context.Context, subjectID int64, scope string) error {
	msg := permit.InvalidationMessage{SubjectID: subjectID, Reason: permit.ReasonInvalidate}
	if scope != "" {
		msg.Scope = &scope
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.bus.Publish(payload)
	return nil
}

func (s *MemoryAttributeStore) SubscribeInvalidations(ctx context.Context, handler permit.InvalidationHandler) error {
	ch := s.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-ch:
			subjectID, scope, err := DecodeInvalidation(payload)
			if err != nil {
				s.logger.Error("malformed invalidation message", "payload", string(payload), "error", err.Error())
				continue
			}
			s.Invalidate(ctx, subjectID, scope)
			if handler != nil {
				handler(subjectID, scope)
			}
		}
	}
}

func (s *MemoryAttributeStore) HealthCheck(ctx context.Context) bool { return true }

// Len reports the number of live entries. Test support.
func (s *MemoryAttributeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
