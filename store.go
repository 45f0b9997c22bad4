package permit

import (
	"context"
	"fmt"
	"time"
)

// ============================================================================
// ATTRIBUTE STORE CONTRACT
// ============================================================================

// DefaultAttributeTTL is how long a refreshed record stays cached before the
// next read falls through to the system of record again.
const DefaultAttributeTTL = 86400 * time.Second

// InvalidationChannel is the well-known pub/sub channel every store instance
// shares. Changing it breaks coherency with already-deployed processes.
const InvalidationChannel = "subject:attrs:invalidate"

// CacheKey returns the backing-store key for one (subject, scope) record.
// The shape is load-bearing: deployed caches already hold keys of this form.
func CacheKey(subjectID int64, scope string) string {
	return fmt.Sprintf("subject:%d:attrs:%s", subjectID, scope)
}

// Refresher loads a subject's attributes from the system of record after a
// cache miss. found=false with a nil error means the subject has no record
// under that scope; stores never cache that outcome, so a record that appears
// later is picked up on the next check. Refreshers must be idempotent.
type Refresher func(ctx context.Context, subjectID int64, scope string) (rec *AttributeRecord, found bool, err error)

// InvalidationHandler receives decoded invalidation events. scope=="" means
// every scope of the subject was invalidated. Handlers run inline on the
// subscriber loop and must return quickly.
type InvalidationHandler func(subjectID int64, scope string)

// AttributeStore is the durable, shared cache of AttributeRecords keyed by
// (subjectID, scope). Per-call failures degrade to absent/no-op; only
// construction of a concrete store is allowed to fail hard.
type AttributeStore interface {
	// Get reads through the cache, invoking the refresher on a miss and
	// caching the result (when found) with the store's TTL.
	Get(ctx context.Context, subjectID int64, scope string) (*AttributeRecord, bool)

	// Put atomically replaces the record for (subjectID, scope) and resets
	// its TTL. Readers never observe a partially written record.
	Put(ctx context.Context, subjectID int64, scope string, rec *AttributeRecord, ttl time.Duration) error

	// Invalidate deletes one scoped entry, or every entry for the subject
	// when scope is empty. Returns the number of entries removed.
	Invalidate(ctx context.Context, subjectID int64, scope string) int

	// PublishInvalidation emits an invalidation event on the shared channel
	// so every subscribed store instance evicts its matching entries.
	PublishInvalidation(ctx context.Context, subjectID int64, scope string) error

	// SubscribeInvalidations blocks, dispatching events to handler until ctx
	// is cancelled. Malformed messages are logged and skipped.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// HealthCheck probes the backing store.
	HealthCheck(ctx context.Context) bool
}

// InvalidationMessage is the wire format on InvalidationChannel: a flat JSON
// object. Scope nil means all scopes for the subject. Decoders ignore unknown
// fields for forward compatibility.
type InvalidationMessage struct {
	SubjectID int64   `json:"subjectID"`
	Scope     *string `json:"scope"`
	Reason    string  `json:"reason"`
}

// ReasonInvalidate is the only reason currently emitted.
const ReasonInvalidate = "invalidate"
