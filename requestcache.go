package permit

import "context"

// ============================================================================
// PER-REQUEST MEMOIZATION
// ============================================================================

type requestCacheKey struct{}

type scopedRecordKey struct {
	subjectID int64
	scope     string
}

// requestCache memoizes attribute fetches for the lifetime of one logical
// request. It is carried by the context, so it is dropped when the request
// context is, and it is not safe for use across requests. Both found and
// not-found outcomes are memoized: within a single request the decision must
// be stable, and the no-negative-caching policy applies to the durable store,
// not to one request's view.
type requestCache struct {
	records map[scopedRecordKey]*AttributeRecord
}

// WithRequestCache attaches a fresh attribute memo to ctx. Hosting services
// call this once per inbound request; without it every decider check reads
// the store directly.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestCacheKey{}, &requestCache{
		records: make(map[scopedRecordKey]*AttributeRecord),
	})
}

func requestCacheFrom(ctx context.Context) *requestCache {
	rc, _ := ctx.Value(requestCacheKey{}).(*requestCache)
	return rc
}

// fetchRecord reads a record through the request memo when one is attached.
// A memoized nil entry means the earlier fetch found nothing.
func fetchRecord(ctx context.Context, store AttributeStore, subjectID int64, scope string) (*AttributeRecord, bool) {
	rc := requestCacheFrom(ctx)
	if rc == nil {
		return store.Get(ctx, subjectID, scope)
	}
	key := scopedRecordKey{subjectID: subjectID, scope: scope}
	if rec, seen := rc.records[key]; seen {
		return rec, rec != nil
	}
	rec, found := store.Get(ctx, subjectID, scope)
	if !found {
		rec = nil
	}
	rc.records[key] = rec
	return rec, found
}
