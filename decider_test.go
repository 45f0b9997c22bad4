package permit

import (
	"context"
	"testing"
	"time"
)

// fakeStore is an in-package AttributeStore backed by a plain map, with a
// read counter for memoization assertions.
type fakeStore struct {
	records map[string]*AttributeRecord
	gets    int
}

func newFakeStore(recs ...*AttributeRecord) *fakeStore {
	s := &fakeStore{records: map[string]*AttributeRecord{}}
	for _, rec := range recs {
		s.records[CacheKey(rec.SubjectID, rec.Scope)] = rec
	}
	return s
}

// put registers a record under an explicit cache scope, which need not match
// the record's own Scope attribute.
func (s *fakeStore) put(cacheScope string, rec *AttributeRecord) {
	s.records[CacheKey(rec.SubjectID, cacheScope)] = rec
}

func (s *fakeStore) Get(ctx context.Context, subjectID int64, scope string) (*AttributeRecord, bool) {
	s.gets++
	rec, ok := s.records[CacheKey(subjectID, scope)]
	return rec, ok
}

func (s *fakeStore) Put(ctx context.Context, subjectID int64, scope string, rec *AttributeRecord, ttl time.Duration) error {
	s.records[CacheKey(subjectID, scope)] = rec
	return nil
}

func (s *fakeStore) Invalidate(ctx context.Context, subjectID int64, scope string) int {
	key := CacheKey(subjectID, scope)
	if _, ok := s.records[key]; ok {
		delete(s.records, key)
		return 1
	}
	return 0
}

func (s *fakeStore) PublishInvalidation(ctx context.Context, subjectID int64, scope string) error {
	return nil
}

func (s *fakeStore) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeStore) HealthCheck(ctx context.Context) bool { return true }

func newTestEngine(t *testing.T, store AttributeStore, opts ...EngineOption) *Engine {
	t.Helper()
	reg := NewRegistry()
	RegisterBuiltinPolicies(reg)
	eng, err := NewEngine(store, reg, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func TestRoleDeciderGrantsOnAnyRequiredRole(t *testing.T) {
	store := newFakeStore(
		NewRecordBuilder(123, "IT").Roles("user").Build(),
		NewRecordBuilder(456, "Sales").Build(),
	)
	eng := newTestEngine(t, store, WithDefaultScope("IT"))
	ctx := context.Background()

	d := eng.RoleDecider([]string{"user", "manager"})
	if !d.HasPermission(ctx, Principal{SubjectID: 123, Authenticated: true}) {
		t.Fatalf("expected grant for subject holding one required role")
	}

	sales := eng.RoleDecider([]string{"user"}, WithScope("Sales"))
	if sales.HasPermission(ctx, Principal{SubjectID: 456, Authenticated: true}) {
		t.Fatalf("expected deny for subject without the role")
	}
}

func TestRoleDeciderDeniesUnauthenticated(t *testing.T) {
	store := newFakeStore(NewRecordBuilder(123, "IT").Roles("user").Build())
	eng := newTestEngine(t, store, WithDefaultScope("IT"))

	d := eng.RoleDecider([]string{"user"})
	if d.HasPermission(context.Background(), Principal{SubjectID: 123}) {
		t.Fatalf("expected deny for unauthenticated principal")
	}
	if store.gets != 0 {
		t.Fatalf("expected no store read for unauthenticated principal, got %d", store.gets)
	}
}

func TestRoleDeciderDeniesUnknownSubject(t *testing.T) {
	eng := newTestEngine(t, newFakeStore(), WithDefaultScope("IT"))
	d := eng.RoleDecider([]string{"user"})
	if d.HasPermission(context.Background(), Principal{SubjectID: 999, Authenticated: true}) {
		t.Fatalf("expected deny when no record exists")
	}
}

func TestABACDeciderOwnershipOrAdmin(t *testing.T) {
	store := newFakeStore(
		NewRecordBuilder(123, "IT").Roles("user").Build(),
		NewRecordBuilder(456, "Sales").Build(),
	)
	eng := newTestEngine(t, store)
	ctx := context.Background()

	doc := &testResource{
		typ: "document", id: 10, ownerID: 123, scope: "IT",
		policies: map[string]string{ActionEdit: PolicyOwnershipOrAdmin},
	}

	owner := eng.ABACDecider(WithScope("IT"), WithMethod("update"))
	if !owner.HasResourcePermission(ctx, Principal{SubjectID: 123, Authenticated: true}, doc) {
		t.Fatalf("expected owner to edit own document")
	}

	stranger := eng.ABACDecider(WithScope("Sales"), WithMethod("update"))
	if stranger.HasResourcePermission(ctx, Principal{SubjectID: 456, Authenticated: true}, doc) {
		t.Fatalf("expected non-owner without roles to be denied")
	}
}

func TestABACDeciderAdminPassesScopeMatchEverywhere(t *testing.T) {
	admin := NewRecordBuilder(7, "Ops").Roles(RoleAdmin).Build()
	store := newFakeStore(admin)
	eng := newTestEngine(t, store)
	ctx := context.Background()

	d := eng.ABACDecider(WithScope("Ops"), WithMethod("read"))
	for _, scope := range []string{"IT", "Sales", "HR"} {
		res := &testResource{
			typ: "report", id: 1, scope: scope,
			policies: map[string]string{ActionView: PolicyScopeMatch},
		}
		if !d.HasResourcePermission(ctx, Principal{SubjectID: 7, Authenticated: true}, res) {
			t.Fatalf("expected admin to pass scope-match for scope %q", scope)
		}
	}
}

func TestABACDeciderUntaggedResourceAllowed(t *testing.T) {
	store := newFakeStore(NewRecordBuilder(123, "IT").Build())
	eng := newTestEngine(t, store)

	// untypedResource has no PolicyNamer, so it carries no ABAC configuration
	d := eng.ABACDecider(WithScope("IT"), WithMethod("read"))
	if !d.HasResourcePermission(context.Background(), Principal{SubjectID: 123, Authenticated: true}, untypedResource{}) {
		t.Fatalf("expected resource without policy configuration to pass")
	}
}

// untypedResource implements only the minimal Resource contract.
type untypedResource struct{}

func (untypedResource) ResourceType() string { return "note" }
func (untypedResource) ResourceID() int64    { return 1 }

func TestABACDeciderActionOverrideBeatsMethod(t *testing.T) {
	store := newFakeStore(NewRecordBuilder(123, "IT").Build())
	eng := newTestEngine(t, store)
	ctx := context.Background()

	// delete policy only; method says read but the override forces delete
	res := &testResource{
		typ: "document", id: 3, ownerID: 123,
		policies: map[string]string{ActionDelete: PolicyOwnership},
	}
	d := eng.ABACDecider(WithScope("IT"), WithMethod("read"), WithAction(ActionDelete))
	if !d.HasResourcePermission(ctx, Principal{SubjectID: 123, Authenticated: true}, res) {
		t.Fatalf("expected action override to select the delete policy")
	}
}

// countingDecider records how often it was consulted.
type countingDecider struct {
	allow bool
	calls int
}

func (d *countingDecider) HasPermission(ctx context.Context, p Principal) bool {
	d.calls++
	return d.allow
}

func (d *countingDecider) HasResourcePermission(ctx context.Context, p Principal, res Resource) bool {
	d.calls++
	return d.allow
}

func TestAndShortCircuitsOnDeny(t *testing.T) {
	first := &countingDecider{allow: false}
	second := &countingDecider{allow: true}
	ctx := context.Background()

	if And(first, second).HasPermission(ctx, Principal{SubjectID: 1, Authenticated: true}) {
		t.Fatalf("expected AND with a denying child to deny")
	}
	if first.calls != 1 || second.calls != 0 {
		t.Fatalf("expected short-circuit after first deny, calls: %d/%d", first.calls, second.calls)
	}
}

func TestOrShortCircuitsOnGrant(t *testing.T) {
	first := &countingDecider{allow: true}
	second := &countingDecider{allow: false}
	ctx := context.Background()

	if !Or(first, second).HasPermission(ctx, Principal{SubjectID: 1, Authenticated: true}) {
		t.Fatalf("expected OR with a granting child to grant")
	}
	if first.calls != 1 || second.calls != 0 {
		t.Fatalf("expected short-circuit after first grant, calls: %d/%d", first.calls, second.calls)
	}
}

func TestCombinatorsAllChildrenAgree(t *testing.T) {
	ctx := context.Background()
	p := Principal{SubjectID: 1, Authenticated: true}

	a := &countingDecider{allow: true}
	b := &countingDecider{allow: true}
	if !And(a, b).HasPermission(ctx, p) {
		t.Fatalf("expected AND of grants to grant")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("expected both children consulted, calls: %d/%d", a.calls, b.calls)
	}

	c := &countingDecider{allow: false}
	d := &countingDecider{allow: false}
	if Or(c, d).HasPermission(ctx, p) {
		t.Fatalf("expected OR of denies to deny")
	}
	if c.calls != 1 || d.calls != 1 {
		t.Fatalf("expected both children consulted, calls: %d/%d", c.calls, d.calls)
	}
}

func TestCombinatorsEmptyDeny(t *testing.T) {
	ctx := context.Background()
	p := Principal{SubjectID: 1, Authenticated: true}
	if And().HasPermission(ctx, p) {
		t.Fatalf("expected empty AND to deny")
	}
	if Or().HasPermission(ctx, p) {
		t.Fatalf("expected empty OR to deny")
	}
}

func TestScopeResolutionPriority(t *testing.T) {
	// each scope carries a distinct role, so a grant proves which scope
	// was actually consulted
	store := newFakeStore()
	store.put("explicit", NewRecordBuilder(123, "explicit").Roles("alpha").Build())
	store.put("resolved", NewRecordBuilder(123, "resolved").Roles("beta").Build())
	store.put("default", NewRecordBuilder(123, "default").Roles("gamma").Build())

	resolver := func(ctx context.Context, p Principal) string { return "resolved" }
	eng := newTestEngine(t, store, WithDefaultScope("default"), WithScopeResolver(resolver))
	ctx := context.Background()
	p := Principal{SubjectID: 123, Authenticated: true}

	// explicit binding wins over both the resolver and the default
	explicit := eng.RoleDecider([]string{"alpha"}, WithScope("explicit"))
	if !explicit.HasPermission(ctx, p) {
		t.Fatalf("expected explicit scope binding to win")
	}

	// resolver wins over the engine default
	viaResolver := eng.RoleDecider([]string{"beta"})
	if !viaResolver.HasPermission(ctx, p) {
		t.Fatalf("expected resolver scope to win over the default")
	}

	// with neither, the engine default applies
	plain := newTestEngine(t, store, WithDefaultScope("default"))
	viaDefault := plain.RoleDecider([]string{"gamma"})
	if !viaDefault.HasPermission(ctx, p) {
		t.Fatalf("expected default scope to apply")
	}
}

func TestNoResolvableScopeDenies(t *testing.T) {
	store := newFakeStore(NewRecordBuilder(123, "IT").Roles("user").Build())
	eng := newTestEngine(t, store)

	d := eng.RoleDecider([]string{"user"})
	if d.HasPermission(context.Background(), Principal{SubjectID: 123, Authenticated: true}) {
		t.Fatalf("expected deny when no scope is resolvable")
	}
	if store.gets != 0 {
		t.Fatalf("expected no store read without a scope, got %d", store.gets)
	}
}

func TestRequestCacheMemoizesStoreReads(t *testing.T) {
	store := newFakeStore(NewRecordBuilder(123, "IT").Roles("user").Build())
	eng := newTestEngine(t, store, WithDefaultScope("IT"))
	ctx := WithRequestCache(context.Background())
	p := Principal{SubjectID: 123, Authenticated: true}

	d := And(
		eng.RoleDecider([]string{"user"}),
		eng.ABACDecider(WithMethod("read")),
	)
	res := &testResource{typ: "document", id: 5, ownerID: 123,
		policies: map[string]string{ActionView: PolicyOwnership}}
	if !d.HasResourcePermission(ctx, p, res) {
		t.Fatalf("expected combined decision to grant")
	}
	if store.gets != 1 {
		t.Fatalf("expected a single store read under the request memo, got %d", store.gets)
	}
}

func TestRequestCacheMemoizesMisses(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(t, store, WithDefaultScope("IT"))
	ctx := WithRequestCache(context.Background())
	p := Principal{SubjectID: 42, Authenticated: true}

	d := eng.RoleDecider([]string{"user"})
	if d.HasPermission(ctx, p) {
		t.Fatalf("expected deny for unknown subject")
	}
	if d.HasPermission(ctx, p) {
		t.Fatalf("expected deny to be stable within one request")
	}
	if store.gets != 1 {
		t.Fatalf("expected the miss to be memoized, got %d reads", store.gets)
	}
}

func TestWithoutRequestCacheEveryCheckReadsStore(t *testing.T) {
	store := newFakeStore(NewRecordBuilder(123, "IT").Roles("user").Build())
	eng := newTestEngine(t, store, WithDefaultScope("IT"))
	ctx := context.Background()
	p := Principal{SubjectID: 123, Authenticated: true}

	d := eng.RoleDecider([]string{"user"})
	d.HasPermission(ctx, p)
	d.HasPermission(ctx, p)
	if store.gets != 2 {
		t.Fatalf("expected two store reads without the memo, got %d", store.gets)
	}
}
