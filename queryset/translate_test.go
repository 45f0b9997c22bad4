package queryset

import (
	"context"
	"sync"
	"testing"

	"github.com/oarkflow/permit"
)

// listItem is a concrete resource for listing tests, carrying every
// capability plus per-action policy names.
type listItem struct {
	typ      string
	id       int64
	ownerID  int64
	groupID  int64
	scope    string
	public   bool
	policies map[string]string
}

func (r *listItem) ResourceType() string  { return r.typ }
func (r *listItem) ResourceID() int64     { return r.id }
func (r *listItem) OwnerSubjectID() int64 { return r.ownerID }
func (r *listItem) GroupID() int64        { return r.groupID }
func (r *listItem) ScopeValue() string    { return r.scope }
func (r *listItem) IsPublic() bool        { return r.public }

func (r *listItem) PolicyNameFor(action string) (string, bool) {
	name, ok := r.policies[action]
	return name, ok
}

// documents is the shared dataset: mixed owners, groups, scopes and flags.
func documents() []permit.Resource {
	mk := func(id, owner, group int64, scope string, public bool) *listItem {
		return &listItem{typ: "document", id: id, ownerID: owner, groupID: group, scope: scope, public: public}
	}
	return []permit.Resource{
		mk(1, 123, 10, "IT", false),
		mk(2, 123, 20, "Sales", true),
		mk(3, 456, 10, "IT", false),
		mk(4, 456, 30, "Sales", false),
		mk(5, 789, 20, "HR", true),
		mk(6, 789, 30, "IT", false),
	}
}

func proto(policy, action string) *listItem {
	return &listItem{typ: "document", policies: map[string]string{action: policy}}
}

func newTestTranslator(t *testing.T, opts ...TranslatorOption) (*Translator, *permit.Evaluator) {
	t.Helper()
	reg := permit.NewRegistry()
	permit.RegisterBuiltinPolicies(reg)
	ev := permit.NewEvaluator(reg, nil)
	return NewTranslator(ev, opts...), ev
}

// bruteForce evaluates the policy object by object, the translated path's
// correctness oracle.
func bruteForce(ev *permit.Evaluator, items []permit.Resource, rec *permit.AttributeRecord, action, policy string) []int64 {
	ids := make([]int64, 0)
	for _, res := range items {
		if ev.Evaluate(rec, res, action, policy) {
			ids = append(ids, res.ResourceID())
		}
	}
	return ids
}

func queryIDs(t *testing.T, q Query) []int64 {
	t.Helper()
	mq, ok := q.(*MemoryQuery)
	if !ok {
		t.Fatalf("expected *MemoryQuery, got %T", q)
	}
	ids, err := mq.IDs(context.Background())
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	return ids
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTranslationsAgreeWithPerObjectEvaluation(t *testing.T) {
	tr, ev := newTestTranslator(t)
	items := documents()
	ctx := context.Background()

	records := map[string]*permit.AttributeRecord{
		"plain owner":      permit.NewRecordBuilder(123, "IT").Roles("user").Build(),
		"global admin":     permit.NewRecordBuilder(456, "Ops").Roles(permit.RoleAdmin).Build(),
		"per-type admin":   permit.NewRecordBuilder(789, "").Roles("document_admin").Build(),
		"group admin":      permit.NewRecordBuilder(456, "Sales").AdminGroups(10, 30).Build(),
		"scopeless":        permit.NewRecordBuilder(999, "").Build(),
		"groups and scope": permit.NewRecordBuilder(123, "HR").AdminGroups(20).Build(),
	}
	policies := []string{
		permit.PolicyOwnership,
		permit.PolicyOwnershipOrAdmin,
		permit.PolicyScopeMatch,
		permit.PolicyScopeMatchOrAdmin,
		permit.PolicyGroupMembership,
		permit.PolicyPublicAccess,
	}

	for label, rec := range records {
		for _, policy := range policies {
			q, truncated := tr.Filter(ctx, NewMemoryQuery(items), proto(policy, "view"), rec, "view")
			if truncated {
				t.Fatalf("%s/%s: translated path must never truncate", label, policy)
			}
			got := queryIDs(t, q)
			want := bruteForce(ev, items, rec, "view", policy)
			if !sameIDs(got, want) {
				t.Fatalf("%s/%s: translated %v, per-object %v", label, policy, got, want)
			}
		}
	}
}

func TestFilterFailsClosedWithoutPolicyConfiguration(t *testing.T) {
	tr, _ := newTestTranslator(t)
	ctx := context.Background()
	rec := permit.NewRecordBuilder(123, "IT").Roles(permit.RoleAdmin).Build()

	// resource type names no policy for the action
	q, truncated := tr.Filter(ctx, NewMemoryQuery(documents()), proto(permit.PolicyOwnership, "edit"), rec, "view")
	if truncated {
		t.Fatalf("unexpected truncation")
	}
	if got := queryIDs(t, q); len(got) != 0 {
		t.Fatalf("expected empty listing, got %v", got)
	}

	// resource type has no policy configuration at all
	bare := &bareResource{}
	q, _ = tr.Filter(ctx, NewMemoryQuery(documents()), bare, rec, "view")
	if got := queryIDs(t, q); len(got) != 0 {
		t.Fatalf("expected empty listing for unconfigured type, got %v", got)
	}
}

type bareResource struct{}

func (bareResource) ResourceType() string { return "document" }
func (bareResource) ResourceID() int64    { return 0 }

// recordingLogger counts emitted messages by text for fallback assertions.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

func (l *recordingLogger) Error(msg string, keyvals ...any) { l.record(msg) }
func (l *recordingLogger) Warn(msg string, keyvals ...any)  { l.record(msg) }
func (l *recordingLogger) Info(msg string, keyvals ...any)  { l.record(msg) }
func (l *recordingLogger) Debug(msg string, keyvals ...any) { l.record(msg) }

func TestFallbackEvaluatesPerObject(t *testing.T) {
	reg := permit.NewRegistry()
	evaluated := 0
	reg.Register("custom-owner", func(pc *permit.PolicyContext) (bool, error) {
		evaluated++
		owned, ok := pc.Resource.(permit.Owned)
		return ok && owned.OwnerSubjectID() == pc.Record.SubjectID, nil
	})
	log := &recordingLogger{}
	tr := NewTranslator(permit.NewEvaluator(reg, nil), WithTranslatorLogger(log))

	rec := permit.NewRecordBuilder(123, "IT").Build()
	q, truncated := tr.Filter(context.Background(), NewMemoryQuery(documents()), proto("custom-owner", "view"), rec, "view")
	if truncated {
		t.Fatalf("cap not reached, must not report truncation")
	}
	got := queryIDs(t, q)
	if !sameIDs(got, []int64{1, 2}) {
		t.Fatalf("fallback selected %v, want [1 2]", got)
	}
	if evaluated != len(documents()) {
		t.Fatalf("expected every candidate evaluated, got %d", evaluated)
	}
	if n := log.count("policy has no filter translation, falling back to per-object evaluation"); n != 1 {
		t.Fatalf("expected one fallback warning, got %d", n)
	}
}

func TestFallbackCapBoundsEvaluationAndReportsTruncation(t *testing.T) {
	reg := permit.NewRegistry()
	evaluated := 0
	reg.Register("custom-allow", func(pc *permit.PolicyContext) (bool, error) {
		evaluated++
		return true, nil
	})
	log := &recordingLogger{}
	tr := NewTranslator(permit.NewEvaluator(reg, nil),
		WithTranslatorLogger(log), WithFallbackCap(3))

	rec := permit.NewRecordBuilder(123, "IT").Build()
	q, truncated := tr.Filter(context.Background(), NewMemoryQuery(documents()), proto("custom-allow", "view"), rec, "view")
	if !truncated {
		t.Fatalf("expected truncation when candidates exceed the cap")
	}
	if evaluated != 3 {
		t.Fatalf("expected evaluation bounded by the cap, got %d", evaluated)
	}
	got := queryIDs(t, q)
	if !sameIDs(got, []int64{1, 2, 3}) {
		t.Fatalf("capped fallback selected %v", got)
	}
	if n := log.count("per-object fallback hit candidate cap, results may be incomplete"); n != 1 {
		t.Fatalf("expected one cap warning, got %d", n)
	}
}

func TestFallbackExactCapIsNotTruncated(t *testing.T) {
	reg := permit.NewRegistry()
	evaluated := 0
	reg.Register("custom-allow", func(pc *permit.PolicyContext) (bool, error) {
		evaluated++
		return true, nil
	})
	log := &recordingLogger{}
	tr := NewTranslator(permit.NewEvaluator(reg, nil),
		WithTranslatorLogger(log), WithFallbackCap(len(documents())))

	rec := permit.NewRecordBuilder(123, "IT").Build()
	q, truncated := tr.Filter(context.Background(), NewMemoryQuery(documents()), proto("custom-allow", "view"), rec, "view")
	if truncated {
		t.Fatalf("candidate set of exactly the cap must not report truncation")
	}
	if evaluated != len(documents()) {
		t.Fatalf("expected every candidate evaluated, got %d", evaluated)
	}
	if got := queryIDs(t, q); !sameIDs(got, []int64{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("exact-cap fallback selected %v", got)
	}
	if n := log.count("per-object fallback hit candidate cap, results may be incomplete"); n != 0 {
		t.Fatalf("expected no cap warning, got %d", n)
	}
}

// providerItem contributes its own translation for a custom policy.
type providerItem struct {
	listItem
}

func (r *providerItem) CustomFilterTranslator(policyName string) (FilterTranslator, bool) {
	if policyName != "custom-owner" {
		return nil, false
	}
	return func(rec *permit.AttributeRecord, resourceType string) Predicate {
		return OwnerIs{SubjectID: rec.SubjectID}
	}, true
}

func TestResourceProvidedTranslationBeatsFallback(t *testing.T) {
	reg := permit.NewRegistry()
	log := &recordingLogger{}
	tr := NewTranslator(permit.NewEvaluator(reg, nil), WithTranslatorLogger(log))

	p := &providerItem{}
	p.typ = "document"
	p.policies = map[string]string{"view": "custom-owner"}

	rec := permit.NewRecordBuilder(123, "IT").Build()
	q, truncated := tr.Filter(context.Background(), NewMemoryQuery(documents()), p, rec, "view")
	if truncated {
		t.Fatalf("translated path must not truncate")
	}
	got := queryIDs(t, q)
	if !sameIDs(got, []int64{1, 2}) {
		t.Fatalf("custom translation selected %v, want [1 2]", got)
	}
	if n := log.count("policy has no filter translation, falling back to per-object evaluation"); n != 0 {
		t.Fatalf("custom translation must bypass the fallback")
	}
}

func TestPredicateCombinators(t *testing.T) {
	items := documents()
	res := items[0] // id 1, owner 123, group 10, IT, not public

	if !(AnyOf{Preds: []Predicate{None{}, OwnerIs{SubjectID: 123}}}).Match(res) {
		t.Fatalf("AnyOf missed a matching child")
	}
	if (AnyOf{}).Match(res) {
		t.Fatalf("empty AnyOf must not match")
	}
	if !(AllOf{}).Match(res) {
		t.Fatalf("empty AllOf must match")
	}
	if (AllOf{Preds: []Predicate{OwnerIs{SubjectID: 123}, Public{}}}).Match(res) {
		t.Fatalf("AllOf matched despite a failing child")
	}
	if (GroupIn{}).Match(res) {
		t.Fatalf("empty GroupIn must not match")
	}
}
