package queryset

import (
	"context"
	"sync"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

// ============================================================================
// FILTER TRANSLATION
// ============================================================================

// FilterTranslator maps a subject's attributes to a declarative predicate for
// one policy. resourceType feeds per-type admin roles.
type FilterTranslator func(rec *permit.AttributeRecord, resourceType string) Predicate

// TranslatorProvider lets a resource type contribute translations for its own
// policies. The prototype resource handed to Filter is checked for it before
// the shared table.
type TranslatorProvider interface {
	CustomFilterTranslator(policyName string) (FilterTranslator, bool)
}

// DefaultFallbackCap bounds per-object evaluation when a policy has no
// translation. A candidate set larger than the cap under-returns past it;
// Filter reports that through its truncated result.
const DefaultFallbackCap = 1000

// Translator filters listings by policy. A registered translation becomes a
// storage-level predicate; anything else degrades to bounded per-object
// evaluation through the same fail-closed evaluator the deciders use.
type Translator struct {
	evaluator   *permit.Evaluator
	logger      logger.Logger
	fallbackCap int

	mu    sync.RWMutex
	table map[string]FilterTranslator
}

type TranslatorOption func(*Translator)

// WithFallbackCap overrides the per-object evaluation bound.
func WithFallbackCap(n int) TranslatorOption {
	return func(t *Translator) {
		if n > 0 {
			t.fallbackCap = n
		}
	}
}

func WithTranslatorLogger(l logger.Logger) TranslatorOption {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTranslator builds a translator preloaded with the built-in policy
// translations.
func NewTranslator(evaluator *permit.Evaluator, opts ...TranslatorOption) *Translator {
	t := &Translator{
		evaluator:   evaluator,
		logger:      logger.NewNullLogger(),
		fallbackCap: DefaultFallbackCap,
		table:       make(map[string]FilterTranslator),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.Register(permit.PolicyOwnership, TranslateOwnership)
	t.Register(permit.PolicyOwnershipOrAdmin, TranslateOwnershipOrAdmin)
	t.Register(permit.PolicyScopeMatch, TranslateScopeMatch)
	t.Register(permit.PolicyScopeMatchOrAdmin, TranslateScopeMatchOrAdmin)
	t.Register(permit.PolicyGroupMembership, TranslateGroupMembership)
	t.Register(permit.PolicyPublicAccess, TranslatePublicAccess)
	return t
}

// Register adds or replaces the translation for a policy name.
func (t *Translator) Register(policyName string, ft FilterTranslator) {
	if policyName == "" || ft == nil {
		return
	}
	t.mu.Lock()
	t.table[policyName] = ft
	t.mu.Unlock()
}

func (t *Translator) lookup(proto permit.Resource, policyName string) (FilterTranslator, bool) {
	if tp, ok := proto.(TranslatorProvider); ok {
		if ft, ok := tp.CustomFilterTranslator(policyName); ok {
			return ft, true
		}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	ft, ok := t.table[policyName]
	return ft, ok
}

// Filter narrows q to the resources rec may perform action on. proto is a
// prototype value of the collection's resource type, carrying its policy
// naming and any custom translations. truncated reports that the bounded
// fallback may have dropped candidates past the cap; callers decide whether
// a partial listing is acceptable.
func (t *Translator) Filter(ctx context.Context, q Query, proto permit.Resource, rec *permit.AttributeRecord, action string) (filtered Query, truncated bool) {
	namer, ok := proto.(permit.PolicyNamer)
	if !ok {
		// no policy configuration: listing fails closed, unlike the
		// single-object path
		return q.ApplyPredicate(None{}), false
	}
	policyName, ok := namer.PolicyNameFor(action)
	if !ok {
		return q.ApplyPredicate(None{}), false
	}

	if ft, ok := t.lookup(proto, policyName); ok {
		return q.ApplyPredicate(ft(rec, proto.ResourceType())), false
	}
	return t.fallback(ctx, q, proto, rec, action, policyName)
}

// fallback evaluates the policy object by object over a bounded prefix of
// the candidate set.
func (t *Translator) fallback(ctx context.Context, q Query, proto permit.Resource, rec *permit.AttributeRecord, action, policyName string) (Query, bool) {
	t.logger.Warn("policy has no filter translation, falling back to per-object evaluation",
		"policy", policyName,
		"resource_type", proto.ResourceType(),
		"cap", t.fallbackCap)

	// fetch one past the cap so a candidate set of exactly the cap is not
	// misreported as truncated
	candidates, err := q.Iterate(ctx, t.fallbackCap+1)
	if err != nil {
		t.logger.Error("candidate iteration failed",
			"policy", policyName, "resource_type", proto.ResourceType(), "error", err.Error())
		return q.ApplyPredicate(None{}), false
	}
	truncated := len(candidates) > t.fallbackCap
	if truncated {
		candidates = candidates[:t.fallbackCap]
		t.logger.Warn("per-object fallback hit candidate cap, results may be incomplete",
			"policy", policyName,
			"resource_type", proto.ResourceType(),
			"cap", t.fallbackCap)
	}
	matched := make([]int64, 0, len(candidates))
	for _, res := range candidates {
		if t.evaluator.Evaluate(rec, res, action, policyName) {
			matched = append(matched, res.ResourceID())
		}
	}
	return q.ApplyIDFilter(matched), truncated
}

// ============================================================================
// BUILT-IN TRANSLATIONS
// ============================================================================

// TranslateOwnership selects resources owned by the subject.
func TranslateOwnership(rec *permit.AttributeRecord, resourceType string) Predicate {
	return OwnerIs{SubjectID: rec.SubjectID}
}

// TranslateOwnershipOrAdmin degrades to match-everything for global or
// per-type admins; otherwise ownership or the subject's admin groups.
func TranslateOwnershipOrAdmin(rec *permit.AttributeRecord, resourceType string) Predicate {
	if rec.HasAnyRole(permit.RoleAdmin, permit.AdminRoleFor(resourceType)) {
		return All{}
	}
	preds := []Predicate{OwnerIs{SubjectID: rec.SubjectID}}
	if len(rec.AdminGroupIDs) > 0 {
		preds = append(preds, GroupIn{GroupIDs: rec.AdminGroupIDs})
	}
	return AnyOf{Preds: preds}
}

// TranslateScopeMatch matches everything for admins, nothing for subjects
// without a scope value, else resources in the subject's scope.
func TranslateScopeMatch(rec *permit.AttributeRecord, resourceType string) Predicate {
	if rec.HasRole(permit.RoleAdmin) {
		return All{}
	}
	if rec.Scope == "" {
		return None{}
	}
	return ScopeIs{Value: rec.Scope}
}

// TranslateScopeMatchOrAdmin widens scope-match with the subject's admin
// groups.
func TranslateScopeMatchOrAdmin(rec *permit.AttributeRecord, resourceType string) Predicate {
	scoped := TranslateScopeMatch(rec, resourceType)
	if _, isAll := scoped.(All); isAll {
		return scoped
	}
	preds := []Predicate{}
	if _, isNone := scoped.(None); !isNone {
		preds = append(preds, scoped)
	}
	if len(rec.AdminGroupIDs) > 0 {
		preds = append(preds, GroupIn{GroupIDs: rec.AdminGroupIDs})
	}
	if len(preds) == 0 {
		return None{}
	}
	return AnyOf{Preds: preds}
}

// TranslateGroupMembership selects resources in the subject's admin groups.
func TranslateGroupMembership(rec *permit.AttributeRecord, resourceType string) Predicate {
	if len(rec.AdminGroupIDs) == 0 {
		return None{}
	}
	return GroupIn{GroupIDs: rec.AdminGroupIDs}
}

// TranslatePublicAccess selects publicly flagged resources.
func TranslatePublicAccess(rec *permit.AttributeRecord, resourceType string) Predicate {
	return Public{}
}
