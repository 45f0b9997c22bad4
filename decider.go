package permit

import "context"

// ============================================================================
// PERMISSION DECIDERS
// ============================================================================

// Decider is a composable unit yielding a permission boolean. Deciders never
// return errors: every internal failure resolves to deny before it reaches
// the caller.
type Decider interface {
	// HasPermission decides a non-object-scoped check (list, create).
	HasPermission(ctx context.Context, p Principal) bool
	// HasResourcePermission decides a check against one concrete resource.
	HasResourcePermission(ctx context.Context, p Principal, res Resource) bool
}

// ScopeResolver derives the attribute scope for a call when no explicit
// binding exists, e.g. from a tenant carried by the request context.
type ScopeResolver func(ctx context.Context, p Principal) string

// scopeFor resolves the scope for one call: explicit binding first, then the
// per-call resolver, then the engine-wide default. First non-empty wins.
func (e *Engine) scopeFor(ctx context.Context, p Principal, explicit string, resolver ScopeResolver) string {
	if explicit != "" {
		return explicit
	}
	if resolver != nil {
		if scope := resolver(ctx, p); scope != "" {
			return scope
		}
	}
	return e.defaultScope
}

// ----------------------------------------------------------------------------
// Role-only decider
// ----------------------------------------------------------------------------

// RoleOnlyDecider grants when the subject carries at least one required role.
// It never looks at a resource.
type RoleOnlyDecider struct {
	engine        *Engine
	requiredRoles []string
	scope         string
	scopeResolver ScopeResolver
}

func (d *RoleOnlyDecider) HasPermission(ctx context.Context, p Principal) bool {
	if !p.Authenticated {
		return false
	}
	scope := d.engine.scopeFor(ctx, p, d.scope, d.scopeResolver)
	if scope == "" {
		d.engine.logger.Error("no scope resolvable for role check", "subject_id", p.SubjectID)
		return false
	}
	rec, found := fetchRecord(ctx, d.engine.store, p.SubjectID, scope)
	if !found {
		return false
	}
	return rec.HasAnyRole(d.requiredRoles...)
}

func (d *RoleOnlyDecider) HasResourcePermission(ctx context.Context, p Principal, res Resource) bool {
	return d.HasPermission(ctx, p)
}

// ----------------------------------------------------------------------------
// Resource ABAC decider
// ----------------------------------------------------------------------------

// ResourceABACDecider runs the policy configured by the resource type for the
// resolved action. Resource types without any policy configuration pass the
// object check: untagged types are not silently locked down.
type ResourceABACDecider struct {
	engine         *Engine
	scope          string
	scopeResolver  ScopeResolver
	method         string
	actionOverride string
}

func (d *ResourceABACDecider) action() string {
	if d.actionOverride != "" {
		return d.actionOverride
	}
	return ResolveAction(d.method)
}

func (d *ResourceABACDecider) record(ctx context.Context, p Principal) (*AttributeRecord, bool) {
	if !p.Authenticated {
		return nil, false
	}
	scope := d.engine.scopeFor(ctx, p, d.scope, d.scopeResolver)
	if scope == "" {
		d.engine.logger.Error("no scope resolvable for abac check", "subject_id", p.SubjectID)
		return nil, false
	}
	return fetchRecord(ctx, d.engine.store, p.SubjectID, scope)
}

func (d *ResourceABACDecider) HasPermission(ctx context.Context, p Principal) bool {
	_, found := d.record(ctx, p)
	return found
}

func (d *ResourceABACDecider) HasResourcePermission(ctx context.Context, p Principal, res Resource) bool {
	rec, found := d.record(ctx, p)
	if !found {
		return false
	}
	namer, ok := res.(PolicyNamer)
	if !ok {
		// resource type carries no ABAC configuration at all
		return true
	}
	action := d.action()
	policyName, _ := namer.PolicyNameFor(action)
	return d.engine.evaluator.Evaluate(rec, res, action, policyName)
}

// ----------------------------------------------------------------------------
// Boolean combinators
// ----------------------------------------------------------------------------

type combinedDecider struct {
	children []Decider
	// disjunctive selects OR semantics; otherwise AND
	disjunctive bool
}

// And combines deciders conjunctively. Evaluation is left to right and stops
// at the first deny; later children are not invoked.
func And(children ...Decider) Decider {
	return &combinedDecider{children: children}
}

// Or combines deciders disjunctively. Evaluation is left to right and stops
// at the first grant; later children are not invoked.
func Or(children ...Decider) Decider {
	return &combinedDecider{children: children, disjunctive: true}
}

func (c *combinedDecider) HasPermission(ctx context.Context, p Principal) bool {
	return c.decide(func(d Decider) bool { return d.HasPermission(ctx, p) })
}

func (c *combinedDecider) HasResourcePermission(ctx context.Context, p Principal, res Resource) bool {
	return c.decide(func(d Decider) bool { return d.HasResourcePermission(ctx, p, res) })
}

func (c *combinedDecider) decide(check func(Decider) bool) bool {
	if len(c.children) == 0 {
		return false
	}
	for _, child := range c.children {
		if check(child) == c.disjunctive {
			return c.disjunctive
		}
	}
	return !c.disjunctive
}
