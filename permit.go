// Package permit decides whether an actor may perform an action on a
// resource, combining role membership with attribute predicates evaluated
// against records cached out-of-band from the system of record. Many
// independent services embed the same engine and converge on the same
// decisions through a shared attribute cache with cross-process invalidation.
package permit

import (
	"context"

	"github.com/oarkflow/permit/logger"
)

// ============================================================================
// ENGINE
// ============================================================================

// Engine ties the attribute store, policy registry and evaluator together and
// hands out deciders that share its configuration. Construct one per process.
type Engine struct {
	store         AttributeStore
	registry      *Registry
	evaluator     *Evaluator
	logger        logger.Logger
	defaultScope  string
	scopeResolver ScopeResolver
}

// EngineOption configures an Engine during construction.
type EngineOption func(*Engine) error

func NewEngine(store AttributeStore, registry *Registry, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:    store,
		registry: registry,
		logger:   logger.NewNullLogger(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.evaluator = NewEvaluator(registry, e.logger)
	return e, nil
}

// WithLogger installs a Logger on the Engine via EngineOption
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithDefaultScope sets the process-wide scope used when neither an explicit
// binding nor a per-call resolver yields one.
func WithDefaultScope(scope string) EngineOption {
	return func(e *Engine) error {
		e.defaultScope = scope
		return nil
	}
}

// WithScopeResolver sets the engine-wide scope resolver consulted when a
// decider has no explicit scope binding.
func WithScopeResolver(r ScopeResolver) EngineOption {
	return func(e *Engine) error {
		e.scopeResolver = r
		return nil
	}
}

// WithConfig applies the engine-relevant parts of a loaded Config. Store and
// translator settings (TTLs, fallback cap, redis address) are consumed by
// their own constructors.
func WithConfig(cfg *Config) EngineOption {
	return func(e *Engine) error {
		if cfg == nil {
			return nil
		}
		e.defaultScope = cfg.DefaultScope
		return nil
	}
}

// Store exposes the engine's attribute store for wiring (ops tooling,
// invalidation subscribers).
func (e *Engine) Store() AttributeStore { return e.store }

// Registry exposes the engine's policy registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Evaluator exposes the engine's policy evaluator, mainly for the bulk
// listing translator which shares the fail-closed policy path.
func (e *Engine) Evaluator() *Evaluator { return e.evaluator }

// Attributes fetches the subject's record for an explicit scope, going
// through the per-request memo when the context carries one.
func (e *Engine) Attributes(ctx context.Context, subjectID int64, scope string) (*AttributeRecord, bool) {
	return fetchRecord(ctx, e.store, subjectID, scope)
}

// ----------------------------------------------------------------------------
// Decider constructors
// ----------------------------------------------------------------------------

// DeciderOption configures role and ABAC deciders.
type DeciderOption func(*deciderConfig)

type deciderConfig struct {
	scope          string
	scopeResolver  ScopeResolver
	method         string
	actionOverride string
}

// WithScope binds a decider to an explicit scope, overriding resolvers and
// the engine default.
func WithScope(scope string) DeciderOption {
	return func(c *deciderConfig) { c.scope = scope }
}

// WithDeciderScopeResolver sets a per-decider scope resolver, consulted after
// an explicit binding and before the engine default.
func WithDeciderScopeResolver(r ScopeResolver) DeciderOption {
	return func(c *deciderConfig) { c.scopeResolver = r }
}

// WithMethod sets the caller-side method name whose mapping yields the
// action ("read" maps to "view" and so on).
func WithMethod(method string) DeciderOption {
	return func(c *deciderConfig) { c.method = method }
}

// WithAction overrides the method mapping with an explicit action.
func WithAction(action string) DeciderOption {
	return func(c *deciderConfig) { c.actionOverride = action }
}

func (e *Engine) deciderConfig(opts []DeciderOption) deciderConfig {
	cfg := deciderConfig{scopeResolver: e.scopeResolver}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RoleDecider returns a decider granting when the subject holds any of the
// required roles.
func (e *Engine) RoleDecider(requiredRoles []string, opts ...DeciderOption) *RoleOnlyDecider {
	cfg := e.deciderConfig(opts)
	return &RoleOnlyDecider{
		engine:        e,
		requiredRoles: append([]string{}, requiredRoles...),
		scope:         cfg.scope,
		scopeResolver: cfg.scopeResolver,
	}
}

// ABACDecider returns a decider running the resource type's policy for the
// resolved action.
func (e *Engine) ABACDecider(opts ...DeciderOption) *ResourceABACDecider {
	cfg := e.deciderConfig(opts)
	return &ResourceABACDecider{
		engine:         e,
		scope:          cfg.scope,
		scopeResolver:  cfg.scopeResolver,
		method:         cfg.method,
		actionOverride: cfg.actionOverride,
	}
}
