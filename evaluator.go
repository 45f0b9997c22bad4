package permit

import (
	"fmt"

	"github.com/oarkflow/permit/logger"
)

// ============================================================================
// POLICY EVALUATOR
// ============================================================================

// Evaluator resolves policy names against a Registry and runs the predicate
// with a fail-closed contract: configuration gaps, predicate errors and
// predicate panics all resolve to deny, never to a propagated failure.
type Evaluator struct {
	registry *Registry
	logger   logger.Logger
}

func NewEvaluator(registry *Registry, l logger.Logger) *Evaluator {
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &Evaluator{registry: registry, logger: l}
}

// Evaluate runs the named policy for one (record, resource, action) check.
// An empty policyName means the resource type declared no policy for this
// action: the resource's own DefaultPermission hook decides, and resources
// without the hook are denied.
func (e *Evaluator) Evaluate(rec *AttributeRecord, res Resource, action, policyName string) bool {
	if policyName == "" {
		if dp, ok := res.(DefaultPermitter); ok {
			return dp.DefaultPermission(rec, action)
		}
		return false
	}

	pred, ok := e.registry.Get(policyName)
	if !ok {
		e.logger.Error("policy not found",
			"policy", policyName,
			"subject_id", rec.SubjectID,
			"resource_type", res.ResourceType(),
			"resource_id", res.ResourceID(),
			"action", action)
		return false
	}

	allowed, err := e.runPredicate(pred, &PolicyContext{Record: rec, Resource: res, Action: action})
	if err != nil {
		e.logger.Error("policy predicate failed",
			"policy", policyName,
			"subject_id", rec.SubjectID,
			"resource_type", res.ResourceType(),
			"resource_id", res.ResourceID(),
			"action", action,
			"error", err.Error())
		return false
	}
	return allowed
}

// runPredicate contains the panic barrier: a buggy predicate must read as
// deny, not crash the hosting request.
func (e *Evaluator) runPredicate(pred Predicate, pc *PolicyContext) (allowed bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			allowed = false
			err = fmt.Errorf("predicate panic: %v", rec)
		}
	}()
	return pred(pc)
}
