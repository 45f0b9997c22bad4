// Package queryset turns named policies into query-level filter predicates
// for bulk listing, with a bounded per-object fallback for policies that have
// no declarative translation.
package queryset

import (
	"context"
	"fmt"

	"github.com/oarkflow/permit"
)

// ============================================================================
// PREDICATE MODEL
// ============================================================================

// Predicate is a declarative resource filter. It evaluates in-process via
// the resource capability interfaces and translates to storage-level filters
// (see SQLQuery), so a translated listing and a brute-force evaluation of the
// same policy must select the same objects.
type Predicate interface {
	Match(res permit.Resource) bool
	String() string
}

// All matches every resource (admin override).
type All struct{}

func (All) Match(permit.Resource) bool { return true }
func (All) String() string             { return "true" }

// None matches nothing; listing fails closed through it.
type None struct{}

func (None) Match(permit.Resource) bool { return false }
func (None) String() string             { return "false" }

// OwnerIs matches resources owned by the subject.
type OwnerIs struct {
	SubjectID int64
}

func (p OwnerIs) Match(res permit.Resource) bool {
	owned, ok := res.(permit.Owned)
	return ok && owned.OwnerSubjectID() == p.SubjectID
}

func (p OwnerIs) String() string { return fmt.Sprintf("owner_id == %d", p.SubjectID) }

// GroupIn matches resources whose group is in the given set. An empty set
// matches nothing.
type GroupIn struct {
	GroupIDs []int64
}

func (p GroupIn) Match(res permit.Resource) bool {
	grouped, ok := res.(permit.Grouped)
	if !ok {
		return false
	}
	for _, id := range p.GroupIDs {
		if grouped.GroupID() == id {
			return true
		}
	}
	return false
}

func (p GroupIn) String() string { return fmt.Sprintf("group_id IN %v", p.GroupIDs) }

// ScopeIs matches resources whose scope value equals the subject's.
type ScopeIs struct {
	Value string
}

func (p ScopeIs) Match(res permit.Resource) bool {
	tagged, ok := res.(permit.ScopeTagged)
	return ok && tagged.ScopeValue() == p.Value
}

func (p ScopeIs) String() string { return fmt.Sprintf("scope == %q", p.Value) }

// Public matches resources with a public flag set true.
type Public struct{}

func (Public) Match(res permit.Resource) bool {
	pub, ok := res.(permit.PubliclyReadable)
	return ok && pub.IsPublic()
}

func (Public) String() string { return "is_public == true" }

// AnyOf matches when any child matches.
type AnyOf struct {
	Preds []Predicate
}

func (p AnyOf) Match(res permit.Resource) bool {
	for _, child := range p.Preds {
		if child.Match(res) {
			return true
		}
	}
	return false
}

func (p AnyOf) String() string {
	s := "("
	for i, child := range p.Preds {
		if i > 0 {
			s += " OR "
		}
		s += child.String()
	}
	return s + ")"
}

// AllOf matches when every child matches.
type AllOf struct {
	Preds []Predicate
}

func (p AllOf) Match(res permit.Resource) bool {
	for _, child := range p.Preds {
		if !child.Match(res) {
			return false
		}
	}
	return true
}

func (p AllOf) String() string {
	s := "("
	for i, child := range p.Preds {
		if i > 0 {
			s += " AND "
		}
		s += child.String()
	}
	return s + ")"
}

// ============================================================================
// QUERY ABSTRACTION
// ============================================================================

// Query is the minimal contract a collection must expose to host the filter
// translator. ApplyPredicate and ApplyIDFilter narrow the result set without
// executing it; Iterate exists for the bounded fallback, which has to see
// concrete objects to evaluate a policy per object.
type Query interface {
	ApplyPredicate(p Predicate) Query
	ApplyIDFilter(ids []int64) Query
	Iterate(ctx context.Context, limit int) ([]permit.Resource, error)
}
