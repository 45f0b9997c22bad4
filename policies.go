package permit

// ============================================================================
// BUILT-IN POLICIES
// ============================================================================

// Names of the policies the engine ships with. The queryset package carries
// the matching declarative filter translations under the same names, and the
// two forms must agree object-for-object.
const (
	PolicyOwnership         = "ownership"
	PolicyOwnershipOrAdmin  = "ownership-or-admin"
	PolicyScopeMatch        = "scope-match"
	PolicyScopeMatchOrAdmin = "scope-match-or-admin"
	PolicyGroupMembership   = "group-membership"
	PolicyPublicAccess      = "public-access"
)

// RoleAdmin short-circuits the scope-match family and, together with the
// per-type "<type>_admin" role, the ownership-or-admin policy.
const RoleAdmin = "admin"

// AdminRoleFor returns the per-resource-type admin role name.
func AdminRoleFor(resourceType string) string {
	return resourceType + "_admin"
}

// RegisterBuiltinPolicies installs the standard policy set on a registry.
func RegisterBuiltinPolicies(reg *Registry) {
	reg.Register(PolicyOwnership, OwnershipPolicy)
	reg.Register(PolicyOwnershipOrAdmin, OwnershipOrAdminPolicy)
	reg.Register(PolicyScopeMatch, ScopeMatchPolicy)
	reg.Register(PolicyScopeMatchOrAdmin, ScopeMatchOrAdminPolicy)
	reg.Register(PolicyGroupMembership, GroupMembershipPolicy)
	reg.Register(PolicyPublicAccess, PublicAccessPolicy)
}

// OwnershipPolicy grants when the resource's owner is the subject.
func OwnershipPolicy(pc *PolicyContext) (bool, error) {
	owned, ok := pc.Resource.(Owned)
	if !ok {
		return false, nil
	}
	return owned.OwnerSubjectID() == pc.Record.SubjectID, nil
}

// OwnershipOrAdminPolicy grants on ownership, on membership in the resource's
// admin group, or on the global or per-type admin role.
func OwnershipOrAdminPolicy(pc *PolicyContext) (bool, error) {
	if owns, _ := OwnershipPolicy(pc); owns {
		return true, nil
	}
	if grouped, ok := pc.Resource.(Grouped); ok && pc.Record.InAdminGroup(grouped.GroupID()) {
		return true, nil
	}
	return pc.Record.HasAnyRole(RoleAdmin, AdminRoleFor(pc.Resource.ResourceType())), nil
}

// ScopeMatchPolicy grants admins everything; otherwise the subject's scope
// must be set and equal the resource's scope value.
func ScopeMatchPolicy(pc *PolicyContext) (bool, error) {
	if pc.Record.HasRole(RoleAdmin) {
		return true, nil
	}
	if pc.Record.Scope == "" {
		return false, nil
	}
	tagged, ok := pc.Resource.(ScopeTagged)
	if !ok {
		return false, nil
	}
	return tagged.ScopeValue() == pc.Record.Scope, nil
}

// ScopeMatchOrAdminPolicy widens scope-match with the resource's admin group.
func ScopeMatchOrAdminPolicy(pc *PolicyContext) (bool, error) {
	if matched, _ := ScopeMatchPolicy(pc); matched {
		return true, nil
	}
	grouped, ok := pc.Resource.(Grouped)
	return ok && pc.Record.InAdminGroup(grouped.GroupID()), nil
}

// GroupMembershipPolicy grants when the resource's group is one of the
// subject's admin groups.
func GroupMembershipPolicy(pc *PolicyContext) (bool, error) {
	grouped, ok := pc.Resource.(Grouped)
	return ok && pc.Record.InAdminGroup(grouped.GroupID()), nil
}

// PublicAccessPolicy grants when the resource carries a public flag set true.
func PublicAccessPolicy(pc *PolicyContext) (bool, error) {
	pub, ok := pc.Resource.(PubliclyReadable)
	return ok && pub.IsPublic(), nil
}
