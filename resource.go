package permit

// ============================================================================
// RESOURCE CAPABILITIES
// ============================================================================
//
// The engine never probes resource values by reflection. A domain type opts
// into engine behavior by implementing the capability interfaces below; the
// engine depends only on those interfaces.

// Resource is the minimal contract for anything an action can target.
type Resource interface {
	// ResourceType is a short namespace such as "invoice" or "document".
	ResourceType() string
	// ResourceID identifies the instance within its type.
	ResourceID() int64
}

// PolicyNamer maps actions to named policies. Returning ok=false means the
// resource type declared no policy for that action.
type PolicyNamer interface {
	PolicyNameFor(action string) (string, bool)
}

// DefaultPermitter is consulted when a resource type has ABAC configuration
// but no policy name for the resolved action. Resources that do not implement
// it are denied (secure default).
type DefaultPermitter interface {
	DefaultPermission(rec *AttributeRecord, action string) bool
}

// Owned exposes the owning subject of a resource. Implementations cover both
// a direct owner column and a nested owner reference; either way the engine
// only sees the resolved subject id.
type Owned interface {
	OwnerSubjectID() int64
}

// Grouped exposes the group a resource belongs to, for admin-group checks.
type Grouped interface {
	GroupID() int64
}

// ScopeTagged exposes the resource's scope value (for example a department),
// compared against the subject's scope by the scope-match policy family.
type ScopeTagged interface {
	ScopeValue() string
}

// PubliclyReadable marks resources that may carry a public flag.
type PubliclyReadable interface {
	IsPublic() bool
}

// ============================================================================
// ACTION RESOLUTION
// ============================================================================

// Canonical actions produced by the method mapping.
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

var methodActions = map[string]string{
	"read":          ActionView,
	"create":        ActionCreate,
	"update":        ActionEdit,
	"partialUpdate": ActionEdit,
	"delete":        ActionDelete,
}

// ResolveAction maps a caller-side method name to a canonical action.
// Unknown methods resolve to "view".
func ResolveAction(method string) string {
	if action, ok := methodActions[method]; ok {
		return action
	}
	return ActionView
}
