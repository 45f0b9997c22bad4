package permit

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Principal identifies the actor whose access is being decided. The hosting
// service resolves identity (session, token, mTLS); the engine only needs the
// subject id and whether authentication actually happened.
type Principal struct {
	SubjectID     int64 `json:"subject_id"`
	Authenticated bool  `json:"authenticated"`
}

// AttributeRecord holds one subject's roles and attributes under a single
// scope. Records are immutable once returned from a store: a change in the
// system of record replaces the whole record, it never patches fields.
type AttributeRecord struct {
	SubjectID        int64                     `json:"subject_id"`
	DisplayName      string                    `json:"display_name"`
	Email            string                    `json:"email"`
	Roles            []string                  `json:"roles"`
	Scope            string                    `json:"scope"`
	AdminGroupIDs    []int64                   `json:"admin_group_ids"`
	ResourceScopeIDs []int64                   `json:"resource_scope_ids"`
	Extensions       map[string]map[string]any `json:"extensions"`
}

// Normalize replaces nil collections with empty ones and drops duplicate
// roles, preserving first-seen order. Consumers never have to distinguish
// absent from empty.
func (r *AttributeRecord) Normalize() *AttributeRecord {
	if r.Roles == nil {
		r.Roles = []string{}
	} else {
		seen := make(map[string]struct{}, len(r.Roles))
		roles := r.Roles[:0]
		for _, role := range r.Roles {
			if _, dup := seen[role]; dup {
				continue
			}
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
		r.Roles = roles
	}
	if r.AdminGroupIDs == nil {
		r.AdminGroupIDs = []int64{}
	}
	if r.ResourceScopeIDs == nil {
		r.ResourceScopeIDs = []int64{}
	}
	if r.Extensions == nil {
		r.Extensions = map[string]map[string]any{}
	}
	return r
}

// HasRole reports whether the record carries the named role.
func (r *AttributeRecord) HasRole(role string) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the record carries at least one of the roles.
func (r *AttributeRecord) HasAnyRole(roles ...string) bool {
	for _, want := range roles {
		if r.HasRole(want) {
			return true
		}
	}
	return false
}

// InAdminGroup reports whether groupID is one of the subject's admin groups.
func (r *AttributeRecord) InAdminGroup(groupID int64) bool {
	for _, id := range r.AdminGroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// Extension returns the attribute mapping the record carries for a scope.
func (r *AttributeRecord) Extension(scope string) (map[string]any, bool) {
	ext, ok := r.Extensions[scope]
	return ext, ok
}

// Clone returns a deep copy. Stores hand out clones so a cached record is
// never aliased by a caller.
func (r *AttributeRecord) Clone() *AttributeRecord {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Roles = append([]string{}, r.Roles...)
	dup.AdminGroupIDs = append([]int64{}, r.AdminGroupIDs...)
	dup.ResourceScopeIDs = append([]int64{}, r.ResourceScopeIDs...)
	dup.Extensions = make(map[string]map[string]any, len(r.Extensions))
	for scope, attrs := range r.Extensions {
		inner := make(map[string]any, len(attrs))
		for k, v := range attrs {
			inner[k] = v
		}
		dup.Extensions[scope] = inner
	}
	return &dup
}

// PolicyContext is the input to a policy predicate: one subject record, one
// resource, one resolved action. Built per check, never persisted.
type PolicyContext struct {
	Record   *AttributeRecord
	Resource Resource
	Action   string
}

// ============================================================================
// RECORD BUILDER
// ============================================================================

// RecordBuilder provides a fluent API for assembling AttributeRecords,
// mainly in refreshers and tests.
type RecordBuilder struct {
	rec *AttributeRecord
}

func NewRecordBuilder(subjectID int64, scope string) *RecordBuilder {
	return &RecordBuilder{rec: &AttributeRecord{SubjectID: subjectID, Scope: scope}}
}

func (b *RecordBuilder) DisplayName(name string) *RecordBuilder { b.rec.DisplayName = name; return b }
func (b *RecordBuilder) Email(email string) *RecordBuilder      { b.rec.Email = email; return b }
func (b *RecordBuilder) Roles(roles ...string) *RecordBuilder {
	b.rec.Roles = append(b.rec.Roles, roles...)
	return b
}
func (b *RecordBuilder) AdminGroups(ids ...int64) *RecordBuilder {
	b.rec.AdminGroupIDs = append(b.rec.AdminGroupIDs, ids...)
	return b
}
func (b *RecordBuilder) ResourceScopes(ids ...int64) *RecordBuilder {
	b.rec.ResourceScopeIDs = append(b.rec.ResourceScopeIDs, ids...)
	return b
}
func (b *RecordBuilder) Extension(scope string, attrs map[string]any) *RecordBuilder {
	if b.rec.Extensions == nil {
		b.rec.Extensions = map[string]map[string]any{}
	}
	b.rec.Extensions[scope] = attrs
	return b
}
func (b *RecordBuilder) Build() *AttributeRecord { return b.rec.Normalize() }
