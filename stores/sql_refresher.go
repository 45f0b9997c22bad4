package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

// SQLRefresher reads a subject's attributes out of the system of record. It
// is wired into an attribute store as its Refresher and is only consulted on
// cache misses; the request path never touches SQL on a cache hit.
type SQLRefresher struct {
	db     *squealx.DB
	logger logger.Logger
}

func NewSQLRefresher(db *squealx.DB, l logger.Logger) *SQLRefresher {
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &SQLRefresher{db: db, logger: l}
}

// Refresh assembles one AttributeRecord for (subjectID, scope). found=false
// when the subject does not exist; roles are scoped to the requested scope
// name while groups and resource scopes are subject-global.
func (r *SQLRefresher) Refresh(ctx context.Context, subjectID int64, scope string) (*permit.AttributeRecord, bool, error) {
	q := `SELECT display_name, email, department, updated_at FROM subjects WHERE id = :id`
	rows, err := r.db.NamedQueryContext(ctx, q, map[string]any{"id": subjectID})
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, nil
	}
	var displayName, email, department string
	var updatedRaw any
	if err := rows.Scan(&displayName, &email, &department, &updatedRaw); err != nil {
		return nil, false, err
	}
	rows.Close()

	rec := &permit.AttributeRecord{
		SubjectID:   subjectID,
		DisplayName: displayName,
		Email:       email,
		Scope:       department,
	}
	if rec.Roles, err = r.roles(ctx, subjectID, scope); err != nil {
		return nil, false, err
	}
	if rec.AdminGroupIDs, err = r.int64Column(ctx,
		`SELECT group_id FROM admin_group_members WHERE subject_id = :id ORDER BY group_id`, subjectID); err != nil {
		return nil, false, err
	}
	if rec.ResourceScopeIDs, err = r.int64Column(ctx,
		`SELECT resource_id FROM subject_resource_scopes WHERE subject_id = :id ORDER BY resource_id`, subjectID); err != nil {
		return nil, false, err
	}
	if rec.Extensions, err = r.extensions(ctx, subjectID); err != nil {
		return nil, false, err
	}

	if freshness, ok := flexibleTime(updatedRaw); ok {
		r.logger.Debug("subject refreshed from system of record",
			"subject_id", subjectID, "scope", scope,
			"source_age_seconds", int(time.Since(freshness)/time.Second))
	}
	return rec.Normalize(), true, nil
}

func (r *SQLRefresher) roles(ctx context.Context, subjectID int64, scope string) ([]string, error) {
	q := `SELECT role FROM subject_roles WHERE subject_id = :id AND scope_name = :scope ORDER BY role`
	rows, err := r.db.NamedQueryContext(ctx, q, map[string]any{"id": subjectID, "scope": scope})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func (r *SQLRefresher) int64Column(ctx context.Context, q string, subjectID int64) ([]int64, error) {
	rows, err := r.db.NamedQueryContext(ctx, q, map[string]any{"id": subjectID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (r *SQLRefresher) extensions(ctx context.Context, subjectID int64) (map[string]map[string]any, error) {
	q := `SELECT scope_name, attrs_json FROM subject_attributes WHERE subject_id = :id`
	rows, err := r.db.NamedQueryContext(ctx, q, map[string]any{"id": subjectID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]map[string]any)
	for rows.Next() {
		var scopeName, attrsJSON string
		if err := rows.Scan(&scopeName, &attrsJSON); err != nil {
			return nil, err
		}
		attrs := make(map[string]any)
		if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
			r.logger.Error("skipping undecodable subject attributes",
				"subject_id", subjectID, "scope", scopeName, "error", err.Error())
			continue
		}
		out[scopeName] = attrs
	}
	return out, nil
}
