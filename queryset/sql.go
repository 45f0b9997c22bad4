package queryset

import (
	"context"
	"fmt"
	"strings"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// Columns maps predicate fields onto a table's column names. Leave a column
// empty when the table has no such field; predicates needing it then compile
// to a match-nothing clause rather than silently widening the listing.
type Columns struct {
	ID     string
	Owner  string
	Group  string
	Scope  string
	Public string
}

// SQLQuery hosts the translator over a SQL table via squealx. Predicates
// compile to WHERE clauses; the query body executes only in SelectIDs or
// Iterate.
type SQLQuery struct {
	db           *squealx.DB
	table        string
	resourceType string
	cols         Columns
	preds        []Predicate
	idFilter     []int64
	hasIDFilter  bool
}

func NewSQLQuery(db *squealx.DB, table, resourceType string, cols Columns) *SQLQuery {
	if cols.ID == "" {
		cols.ID = "id"
	}
	return &SQLQuery{db: db, table: table, resourceType: resourceType, cols: cols}
}

func (q *SQLQuery) clone() *SQLQuery {
	dup := *q
	dup.preds = append([]Predicate{}, q.preds...)
	dup.idFilter = append([]int64{}, q.idFilter...)
	return &dup
}

func (q *SQLQuery) ApplyPredicate(p Predicate) Query {
	dup := q.clone()
	dup.preds = append(dup.preds, p)
	return dup
}

func (q *SQLQuery) ApplyIDFilter(ids []int64) Query {
	dup := q.clone()
	dup.idFilter = append([]int64{}, ids...)
	dup.hasIDFilter = true
	return dup
}

// where compiles the accumulated filters into a clause and named args.
func (q *SQLQuery) where() (string, map[string]any) {
	args := make(map[string]any)
	counter := 0
	clauses := make([]string, 0, len(q.preds)+1)
	for _, p := range q.preds {
		clauses = append(clauses, q.compile(p, args, &counter))
	}
	if q.hasIDFilter {
		if len(q.idFilter) == 0 {
			clauses = append(clauses, "1 = 0")
		} else {
			names := make([]string, 0, len(q.idFilter))
			for _, id := range q.idFilter {
				name := fmt.Sprintf("p%d", counter)
				counter++
				args[name] = id
				names = append(names, ":"+name)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", q.cols.ID, strings.Join(names, ", ")))
		}
	}
	if len(clauses) == 0 {
		return "1 = 1", args
	}
	return strings.Join(clauses, " AND "), args
}

func (q *SQLQuery) compile(p Predicate, args map[string]any, counter *int) string {
	bind := func(v any) string {
		name := fmt.Sprintf("p%d", *counter)
		*counter++
		args[name] = v
		return ":" + name
	}
	switch pred := p.(type) {
	case All:
		return "1 = 1"
	case None:
		return "1 = 0"
	case OwnerIs:
		if q.cols.Owner == "" {
			return "1 = 0"
		}
		return fmt.Sprintf("%s = %s", q.cols.Owner, bind(pred.SubjectID))
	case GroupIn:
		if q.cols.Group == "" || len(pred.GroupIDs) == 0 {
			return "1 = 0"
		}
		names := make([]string, 0, len(pred.GroupIDs))
		for _, id := range pred.GroupIDs {
			names = append(names, bind(id))
		}
		return fmt.Sprintf("%s IN (%s)", q.cols.Group, strings.Join(names, ", "))
	case ScopeIs:
		if q.cols.Scope == "" {
			return "1 = 0"
		}
		return fmt.Sprintf("%s = %s", q.cols.Scope, bind(pred.Value))
	case Public:
		if q.cols.Public == "" {
			return "1 = 0"
		}
		return fmt.Sprintf("%s = 1", q.cols.Public)
	case AnyOf:
		if len(pred.Preds) == 0 {
			return "1 = 0"
		}
		parts := make([]string, 0, len(pred.Preds))
		for _, child := range pred.Preds {
			parts = append(parts, q.compile(child, args, counter))
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	case AllOf:
		if len(pred.Preds) == 0 {
			return "1 = 1"
		}
		parts := make([]string, 0, len(pred.Preds))
		for _, child := range pred.Preds {
			parts = append(parts, q.compile(child, args, counter))
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	default:
		// unknown predicate type must not widen the result set
		return "1 = 0"
	}
}

// SelectIDs executes the query and returns matching resource ids in table
// order.
func (q *SQLQuery) SelectIDs(ctx context.Context) ([]int64, error) {
	where, args := q.where()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s", q.cols.ID, q.table, where, q.cols.ID)
	rows, err := q.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *SQLQuery) Iterate(ctx context.Context, limit int) ([]permit.Resource, error) {
	where, args := q.where()
	sel := []string{q.cols.ID}
	sel = append(sel, selectOrNull(q.cols.Owner), selectOrNull(q.cols.Group), selectOrNull(q.cols.Scope), selectOrNull(q.cols.Public))
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s", strings.Join(sel, ", "), q.table, where, q.cols.ID)
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := q.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]permit.Resource, 0)
	for rows.Next() {
		var id int64
		var owner, group, public any
		var scope any
		if err := rows.Scan(&id, &owner, &group, &scope, &public); err != nil {
			return nil, err
		}
		out = append(out, &rowResource{
			resourceType: q.resourceType,
			id:           id,
			ownerID:      toInt64(owner),
			groupID:      toInt64(group),
			scope:        toString(scope),
			public:       toBool(public),
		})
	}
	return out, nil
}

func selectOrNull(col string) string {
	if col == "" {
		return "NULL"
	}
	return col
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	}
	return false
}

// rowResource adapts one scanned row to the resource capabilities so the
// fallback path can evaluate policies against SQL-hosted candidates.
type rowResource struct {
	resourceType string
	id           int64
	ownerID      int64
	groupID      int64
	scope        string
	public       bool
}

func (r *rowResource) ResourceType() string  { return r.resourceType }
func (r *rowResource) ResourceID() int64     { return r.id }
func (r *rowResource) OwnerSubjectID() int64 { return r.ownerID }
func (r *rowResource) GroupID() int64        { return r.groupID }
func (r *rowResource) ScopeValue() string    { return r.scope }
func (r *rowResource) IsPublic() bool        { return r.public }
