package queryset

import (
	"context"

	"github.com/oarkflow/permit"
)

// MemoryQuery hosts the translator over an in-memory slice of resources.
// Filters accumulate lazily; Iterate and IDs execute them. Used in tests and
// wherever a service already holds the candidate set.
type MemoryQuery struct {
	items    []permit.Resource
	preds    []Predicate
	idFilter map[int64]struct{}
}

func NewMemoryQuery(items []permit.Resource) *MemoryQuery {
	return &MemoryQuery{items: items}
}

func (q *MemoryQuery) clone() *MemoryQuery {
	dup := &MemoryQuery{items: q.items}
	dup.preds = append(dup.preds, q.preds...)
	if q.idFilter != nil {
		dup.idFilter = make(map[int64]struct{}, len(q.idFilter))
		for id := range q.idFilter {
			dup.idFilter[id] = struct{}{}
		}
	}
	return dup
}

func (q *MemoryQuery) ApplyPredicate(p Predicate) Query {
	dup := q.clone()
	dup.preds = append(dup.preds, p)
	return dup
}

func (q *MemoryQuery) ApplyIDFilter(ids []int64) Query {
	dup := q.clone()
	dup.idFilter = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		dup.idFilter[id] = struct{}{}
	}
	return dup
}

func (q *MemoryQuery) matches(res permit.Resource) bool {
	if q.idFilter != nil {
		if _, ok := q.idFilter[res.ResourceID()]; !ok {
			return false
		}
	}
	for _, p := range q.preds {
		if !p.Match(res) {
			return false
		}
	}
	return true
}

func (q *MemoryQuery) Iterate(ctx context.Context, limit int) ([]permit.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]permit.Resource, 0)
	for _, res := range q.items {
		if limit > 0 && len(out) >= limit {
			break
		}
		if q.matches(res) {
			out = append(out, res)
		}
	}
	return out, nil
}

// IDs executes the query and returns matching resource ids.
func (q *MemoryQuery) IDs(ctx context.Context) ([]int64, error) {
	items, err := q.Iterate(ctx, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(items))
	for _, res := range items {
		ids = append(ids, res.ResourceID())
	}
	return ids, nil
}
