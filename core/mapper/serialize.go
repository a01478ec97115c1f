package mapper

import (
	"context"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/entity"
)

// Serialize converts an entity to its response JSON object: every readable,
// non-hidden field, intersected with the requested projection, plus relation
// expansion up to the contract's MaxExpandDepth. Beyond the first level only
// default-expanded relations of the targets expand further.
//
// The projection can only narrow the read allowlist, never widen it.
// Requested-but-disallowed expansions are silently omitted.
func (m *Mapper) Serialize(ctx context.Context, rc *contract.Resource, acc entity.Accessor, projection []string, expand []string) (map[string]any, error) {
	return m.serialize(ctx, rc, acc, projection, expand, rc.Read.MaxExpandDepth)
}

func (m *Mapper) serialize(ctx context.Context, rc *contract.Resource, acc entity.Accessor, projection []string, expand []string, depth int) (map[string]any, error) {
	var projected map[string]bool
	if len(projection) > 0 {
		projected = map[string]bool{}
		for _, name := range projection {
			projected[name] = true
		}
	}

	object := map[string]any{}
	for i := range rc.Fields {
		f := &rc.Fields[i]
		if !f.InRead || f.Hidden {
			continue
		}
		if projected != nil && !projected[f.ApiName] {
			continue
		}
		if f.Computed {
			object[f.ApiName] = Evaluate(rc, acc, f.ComputedExpression)
			continue
		}
		v, ok := acc.Get(f.Name)
		if !ok {
			continue
		}
		object[f.ApiName] = v
	}

	if depth < 1 {
		return object, nil
	}

	expanded := map[string]bool{}
	for _, name := range rc.Read.DefaultExpand {
		expanded[name] = true
	}
	for _, name := range expand {
		if rc.Read.ExpandAllowed[name] {
			expanded[name] = true
		}
	}

	for i := range rc.Relations {
		rel := &rc.Relations[i]
		if !expanded[rel.ApiName] {
			continue
		}
		v, err := m.expandRelation(ctx, rc, acc, rel, depth-1)
		if err != nil {
			return nil, err
		}
		object[rel.ApiName] = v
	}
	return object, nil
}

// expandRelation serializes one related entity (or list) with the given
// remaining expansion depth.
func (m *Mapper) expandRelation(ctx context.Context, rc *contract.Resource, acc entity.Accessor, rel *contract.Relation, depth int) (any, error) {
	target, ok := m.set.ByKey(rel.TargetResourceKey)
	if !ok {
		return nil, nil
	}
	targets, ok := m.source.Collection(rel.TargetResourceKey)
	if !ok {
		return nil, nil
	}

	if rel.Kind.IsCollection() {
		raw, _ := acc.Get(rel.Name)
		ids, _ := raw.([]any)
		if len(ids) == 0 {
			return []any{}, nil
		}
		resolved, err := targets.ResolveMany(ctx, ids)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(resolved))
		for _, t := range resolved {
			obj, err := m.serialize(ctx, target, t, nil, nil, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, obj)
		}
		return out, nil
	}

	fk, ok := rc.FieldByName(rel.Write.ForeignKey)
	if !ok {
		return nil, nil
	}
	id, _ := acc.Get(fk.Name)
	if id == nil {
		return nil, nil
	}
	t, err := targets.Get(ctx, id)
	if err != nil {
		if core.KindOf(err) == core.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return m.serialize(ctx, target, t, nil, nil, depth)
}

// ListEnvelope is the wire shape of a list result.
type ListEnvelope struct {
	Items    []map[string]any `json:"items"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Total    int              `json:"total"`
}

// SerializeList builds the list envelope for a page of entities. Total is
// the full filtered count, not the page count.
func (m *Mapper) SerializeList(ctx context.Context, rc *contract.Resource, items []entity.Accessor, projection []string, expand []string, page, pageSize, total int) (*ListEnvelope, error) {
	envelope := &ListEnvelope{
		Items:    make([]map[string]any, 0, len(items)),
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}
	for _, acc := range items {
		object, err := m.Serialize(ctx, rc, acc, projection, expand)
		if err != nil {
			return nil, err
		}
		envelope.Items = append(envelope.Items, object)
	}
	return envelope, nil
}
