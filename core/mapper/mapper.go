/*Package mapper converts between JSON payloads and entity instances under
the contract's allowlists, and serializes entities back to response JSON.

The mapper trusts the validation stage: fields outside an operation's
input shape are silently dropped here, because validation has already
turned their presence into a client error before the mapper runs.
*/
package mapper

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/datasource"
	"github.com/relabs-tech/kontrakt/core/entity"
	"github.com/relabs-tech/kontrakt/core/logger"
)

// Body is a parsed flat JSON request body.
type Body map[string]json.RawMessage

// ParseBody parses a request body. Only flat JSON objects are accepted.
func ParseBody(data []byte) (Body, error) {
	var body Body
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, core.ValidationError(map[string][]string{
			"": {"body must be a JSON object"},
		})
	}
	return body, nil
}

// Mapper applies contract-governed transforms between bodies and entities.
type Mapper struct {
	set    *contract.Set
	source datasource.Source
}

// New creates a mapper over the given contract set and datasource.
func New(set *contract.Set, source datasource.Source) *Mapper {
	return &Mapper{set: set, source: source}
}

// ApplyCreate populates a fresh entity from a create body: declared
// defaults first for absent fields, then every allowed provided field,
// then relation writes.
func (m *Mapper) ApplyCreate(ctx context.Context, rc *contract.Resource, acc entity.Accessor, body Body) error {
	oc := rc.Operation(core.OperationCreate)
	allowed := map[string]bool{}
	for _, name := range oc.InputShape {
		allowed[name] = true
	}

	for i := range rc.Fields {
		f := &rc.Fields[i]
		if f.DefaultValue == nil || f.Hidden || !f.InCreate {
			continue
		}
		if _, present := body[f.ApiName]; present {
			continue
		}
		v, err := coerceDefault(f)
		if err != nil {
			// a bad default must never block creation
			logger.FromContext(ctx).Warnln("skipping default value for", f.ApiName, ":", err)
			continue
		}
		if err := acc.Set(f.Name, v); err != nil {
			logger.FromContext(ctx).Warnln("skipping default value for", f.ApiName, ":", err)
		}
	}

	for apiName, raw := range body {
		if !allowed[apiName] {
			continue
		}
		f, ok := rc.Field(apiName)
		if !ok {
			continue
		}
		v, err := entity.CoerceJSON(f.Type, raw)
		if err != nil {
			return core.ValidationError(map[string][]string{apiName: {err.Error()}})
		}
		if err := acc.Set(f.Name, v); err != nil {
			return core.InternalError(err)
		}
	}

	return m.applyRelationWrites(ctx, rc, acc, body, core.OperationCreate)
}

// ApplyUpdate applies a patch body to an existing entity. The concurrency
// token is decoded before any field mutation; the returned expected value
// is handed to the datasource so that its own optimistic-concurrency guard
// detects a stale write at commit time.
//
// Patch semantics: absent keys are untouched, present keys are applied.
func (m *Mapper) ApplyUpdate(ctx context.Context, rc *contract.Resource, acc entity.Accessor, body Body) (any, error) {
	oc := rc.Operation(core.OperationUpdate)

	expected, err := ExtractConcurrencyToken(rc, body)
	if err != nil {
		return nil, err
	}

	allowed := map[string]bool{}
	for _, name := range oc.InputShape {
		allowed[name] = true
	}
	immutable := map[string]bool{}
	for _, name := range oc.ImmutableFields {
		immutable[name] = true
	}
	concurrencyField := ""
	if oc.Concurrency != nil {
		concurrencyField = oc.Concurrency.Field
	}

	for apiName, raw := range body {
		if apiName == concurrencyField {
			continue
		}
		if !allowed[apiName] || immutable[apiName] {
			continue
		}
		f, ok := rc.Field(apiName)
		if !ok {
			continue
		}
		v, err := entity.CoerceJSON(f.Type, raw)
		if err != nil {
			return nil, core.ValidationError(map[string][]string{apiName: {err.Error()}})
		}
		if err := acc.Set(f.Name, v); err != nil {
			return nil, core.InternalError(err)
		}
	}

	if err := m.applyRelationWrites(ctx, rc, acc, body, core.OperationUpdate); err != nil {
		return nil, err
	}
	return expected, nil
}

// ExtractConcurrencyToken decodes the concurrency token from the body.
// Row-version tokens must be valid base64; a malformed token is a client
// error. The token's wire representation is what the datasource compares.
func ExtractConcurrencyToken(rc *contract.Resource, body Body) (any, error) {
	oc := rc.Operation(core.OperationUpdate)
	if oc.Concurrency == nil || oc.Concurrency.Mode == contract.ConcurrencyNone {
		return nil, nil
	}
	raw, present := body[oc.Concurrency.Field]
	if !present {
		// a required-but-absent token is the validation stage's error
		return nil, nil
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, core.ValidationError(map[string][]string{
			oc.Concurrency.Field: {"concurrency token must be a string"},
		})
	}
	if oc.Concurrency.Mode == contract.ConcurrencyRowVersion {
		if _, err := base64.StdEncoding.DecodeString(token); err != nil {
			return nil, core.ValidationError(map[string][]string{
				oc.Concurrency.Field: {"concurrency token is not valid base64"},
			})
		}
	}
	return token, nil
}

// applyRelationWrites applies by-id and by-id-list writes present in the body.
func (m *Mapper) applyRelationWrites(ctx context.Context, rc *contract.Resource, acc entity.Accessor, body Body, op core.Operation) error {
	for i := range rc.Relations {
		rel := &rc.Relations[i]
		switch rel.Write.Mode {
		case contract.WriteByID:
			raw, present := body[rel.Write.WriteField]
			if !present {
				continue
			}
			if err := m.applyByID(rc, acc, rel, raw); err != nil {
				return err
			}
		case contract.WriteByIDList:
			raw, present := body[rel.Write.WriteField]
			if !present {
				continue
			}
			if err := m.applyByIDList(ctx, acc, rel, raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyByID assigns the foreign-key property directly; no round-trip needed.
func (m *Mapper) applyByID(rc *contract.Resource, acc entity.Accessor, rel *contract.Relation, raw json.RawMessage) error {
	fk, ok := rc.FieldByName(rel.Write.ForeignKey)
	if !ok {
		return core.InternalError(fmt.Errorf("relation %s has no foreign-key field %s", rel.ApiName, rel.Write.ForeignKey))
	}
	v, err := entity.CoerceJSON(fk.Type, raw)
	if err != nil {
		return core.ValidationError(map[string][]string{rel.Write.WriteField: {err.Error()}})
	}
	if v == nil && !fk.Nullable {
		return core.ValidationError(map[string][]string{rel.Write.WriteField: {"relation cannot be cleared"}})
	}
	if err := acc.Set(fk.Name, v); err != nil {
		return core.InternalError(err)
	}
	return nil
}

// applyByIDList resolves the target records with a single query and
// replaces the entire collection. Set-replacement semantics: applying the
// same list twice is a no-op.
func (m *Mapper) applyByIDList(ctx context.Context, acc entity.Accessor, rel *contract.Relation, raw json.RawMessage) error {
	target, ok := m.set.ByKey(rel.TargetResourceKey)
	if !ok {
		return core.InternalError(fmt.Errorf("relation %s targets unknown resource %s", rel.ApiName, rel.TargetResourceKey))
	}
	keyType := target.Key.Type
	arrayType := contract.TypeGuidArray
	switch keyType {
	case contract.TypeInt32, contract.TypeInt64:
		arrayType = contract.TypeIntArray
	case contract.TypeString:
		arrayType = contract.TypeStringArray
	}
	decoded, err := entity.CoerceJSON(arrayType, raw)
	if err != nil {
		return core.ValidationError(map[string][]string{rel.Write.WriteField: {err.Error()}})
	}

	// repeated identifiers collapse, the write is a set replacement
	ids := uniqueKeys(anySlice(decoded))

	targets, ok := m.source.Collection(rel.TargetResourceKey)
	if !ok {
		return core.InternalError(fmt.Errorf("relation %s targets unknown resource %s", rel.ApiName, rel.TargetResourceKey))
	}
	resolved, err := targets.ResolveMany(ctx, ids)
	if err != nil {
		return err
	}
	if len(resolved) != len(ids) {
		return core.ValidationError(map[string][]string{
			rel.Write.WriteField: {"one or more identifiers do not exist"},
		})
	}

	resolvedIDs := make([]any, 0, len(resolved))
	for _, t := range resolved {
		id, _ := t.Get(target.Key.Name)
		resolvedIDs = append(resolvedIDs, id)
	}
	if err := acc.Set(rel.Name, resolvedIDs); err != nil {
		return core.InternalError(err)
	}
	return nil
}

func anySlice(v any) []any {
	switch list := v.(type) {
	case []uuid.UUID:
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = e
		}
		return out
	case []int64:
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = e
		}
		return out
	case []string:
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = e
		}
		return out
	}
	return nil
}

func uniqueKeys(ids []any) []any {
	seen := map[string]bool{}
	var out []any
	for _, id := range ids {
		k := fmt.Sprint(id)
		if !seen[k] {
			seen[k] = true
			out = append(out, id)
		}
	}
	return out
}

// coerceDefault converts a declared default value to the field's canonical
// runtime type.
func coerceDefault(f *contract.Field) (any, error) {
	switch v := f.DefaultValue.(type) {
	case string:
		return entity.CoerceString(f.Type, v)
	case float64:
		switch f.Type {
		case contract.TypeInt32, contract.TypeInt64:
			return int64(v), nil
		case contract.TypeDecimal:
			return v, nil
		}
	case bool:
		if f.Type == contract.TypeBoolean {
			return v, nil
		}
	}
	return nil, fmt.Errorf("default value %v is not a valid %s", f.DefaultValue, f.Type)
}
