package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/entity"
)

// DefaultPageSize applies when the query spec does not request a page size.
const DefaultPageSize = 20

// Compile builds the query plan for a resource from the given specs,
// enforcing the contract's query allowlists and paging limits.
//
// Unknown or non-filterable filter fields and unknown or non-sortable sort
// keys are silently dropped. Malformed filter values aggregate into a
// single validation error keyed by field.
func Compile(rc *contract.Resource, spec contract.QuerySpec, expand contract.ExpandSpec) (*Plan, error) {
	plan := &Plan{}

	fieldErrors := map[string][]string{}

	var exprs []Expr
	// deterministic filter order
	names := make([]string, 0, len(spec.Filters))
	for name := range spec.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !rc.Query.FilterableFields[name] {
			continue
		}
		field, ok := rc.Field(name)
		if !ok {
			continue
		}
		expr, err := compileFilter(field, spec.Filters[name])
		if err != nil {
			fieldErrors[name] = append(fieldErrors[name], err.Error())
			continue
		}
		exprs = append(exprs, expr)
	}

	if len(fieldErrors) > 0 {
		return nil, core.ValidationError(fieldErrors)
	}

	if search := strings.TrimSpace(spec.Search); search != "" && len(rc.Query.SearchableFields) > 0 {
		var terms []Expr
		for _, name := range rc.Query.SearchableFields {
			field, ok := rc.Field(name)
			if !ok {
				continue
			}
			terms = append(terms, Match{Field: fieldRef(field), Op: OpContains, Value: search})
		}
		if len(terms) > 0 {
			exprs = append(exprs, Or{Exprs: terms})
		}
	}

	switch len(exprs) {
	case 0:
	case 1:
		plan.Filter = exprs[0]
	default:
		plan.Filter = And{Exprs: exprs}
	}

	plan.Sort = compileSort(rc, spec.Sort)
	if len(plan.Sort) == 0 && rc.Query.DefaultSort != "" {
		plan.Sort = compileSort(rc, rc.Query.DefaultSort)
	}

	plan.Page = spec.Page
	if plan.Page < 1 {
		plan.Page = 1
	}
	plan.PageSize = spec.PageSize
	if plan.PageSize == 0 {
		plan.PageSize = DefaultPageSize
	}
	if plan.PageSize < 1 {
		plan.PageSize = 1
	}
	if max := rc.Query.MaxPageSize; max > 0 && plan.PageSize > max {
		plan.PageSize = max
	}
	plan.Limit = plan.PageSize
	plan.Offset = (plan.Page - 1) * plan.PageSize

	if fields := strings.TrimSpace(spec.Fields); fields != "" {
		for _, f := range strings.Split(fields, ",") {
			if f = strings.TrimSpace(f); f != "" {
				plan.Projection = append(plan.Projection, f)
			}
		}
	}
	plan.Expand = append(plan.Expand, expand.Expand...)

	return plan, nil
}

func fieldRef(f *contract.Field) Field {
	return Field{Name: f.Name, ApiName: f.ApiName, Type: f.Type}
}

// compileFilter parses one "op:value" filter against a field. A missing
// operator prefix means equality.
func compileFilter(field *contract.Field, raw string) (Expr, error) {
	op := OpEq
	value := raw
	if i := strings.Index(raw, ":"); i >= 0 {
		if candidate, known := parseOp(raw[:i]); known {
			op = candidate
			value = raw[i+1:]
		}
	}

	ref := fieldRef(field)
	switch op {
	case OpIsNull:
		null, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("isnull requires true or false")
		}
		return IsNull{Field: ref, Null: null}, nil

	case OpIn:
		parts := strings.Split(value, "|")
		values := make([]any, 0, len(parts))
		for _, part := range parts {
			v, err := coerceValue(field, part)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return In{Field: ref, Values: values}, nil

	case OpContains, OpStarts, OpEnds:
		// string-only operators degrade to equality on other types
		if field.Type.IsText() {
			return Match{Field: ref, Op: op, Value: value}, nil
		}
		op = OpEq
		fallthrough
	default:
		v, err := coerceValue(field, value)
		if err != nil {
			return nil, err
		}
		return Compare{Field: ref, Op: op, Value: v}, nil
	}
}

// coerceValue converts one filter value to the field's canonical runtime
// type. Enum values fold case-insensitively onto their declared spelling,
// so the stores can compare them verbatim.
func coerceValue(field *contract.Field, s string) (any, error) {
	if field.Type == contract.TypeEnum && len(field.Validation.AllowedValues) > 0 {
		for _, allowed := range field.Validation.AllowedValues {
			if strings.EqualFold(s, allowed) {
				return allowed, nil
			}
		}
		return nil, fmt.Errorf("filter value for %s is not an allowed value", field.ApiName)
	}
	v, err := entity.CoerceString(field.Type, s)
	if err != nil {
		return nil, fmt.Errorf("filter value for %s is not a valid %s", field.ApiName, field.Type)
	}
	return v, nil
}

func parseOp(s string) (Op, bool) {
	switch Op(s) {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpStarts, OpEnds, OpIn, OpIsNull:
		return Op(s), true
	}
	return "", false
}

// compileSort parses the comma-separated sort string. The first accepted
// key establishes primary order, subsequent keys chain as tie-breakers in
// given order.
func compileSort(rc *contract.Resource, s string) []SortKey {
	var keys []SortKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		descending := strings.HasPrefix(part, "-")
		name := strings.TrimPrefix(part, "-")
		if !rc.Query.SortableFields[name] {
			continue
		}
		field, ok := rc.Field(name)
		if !ok {
			continue
		}
		keys = append(keys, SortKey{Field: fieldRef(field), Descending: descending})
	}
	return keys
}
