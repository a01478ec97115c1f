package builder

import (
	"fmt"
	"strings"

	"github.com/relabs-tech/kontrakt/core/contract"
)

// validateSet runs the whole-set consistency checks after every resource
// has been built. It collects all violations instead of stopping at the
// first one.
func validateSet(resources []*contract.Resource) []string {
	var violations []string
	add := func(rc *contract.Resource, format string, args ...any) {
		violations = append(violations, fmt.Sprintf("resource %s: ", rc.ResourceKey)+fmt.Sprintf(format, args...))
	}

	// lookups are case-insensitive, matching the contract set
	byKey := map[string]*contract.Resource{}
	routes := map[string]string{}
	for _, rc := range resources {
		if prev, ok := byKey[strings.ToLower(rc.ResourceKey)]; ok && prev != nil {
			add(rc, "duplicate resource key")
		}
		byKey[strings.ToLower(rc.ResourceKey)] = rc

		route := strings.ToLower(rc.Route)
		if other, ok := routes[route]; ok {
			add(rc, "route %q collides with resource %s", rc.Route, other)
		}
		routes[route] = rc.ResourceKey
	}

	for _, rc := range resources {
		if rc.KeyField() == nil {
			add(rc, "key property %q is not part of the contract", rc.Key.Name)
		}
		if rc.Read.MaxExpandDepth < 0 || rc.Read.MaxExpandDepth > 3 {
			add(rc, "maxExpandDepth %d outside 0..3", rc.Read.MaxExpandDepth)
		}

		apiNames := map[string]string{}
		for i := range rc.Fields {
			f := &rc.Fields[i]
			if kind, ok := apiNames[f.ApiName]; ok {
				add(rc, "api name %q already used by a %s", f.ApiName, kind)
			}
			apiNames[f.ApiName] = "field"
			if f.Computed && f.ComputedExpression == "" {
				add(rc, "computed field %s without an expression", f.ApiName)
			}
		}
		for i := range rc.Relations {
			rel := &rc.Relations[i]
			if kind, ok := apiNames[rel.ApiName]; ok {
				add(rc, "api name %q already used by a %s", rel.ApiName, kind)
			}
			apiNames[rel.ApiName] = "relation"
			if rel.Write.WriteField != "" {
				if kind, ok := apiNames[rel.Write.WriteField]; ok && kind == "relation write field" {
					add(rc, "write field %q already used by another relation", rel.Write.WriteField)
				}
				apiNames[rel.Write.WriteField] = "relation write field"
			}

			target, ok := byKey[strings.ToLower(rel.TargetResourceKey)]
			if !ok {
				add(rc, "relation %s targets unknown resource %q", rel.ApiName, rel.TargetResourceKey)
				continue
			}
			if rel.Write.Mode == contract.WriteByID {
				fk, ok := rc.FieldByName(rel.Write.ForeignKey)
				if ok && target.KeyField() != nil && fk.Type != target.Key.Type {
					add(rc, "relation %s: foreign key %s has type %s, target key has type %s",
						rel.ApiName, rel.Write.ForeignKey, fk.Type, target.Key.Type)
				}
			}
		}

		if rc.Query.DefaultSort != "" {
			name := strings.TrimPrefix(rc.Query.DefaultSort, "-")
			if !rc.Query.SortableFields[name] {
				add(rc, "defaultSort references %q which is not sortable", name)
			}
		}
		if rc.Tenant != nil {
			if _, ok := rc.Field(rc.Tenant.Field); !ok {
				add(rc, "tenant field %q does not exist", rc.Tenant.Field)
			}
		}
	}
	return violations
}
