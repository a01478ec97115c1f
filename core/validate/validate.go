/*Package validate checks an incoming JSON body against an operation
contract and produces a structured, field-keyed error map.

The error map shape — api name to a list of human-readable messages — is
the wire contract for client-side form validation and must stay stable.
*/
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/entity"
	"github.com/relabs-tech/kontrakt/core/mapper"
)

// Body validates a request body against the operation's contract. Every
// violation is accumulated; the result is nil only when the body is clean.
// Any violation aborts the operation before it touches storage.
func Body(rc *contract.Resource, op core.Operation, body mapper.Body) map[string][]string {
	oc := rc.Operation(op)
	fieldErrors := map[string][]string{}
	add := func(field, message string) {
		fieldErrors[field] = append(fieldErrors[field], message)
	}

	allowed := map[string]bool{}
	for _, name := range oc.InputShape {
		allowed[name] = true
	}
	// relation write fields are writable through their own names
	for i := range rc.Relations {
		rel := &rc.Relations[i]
		if rel.Write.Mode == contract.WriteByID || rel.Write.Mode == contract.WriteByIDList {
			allowed[rel.Write.WriteField] = true
		}
	}
	concurrencyField := ""
	if oc.Concurrency != nil && oc.Concurrency.Mode != contract.ConcurrencyNone {
		concurrencyField = oc.Concurrency.Field
		allowed[concurrencyField] = true
	}
	immutable := map[string]bool{}
	for _, name := range oc.ImmutableFields {
		immutable[name] = true
	}

	// rule 1: unknown or forbidden fields; immutable fields get their
	// dedicated message from rule 3 instead
	names := make([]string, 0, len(body))
	for name := range body {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if allowed[name] {
			continue
		}
		if op == core.OperationUpdate && immutable[name] {
			continue
		}
		add(name, "unknown or forbidden field")
	}

	// rule 2: required fields on create
	if op == core.OperationCreate {
		for _, name := range oc.RequiredOnCreate {
			if _, present := body[name]; !present {
				add(name, "required")
			}
		}
		for i := range rc.Relations {
			rel := &rc.Relations[i]
			if rel.Write.RequiredOnCreate && (rel.Write.Mode == contract.WriteByID || rel.Write.Mode == contract.WriteByIDList) {
				if _, present := body[rel.Write.WriteField]; !present {
					add(rel.Write.WriteField, "required")
				}
			}
		}
	}

	if op == core.OperationUpdate {
		// rule 3: immutable fields, concurrency field exempt
		for _, name := range oc.ImmutableFields {
			if name == concurrencyField {
				continue
			}
			if _, present := body[name]; present {
				add(name, "immutable")
			}
		}
		// rule 4: required concurrency token
		if oc.Concurrency != nil && oc.Concurrency.RequiredOnUpdate {
			if _, present := body[concurrencyField]; !present {
				add(concurrencyField, "concurrency token required")
			}
		}
	}

	// rule 5: field constraints on present, allowed fields
	for _, name := range names {
		if !allowed[name] {
			continue
		}
		f, ok := rc.Field(name)
		if !ok {
			continue
		}
		raw := body[name]
		v, err := entity.CoerceJSON(f.Type, raw)
		if err != nil {
			add(name, err.Error())
			continue
		}
		if v == nil {
			if !f.Nullable && name != concurrencyField {
				add(name, "must not be null")
			}
			continue
		}
		checkConstraints(f, v, add)
	}

	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

func checkConstraints(f *contract.Field, v any, add func(field, message string)) {
	c := f.Validation

	if s, ok := v.(string); ok {
		if c.MinLength > 0 && len(s) < c.MinLength {
			add(f.ApiName, fmt.Sprintf("must be at least %d characters", c.MinLength))
		}
		if c.MaxLength > 0 && len(s) > c.MaxLength {
			add(f.ApiName, fmt.Sprintf("must be at most %d characters", c.MaxLength))
		}
		if c.Pattern != "" {
			matched, err := regexp.MatchString(c.Pattern, s)
			if err == nil && !matched {
				add(f.ApiName, "does not match the required pattern")
			}
		}
		if len(c.AllowedValues) > 0 && !containsFold(c.AllowedValues, s) {
			add(f.ApiName, "is not one of the allowed values")
		}
	}

	var n float64
	isNumber := false
	switch number := v.(type) {
	case int64:
		n, isNumber = float64(number), true
	case float64:
		n, isNumber = number, true
	}
	if isNumber {
		if c.Minimum != nil && n < *c.Minimum {
			add(f.ApiName, fmt.Sprintf("must be at least %g", *c.Minimum))
		}
		if c.Maximum != nil && n > *c.Maximum {
			add(f.ApiName, fmt.Sprintf("must be at most %g", *c.Maximum))
		}
	}
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
