package mapper

import (
	"strings"

	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/entity"
)

// Evaluate computes a computed-field expression against the current entity
// state. The expression language is deliberately tiny: field names joined
// by "+", with exactly two modes. All-text operands concatenate, all-numeric
// operands sum. Anything else fails closed and evaluates to nil.
//
// Computed values are read-time only; they are never persisted.
func Evaluate(rc *contract.Resource, acc entity.Accessor, expression string) any {
	parts := strings.Split(expression, "+")
	fields := make([]*contract.Field, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			return nil
		}
		f, ok := rc.FieldByName(name)
		if !ok {
			if f, ok = rc.Field(name); !ok {
				return nil
			}
		}
		if f.Computed {
			// no recursion
			return nil
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil
	}

	allText, allNumeric := true, true
	for _, f := range fields {
		if !f.Type.IsText() {
			allText = false
		}
		if !f.Type.IsNumeric() {
			allNumeric = false
		}
	}

	switch {
	case allText:
		var b strings.Builder
		for _, f := range fields {
			v, _ := acc.Get(f.Name)
			if s, ok := v.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	case allNumeric:
		sum := 0.0
		for _, f := range fields {
			v, _ := acc.Get(f.Name)
			switch n := v.(type) {
			case int:
				sum += float64(n)
			case int32:
				sum += float64(n)
			case int64:
				sum += float64(n)
			case float32:
				sum += float64(n)
			case float64:
				sum += n
			}
		}
		return sum
	}
	return nil
}
