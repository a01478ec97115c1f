package entity

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/kontrakt/core/contract"
)

// CoerceJSON converts a raw JSON value to the canonical runtime type of the
// given field type. JSON null coerces to nil for any type.
//
// Canonical runtime types: string, int64, float64, bool, time.Time,
// uuid.UUID, json.RawMessage and the corresponding slices.
func CoerceJSON(t contract.FieldType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch t {
	case contract.TypeString, contract.TypeEnum:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, typeError(t)
		}
		return s, nil
	case contract.TypeInt32:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, typeError(t)
		}
		if n < -1<<31 || n > 1<<31-1 {
			return nil, typeError(t)
		}
		return n, nil
	case contract.TypeInt64:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, typeError(t)
		}
		return n, nil
	case contract.TypeDecimal:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, typeError(t)
		}
		return f, nil
	case contract.TypeBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, typeError(t)
		}
		return b, nil
	case contract.TypeDateTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, typeError(t)
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, typeError(t)
		}
		return ts, nil
	case contract.TypeGuid:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, typeError(t)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, typeError(t)
		}
		return id, nil
	case contract.TypeJSON:
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		return cp, nil
	case contract.TypeStringArray:
		var v []string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, typeError(t)
		}
		return v, nil
	case contract.TypeIntArray:
		var v []int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, typeError(t)
		}
		return v, nil
	case contract.TypeDecimalArray:
		var v []float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, typeError(t)
		}
		return v, nil
	case contract.TypeGuidArray:
		var ss []string
		if err := json.Unmarshal(raw, &ss); err != nil {
			return nil, typeError(t)
		}
		ids := make([]uuid.UUID, len(ss))
		for i, s := range ss {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, typeError(t)
			}
			ids[i] = id
		}
		return ids, nil
	}
	return nil, fmt.Errorf("unsupported field type %s", t)
}

// CoerceString converts a string representation to the canonical runtime
// type of the given field type. Used for filter values and declared
// default values. DateTime parses as RFC3339, enums match case-insensitively
// at validation time, booleans accept strconv syntax.
func CoerceString(t contract.FieldType, s string) (any, error) {
	switch t {
	case contract.TypeString, contract.TypeEnum:
		return s, nil
	case contract.TypeInt32:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, typeError(t)
		}
		return n, nil
	case contract.TypeInt64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, typeError(t)
		}
		return n, nil
	case contract.TypeDecimal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, typeError(t)
		}
		return f, nil
	case contract.TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, typeError(t)
		}
		return b, nil
	case contract.TypeDateTime:
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, typeError(t)
		}
		return ts, nil
	case contract.TypeGuid:
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, typeError(t)
		}
		return id, nil
	case contract.TypeJSON:
		return json.RawMessage(s), nil
	}
	return nil, fmt.Errorf("cannot parse %s from string", t)
}

func typeError(t contract.FieldType) error {
	return fmt.Errorf("value is not a valid %s", t)
}

// InferFieldType maps a Go type to its contract field type. The second
// result reports nullability (pointer types), the third whether the Go
// type maps to the closed set at all.
func InferFieldType(t reflect.Type) (contract.FieldType, bool, bool) {
	nullable := false
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
		nullable = true
	}
	switch {
	case t == uuidType:
		return contract.TypeGuid, nullable, true
	case t == timeType:
		return contract.TypeDateTime, nullable, true
	case t == rawType:
		return contract.TypeJSON, nullable, true
	}
	switch t.Kind() {
	case reflect.String:
		return contract.TypeString, nullable, true
	case reflect.Int32:
		return contract.TypeInt32, nullable, true
	case reflect.Int, reflect.Int64:
		return contract.TypeInt64, nullable, true
	case reflect.Float32, reflect.Float64:
		return contract.TypeDecimal, nullable, true
	case reflect.Bool:
		return contract.TypeBoolean, nullable, true
	case reflect.Slice:
		e := t.Elem()
		switch {
		case e == uuidType:
			return contract.TypeGuidArray, nullable, true
		case e.Kind() == reflect.String:
			return contract.TypeStringArray, nullable, true
		case e.Kind() == reflect.Int || e.Kind() == reflect.Int32 || e.Kind() == reflect.Int64:
			return contract.TypeIntArray, nullable, true
		case e.Kind() == reflect.Float32 || e.Kind() == reflect.Float64:
			return contract.TypeDecimalArray, nullable, true
		}
	}
	return "", nullable, false
}

// IsNavigation reports whether a Go type is a navigation rather than a
// scalar: a struct (other than the known scalar structs) or a collection
// of structs.
func IsNavigation(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() == reflect.Slice {
		return IsNavigation(t.Elem())
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	return t != timeType && t != uuidType
}

// NavigationTypeName returns the element type name of a navigation.
func NavigationTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t.Name()
}

// EqualFoldAny reports whether s matches any of the candidates
// case-insensitively.
func EqualFoldAny(s string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(s, c) {
			return true
		}
	}
	return false
}
