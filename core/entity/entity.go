/*Package entity provides property access by canonical name over arbitrary
entity values.

ORM-backed resources register their Go struct type once; the reflection
walk happens at registration and the hot path works on cached field
indices. Dynamic resources use a plain map accessor. Both implement the
same Accessor capability consumed by the query engine and the mapper.
*/
package entity

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Accessor reads and writes entity properties by canonical name.
type Accessor interface {
	// Get returns the property value, or false if the entity has no such property.
	Get(name string) (any, bool)
	// Set writes the property value. Values follow the canonical runtime
	// types of the contract field types.
	Set(name string, value any) error
	// Entity returns the underlying value.
	Entity() any
}

// Factory creates and wraps entities of one resource's type.
type Factory interface {
	New() Accessor
	Wrap(v any) (Accessor, error)
}

// Registry holds the registered entity types, keyed by resource key.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*structType
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{types: map[string]*structType{}}
}

type structField struct {
	index    []int
	typ      reflect.Type
	nullable bool
}

type structType struct {
	typ    reflect.Type
	fields map[string]structField
}

// Register registers the struct type of the given prototype for a resource
// key. The prototype may be a struct or a pointer to one. Registering a
// non-struct is a configuration error.
func (r *Registry) Register(resourceKey string, prototype any) error {
	t := reflect.TypeOf(prototype)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("resource %s: prototype must be a struct, got %v", resourceKey, reflect.TypeOf(prototype))
	}
	st := &structType{typ: t, fields: map[string]structField{}}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		ft := f.Type
		nullable := false
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
			nullable = true
		}
		sf := structField{index: f.Index, typ: f.Type, nullable: nullable}
		st.fields[f.Name] = sf
		if tag, ok := f.Tag.Lookup("json"); ok {
			if name := strings.Split(tag, ",")[0]; name != "" && name != "-" {
				st.fields[name] = sf
			}
		}
	}
	r.mu.Lock()
	r.types[strings.ToLower(resourceKey)] = st
	r.mu.Unlock()
	return nil
}

// Type returns the registered struct type for a resource key.
func (r *Registry) Type(resourceKey string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.types[strings.ToLower(resourceKey)]
	if !ok {
		return nil, false
	}
	return st.typ, true
}

// Factory returns the accessor factory for a registered resource key.
func (r *Registry) Factory(resourceKey string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.types[strings.ToLower(resourceKey)]
	if !ok {
		return nil, false
	}
	return structFactory{st: st}, true
}

type structFactory struct {
	st *structType
}

func (f structFactory) New() Accessor {
	return &structAccessor{st: f.st, v: reflect.New(f.st.typ).Elem()}
}

func (f structFactory) Wrap(v any) (Accessor, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Type() != f.st.typ {
		return nil, fmt.Errorf("cannot wrap %T as %s", v, f.st.typ)
	}
	// work on an addressable copy
	cp := reflect.New(f.st.typ).Elem()
	cp.Set(rv)
	return &structAccessor{st: f.st, v: cp}, nil
}

// structAccessor accesses a struct entity through the cached field index.
// Names that do not resolve to a struct field land in a side bag, which is
// where relation id lists live for typed entities.
type structAccessor struct {
	st     *structType
	v      reflect.Value
	extras map[string]any
}

func (a *structAccessor) Get(name string) (any, bool) {
	if sf, ok := a.st.fields[name]; ok {
		fv := a.v.FieldByIndex(sf.index)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				return nil, true
			}
			fv = fv.Elem()
		}
		return fv.Interface(), true
	}
	if a.extras != nil {
		if v, ok := a.extras[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (a *structAccessor) Set(name string, value any) error {
	sf, ok := a.st.fields[name]
	if !ok {
		if a.extras == nil {
			a.extras = map[string]any{}
		}
		a.extras[name] = value
		return nil
	}
	fv := a.v.FieldByIndex(sf.index)
	if value == nil {
		fv.Set(reflect.Zero(sf.typ))
		return nil
	}
	target := sf.typ
	if target.Kind() == reflect.Ptr {
		target = target.Elem()
	}
	converted, err := convertValue(reflect.ValueOf(value), target)
	if err != nil {
		return fmt.Errorf("property %s: %s", name, err)
	}
	if sf.typ.Kind() == reflect.Ptr {
		p := reflect.New(target)
		p.Elem().Set(converted)
		fv.Set(p)
	} else {
		fv.Set(converted)
	}
	return nil
}

func (a *structAccessor) Entity() any {
	return a.v.Interface()
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
	rawType  = reflect.TypeOf(json.RawMessage{})
)

// convertValue converts a canonical runtime value to the target field type.
// Only the conversions implied by the closed FieldType set are supported.
func convertValue(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	if v.Type() == target {
		return v, nil
	}
	if v.Type().AssignableTo(target) {
		return v.Convert(target), nil
	}
	switch target.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		if v.Kind() == reflect.Int64 || v.Kind() == reflect.Int || v.Kind() == reflect.Int32 {
			return v.Convert(target), nil
		}
		if v.Kind() == reflect.Float64 {
			return reflect.ValueOf(int64(v.Float())).Convert(target), nil
		}
	case reflect.Float32, reflect.Float64:
		if v.Kind() == reflect.Float64 || v.Kind() == reflect.Int64 {
			return v.Convert(target), nil
		}
	case reflect.String:
		if v.Kind() == reflect.String {
			return v.Convert(target), nil
		}
	case reflect.Bool:
		if v.Kind() == reflect.Bool {
			return v.Convert(target), nil
		}
	case reflect.Slice:
		if v.Kind() == reflect.Slice {
			out := reflect.MakeSlice(target, v.Len(), v.Len())
			for i := 0; i < v.Len(); i++ {
				ev := v.Index(i)
				if ev.Kind() == reflect.Interface {
					ev = ev.Elem()
				}
				converted, err := convertValue(ev, target.Elem())
				if err != nil {
					return reflect.Value{}, err
				}
				out.Index(i).Set(converted)
			}
			return out, nil
		}
	}
	if target == timeType || target == uuidType || target == rawType {
		if v.Type().ConvertibleTo(target) {
			return v.Convert(target), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", v.Type(), target)
}

// MapFactory creates map-backed accessors for dynamic resources.
type MapFactory struct{}

// New creates an empty dynamic entity.
func (MapFactory) New() Accessor {
	return MapAccessor{m: map[string]any{}}
}

// Wrap wraps an existing map as a dynamic entity.
func (MapFactory) Wrap(v any) (Accessor, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot wrap %T as dynamic entity", v)
	}
	return MapAccessor{m: m}, nil
}

// MapAccessor accesses a dynamic entity stored as a plain map.
type MapAccessor struct {
	m map[string]any
}

// NewMapAccessor wraps the given map.
func NewMapAccessor(m map[string]any) MapAccessor {
	if m == nil {
		m = map[string]any{}
	}
	return MapAccessor{m: m}
}

// Get returns the property value. Dynamic entities have every property.
func (a MapAccessor) Get(name string) (any, bool) {
	v, ok := a.m[name]
	if !ok {
		return nil, true
	}
	return v, true
}

// Set writes the property value.
func (a MapAccessor) Set(name string, value any) error {
	a.m[name] = value
	return nil
}

// Entity returns the underlying map.
func (a MapAccessor) Entity() any {
	return a.m
}
