/*Package contract holds the normalized, validated description of a resource:
its fields, relations, query allowlists and per-operation policies.

Contracts are built once at startup (or on first access for dynamic
definitions) by the builder package and never mutated afterwards. They are
safe for unsynchronized concurrent reads.
*/
package contract

import (
	"strings"

	"github.com/relabs-tech/kontrakt/core"
)

// Backend tags the storage strategy for a resource. The tag is consumed by
// the persistence collaborator, not by the query or mapping engine.
type Backend string

// all storage strategies
const (
	BackendORM           Backend = "orm"
	BackendDynamicJSON   Backend = "dynamic-json"
	BackendDynamicEAV    Backend = "dynamic-eav"
	BackendDynamicHybrid Backend = "dynamic-hybrid"
)

// FieldType is the closed set of scalar field types.
type FieldType string

// all field types
const (
	TypeString       FieldType = "string"
	TypeInt32        FieldType = "int32"
	TypeInt64        FieldType = "int64"
	TypeDecimal      FieldType = "decimal"
	TypeBoolean      FieldType = "boolean"
	TypeDateTime     FieldType = "datetime"
	TypeGuid         FieldType = "guid"
	TypeJSON         FieldType = "json"
	TypeEnum         FieldType = "enum"
	TypeStringArray  FieldType = "string[]"
	TypeIntArray     FieldType = "int[]"
	TypeGuidArray    FieldType = "guid[]"
	TypeDecimalArray FieldType = "decimal[]"
)

// IsValid reports whether t is one of the closed set.
func (t FieldType) IsValid() bool {
	switch t {
	case TypeString, TypeInt32, TypeInt64, TypeDecimal, TypeBoolean, TypeDateTime,
		TypeGuid, TypeJSON, TypeEnum, TypeStringArray, TypeIntArray, TypeGuidArray, TypeDecimalArray:
		return true
	}
	return false
}

// IsArray reports whether t is an array variant.
func (t FieldType) IsArray() bool {
	return strings.HasSuffix(string(t), "[]")
}

// IsNumeric reports whether values of t order and sum numerically.
func (t FieldType) IsNumeric() bool {
	return t == TypeInt32 || t == TypeInt64 || t == TypeDecimal
}

// IsText reports whether values of t support the string-only
// filter operators contains, starts and ends.
func (t FieldType) IsText() bool {
	return t == TypeString || t == TypeEnum
}

// ConcurrencyMode selects the optimistic-concurrency token flavor.
type ConcurrencyMode string

// all concurrency modes
const (
	ConcurrencyNone       ConcurrencyMode = "none"
	ConcurrencyRowVersion ConcurrencyMode = "row-version"
	ConcurrencyETag       ConcurrencyMode = "etag"
)

// RelationKind is the shape of a navigational relationship.
type RelationKind string

// all relation kinds
const (
	ManyToOne  RelationKind = "many-to-one"
	OneToMany  RelationKind = "one-to-many"
	ManyToMany RelationKind = "many-to-many"
	OneToOne   RelationKind = "one-to-one"
)

// IsCollection reports whether the relation navigates to many targets.
func (k RelationKind) IsCollection() bool {
	return k == OneToMany || k == ManyToMany
}

// RelationWriteMode selects how a relation accepts writes.
type RelationWriteMode string

// all relation write modes
const (
	WriteNone           RelationWriteMode = "none"
	WriteByID           RelationWriteMode = "by-id"
	WriteByIDList       RelationWriteMode = "by-id-list"
	WriteNestedDisabled RelationWriteMode = "nested-disabled"
)

// Validation holds the per-field constraint set checked by request validation.
type Validation struct {
	RequiredOnCreate bool
	MinLength        int
	MaxLength        int
	Minimum          *float64
	Maximum          *float64
	Pattern          string
	AllowedValues    []string
}

// Field describes one scalar field of a resource.
type Field struct {
	// Name is the canonical internal identifier, ApiName the external one.
	Name    string
	ApiName string
	Type    FieldType

	Nullable   bool
	InRead     bool
	InCreate   bool
	InUpdate   bool
	Filterable bool
	Sortable   bool
	Searchable bool
	// Hidden is an absolute deny: it strips every In*/Filterable/Sortable flag.
	Hidden    bool
	Immutable bool
	// Computed fields evaluate ComputedExpression at read time and are never persisted.
	Computed           bool
	ComputedExpression string

	// DefaultValue is applied on create when the field is absent from the body.
	DefaultValue any

	Validation Validation
}

// RelationRead holds the read-side expansion policy of a relation.
type RelationRead struct {
	ExpandAllowed   bool
	DefaultExpanded bool
}

// RelationWrite holds the write-side policy of a relation.
type RelationWrite struct {
	Mode RelationWriteMode
	// WriteField is the external name the client uses, e.g. "authorId" or "tagIds".
	WriteField       string
	RequiredOnCreate bool
	// ForeignKey is the internal property set by by-id writes.
	ForeignKey string
}

// Relation describes one navigational relationship.
type Relation struct {
	Name              string
	ApiName           string
	Kind              RelationKind
	TargetResourceKey string
	Read              RelationRead
	Write             RelationWrite
}

// Concurrency holds the optimistic-concurrency policy of an update operation.
type Concurrency struct {
	Mode ConcurrencyMode
	// Field is the api name of the token field.
	Field            string
	RequiredOnUpdate bool
}

// Operation is the per-(resource, operation) policy.
type Operation struct {
	Enabled bool
	// InputShape is the ordered allowlist of writable api names.
	InputShape []string
	// OutputShape is the allowlist of readable api names.
	OutputShape      []string
	RequiredOnCreate []string
	ImmutableFields  []string
	Concurrency      *Concurrency
}

// Key identifies the primary-key field of a resource.
type Key struct {
	Name string
	Type FieldType
}

// Query holds the allowlists enforced by the query engine.
type Query struct {
	MaxPageSize      int
	FilterableFields map[string]bool
	SortableFields   map[string]bool
	SearchableFields []string
	DefaultSort      string
}

// Read holds the allowlists enforced when serializing relations.
type Read struct {
	ExpandAllowed map[string]bool
	// MaxExpandDepth bounds relation expansion nesting. 0 disables
	// expansion entirely; beyond the first level only default-expanded
	// relations of the targets expand further.
	MaxExpandDepth int
	DefaultExpand  []string
}

// Tenant configures row-level tenant isolation for a resource.
type Tenant struct {
	// Claim is the token claim carrying the tenant identifier.
	Claim string
	// Field is the api name of the field holding the tenant identifier.
	Field    string
	Required bool
}

// Resource is the root aggregate describing one resource type.
type Resource struct {
	ResourceKey string
	Route       string
	Backend     Backend
	Key         Key
	Query       Query
	Read        Read
	Fields      []Field
	Relations   []Relation
	Operations  map[core.Operation]Operation
	// Security maps operation to an authorization-policy name; empty means no policy.
	Security map[core.Operation]string
	Tenant   *Tenant
}

// Field returns the field with the given api name.
func (r *Resource) Field(apiName string) (*Field, bool) {
	for i := range r.Fields {
		if r.Fields[i].ApiName == apiName {
			return &r.Fields[i], true
		}
	}
	return nil, false
}

// FieldByName returns the field with the given canonical name.
func (r *Resource) FieldByName(name string) (*Field, bool) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i], true
		}
	}
	return nil, false
}

// Relation returns the relation with the given api name.
func (r *Resource) Relation(apiName string) (*Relation, bool) {
	for i := range r.Relations {
		if r.Relations[i].ApiName == apiName {
			return &r.Relations[i], true
		}
	}
	return nil, false
}

// RelationByWriteField returns the relation accepting writes through the given api name.
func (r *Resource) RelationByWriteField(writeField string) (*Relation, bool) {
	for i := range r.Relations {
		rel := &r.Relations[i]
		if rel.Write.Mode == WriteNone || rel.Write.Mode == WriteNestedDisabled {
			continue
		}
		if rel.Write.WriteField == writeField {
			return rel, true
		}
	}
	return nil, false
}

// Operation returns the policy for the given operation. A missing
// entry is a disabled operation.
func (r *Resource) Operation(op core.Operation) Operation {
	if oc, ok := r.Operations[op]; ok {
		return oc
	}
	return Operation{}
}

// KeyField returns the primary-key field contract.
func (r *Resource) KeyField() *Field {
	f, _ := r.FieldByName(r.Key.Name)
	return f
}

// ConcurrencyField returns the update operation's concurrency token field
// and mode, or nil and ConcurrencyNone when updates carry no token.
func (r *Resource) ConcurrencyField() (*Field, ConcurrencyMode) {
	oc, ok := r.Operations[core.OperationUpdate]
	if !ok || oc.Concurrency == nil || oc.Concurrency.Mode == ConcurrencyNone {
		return nil, ConcurrencyNone
	}
	f, ok := r.Field(oc.Concurrency.Field)
	if !ok {
		return nil, ConcurrencyNone
	}
	return f, oc.Concurrency.Mode
}
