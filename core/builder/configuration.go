/*Package builder normalizes raw resource declarations into validated
contracts.

The static variant pairs a JSON configuration with registered Go entity
types and probes the types for keys, navigations and scalar fields. The
dynamic variant builds a contract from a runtime definition alone.

A build either produces a complete, validated contract set or fails with
every violation found; a contract that fails validation is never served.
*/
package builder

// Configuration holds the complete declarative description of all resources
type Configuration struct {
	Resources []ResourceConfiguration `json:"resources"`
	// DefaultFieldPolicy decides what happens to scalar properties without
	// a field declaration: "exclude" (the default, recommended) or
	// "read-only".
	DefaultFieldPolicy string `json:"default_field_policy,omitempty"`
}

// ResourceConfiguration describes one resource
type ResourceConfiguration struct {
	Resource    string `json:"resource"`
	Route       string `json:"route,omitempty"`
	Backend     string `json:"backend,omitempty"`
	Description string `json:"description,omitempty"`
	// Key overrides key-property discovery
	Key            string                  `json:"key,omitempty"`
	MaxPageSize    int                     `json:"max_page_size,omitempty"`
	DefaultSort    string                  `json:"default_sort,omitempty"`
	MaxExpandDepth *int                    `json:"max_expand_depth,omitempty"`
	Fields         []FieldConfiguration    `json:"fields"`
	Relations      []RelationConfiguration `json:"relations,omitempty"`
	// Operations restricts the enabled operations; empty enables all
	Operations []string             `json:"operations,omitempty"`
	Security   map[string]string    `json:"security,omitempty"`
	Tenant     *TenantConfiguration `json:"tenant,omitempty"`
}

// FieldConfiguration describes one scalar field
type FieldConfiguration struct {
	Name    string `json:"name"`
	ApiName string `json:"api_name,omitempty"`
	// Type may be omitted for ORM-backed resources, where it is inferred
	// from the entity type
	Type     string `json:"type,omitempty"`
	Nullable bool   `json:"nullable,omitempty"`
	// Read, Create and Update default to true for declared fields
	Read               *bool    `json:"read,omitempty"`
	Create             *bool    `json:"create,omitempty"`
	Update             *bool    `json:"update,omitempty"`
	Filterable         bool     `json:"filterable,omitempty"`
	Sortable           bool     `json:"sortable,omitempty"`
	Searchable         bool     `json:"searchable,omitempty"`
	Hidden             bool     `json:"hidden,omitempty"`
	Immutable          bool     `json:"immutable,omitempty"`
	Computed           bool     `json:"computed,omitempty"`
	ComputedExpression string   `json:"computed_expression,omitempty"`
	Default            any      `json:"default,omitempty"`
	Required           bool     `json:"required,omitempty"`
	MinLength          int      `json:"min_length,omitempty"`
	MaxLength          int      `json:"max_length,omitempty"`
	Minimum            *float64 `json:"minimum,omitempty"`
	Maximum            *float64 `json:"maximum,omitempty"`
	Pattern            string   `json:"pattern,omitempty"`
	AllowedValues      []string `json:"allowed_values,omitempty"`
	// Concurrency marks this field as the concurrency token:
	// "row-version" or "etag"
	Concurrency         string `json:"concurrency,omitempty"`
	ConcurrencyRequired bool   `json:"concurrency_required,omitempty"`
}

// RelationConfiguration describes one navigational relationship
type RelationConfiguration struct {
	Name    string `json:"name"`
	ApiName string `json:"api_name,omitempty"`
	// Kind is many-to-one, one-to-many, many-to-many or one-to-one
	Kind            string `json:"kind"`
	Target          string `json:"target"`
	Expand          bool   `json:"expand,omitempty"`
	DefaultExpanded bool   `json:"default_expanded,omitempty"`
	// WriteMode is none, by-id, by-id-list or nested-disabled
	WriteMode  string `json:"write_mode,omitempty"`
	WriteField string `json:"write_field,omitempty"`
	ForeignKey string `json:"foreign_key,omitempty"`
	Required   bool   `json:"required,omitempty"`
}

// TenantConfiguration enables row-level tenant isolation for a resource
type TenantConfiguration struct {
	Claim    string `json:"claim,omitempty"`
	Field    string `json:"field,omitempty"`
	Required bool   `json:"required,omitempty"`
}
