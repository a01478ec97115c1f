package builder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/entity"
	"github.com/relabs-tech/kontrakt/core/logger"
)

// Build parses a JSON configuration and builds the validated contract set.
// ORM-backed resources probe their registered entity type for keys,
// navigations and undeclared scalars.
//
// The returned error carries every violation found, not just the first,
// so operators can fix all problems in one pass.
func Build(configJSON string, types *entity.Registry) (*contract.Set, error) {
	var config Configuration
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return nil, core.ConfigError("parse error in configuration", []string{err.Error()})
	}
	return BuildConfiguration(&config, types)
}

// BuildConfiguration builds the validated contract set from a parsed
// configuration.
func BuildConfiguration(config *Configuration, types *entity.Registry) (*contract.Set, error) {
	policy := config.DefaultFieldPolicy
	if policy == "" {
		policy = "exclude"
	}

	var violations []string
	resources := make([]*contract.Resource, 0, len(config.Resources))
	for i := range config.Resources {
		cfg := &config.Resources[i]
		rc := buildResource(cfg, types, policy, &violations)
		if rc != nil {
			resources = append(resources, rc)
		}
	}

	violations = append(violations, validateSet(resources)...)
	if len(violations) > 0 {
		return nil, core.ConfigError("invalid resource configuration", violations)
	}

	rlog := logger.Default()
	for _, rc := range resources {
		rlog.Debugln("built contract:", rc.ResourceKey, "route:", rc.Route)
	}
	return contract.NewSet(resources), nil
}

// buildResource normalizes one declaration. Violations that make the
// resource unusable append to violations and yield a nil resource.
func buildResource(cfg *ResourceConfiguration, types *entity.Registry, policy string, violations *[]string) *contract.Resource {
	if cfg.Resource == "" {
		*violations = append(*violations, "resource without a resource key")
		return nil
	}
	fail := func(format string, args ...any) {
		*violations = append(*violations, fmt.Sprintf("resource %s: ", cfg.Resource)+fmt.Sprintf(format, args...))
	}

	backend := contract.Backend(cfg.Backend)
	if cfg.Backend == "" {
		backend = contract.BackendORM
	}
	switch backend {
	case contract.BackendORM, contract.BackendDynamicJSON, contract.BackendDynamicEAV, contract.BackendDynamicHybrid:
	default:
		fail("unknown backend %q", cfg.Backend)
		return nil
	}

	var entityType reflect.Type
	if backend == contract.BackendORM {
		var ok bool
		entityType, ok = types.Type(cfg.Resource)
		if !ok {
			fail("no entity type registered")
			return nil
		}
	}

	rc := &contract.Resource{
		ResourceKey: cfg.Resource,
		Route:       cfg.Route,
		Backend:     backend,
		Operations:  map[core.Operation]contract.Operation{},
		Security:    map[core.Operation]string{},
	}
	if rc.Route == "" {
		rc.Route = core.Plural(core.CamelCase(cfg.Resource))
	}

	keyName := discoverKey(cfg, entityType, fail)
	if keyName == "" {
		return nil
	}

	buildFields(rc, cfg, entityType, keyName, policy, fail)
	buildRelations(rc, cfg, entityType, fail)
	buildQuery(rc, cfg)
	buildRead(rc, cfg)
	buildOperations(rc, cfg, fail)

	for op, name := range cfg.Security {
		rc.Security[core.Operation(op)] = name
	}
	if cfg.Tenant != nil {
		rc.Tenant = &contract.Tenant{Claim: cfg.Tenant.Claim, Field: cfg.Tenant.Field, Required: cfg.Tenant.Required}
		if rc.Tenant.Claim == "" {
			rc.Tenant.Claim = "tenant"
		}
	}
	return rc
}

// discoverKey resolves the primary-key property name. An explicit override
// must resolve; otherwise probe "ID", then "{TypeName}ID". A resource with
// no discoverable key is an unrecoverable configuration error.
func discoverKey(cfg *ResourceConfiguration, entityType reflect.Type, fail func(string, ...any)) string {
	resolves := func(name string) (string, bool) {
		if entityType != nil {
			for i := 0; i < entityType.NumField(); i++ {
				if strings.EqualFold(entityType.Field(i).Name, name) {
					return entityType.Field(i).Name, true
				}
			}
			return "", false
		}
		for i := range cfg.Fields {
			if strings.EqualFold(cfg.Fields[i].Name, name) {
				return cfg.Fields[i].Name, true
			}
		}
		return "", false
	}

	if cfg.Key != "" {
		if name, ok := resolves(cfg.Key); ok {
			return name
		}
		fail("key property %q does not exist", cfg.Key)
		return ""
	}
	if name, ok := resolves("ID"); ok {
		return name
	}
	typeName := cfg.Resource
	if entityType != nil {
		typeName = entityType.Name()
	}
	if name, ok := resolves(typeName + "ID"); ok {
		return name
	}
	fail("no discoverable key property (tried ID and %sID)", typeName)
	return ""
}

// buildFields derives the field contracts: declared fields first, then —
// for ORM-backed resources — undeclared scalar properties per the default
// field policy. Navigations without a relation declaration are silently
// excluded; relations are opt-in.
func buildFields(rc *contract.Resource, cfg *ResourceConfiguration, entityType reflect.Type, keyName, policy string, fail func(string, ...any)) {
	declared := map[string]bool{}
	for i := range cfg.Fields {
		fc := &cfg.Fields[i]
		declared[fc.Name] = true
		f := fieldFromConfiguration(rc, fc, entityType, fail)
		if f != nil {
			rc.Fields = append(rc.Fields, *f)
		}
	}

	if entityType != nil {
		for i := 0; i < entityType.NumField(); i++ {
			sf := entityType.Field(i)
			if sf.PkgPath != "" || declared[sf.Name] {
				continue
			}
			if entity.IsNavigation(sf.Type) {
				continue
			}
			t, nullable, ok := entity.InferFieldType(sf.Type)
			if !ok {
				continue
			}
			if sf.Name != keyName && policy != "read-only" {
				continue
			}
			// the key is always materialized; other scalars only under
			// the convenient policy
			rc.Fields = append(rc.Fields, contract.Field{
				Name:     sf.Name,
				ApiName:  core.CamelCase(sf.Name),
				Type:     t,
				Nullable: nullable,
				InRead:   true,
			})
		}
	}

	// the primary key is always immutable
	rc.Key = contract.Key{Name: keyName}
	if f, ok := rc.FieldByName(keyName); ok {
		f.Immutable = true
		rc.Key.Type = f.Type
	}

	normalizeFields(rc)
}

func fieldFromConfiguration(rc *contract.Resource, fc *FieldConfiguration, entityType reflect.Type, fail func(string, ...any)) *contract.Field {
	if fc.Name == "" {
		fail("field without a name")
		return nil
	}
	t := contract.FieldType(fc.Type)
	nullable := fc.Nullable
	if fc.Type == "" && entityType != nil {
		if sf, ok := entityType.FieldByName(fc.Name); ok {
			if inferred, inferredNullable, ok := entity.InferFieldType(sf.Type); ok {
				t = inferred
				nullable = nullable || inferredNullable
			}
		}
	}
	if !t.IsValid() {
		fail("field %s: unknown type %q", fc.Name, fc.Type)
		return nil
	}

	boolOr := func(v *bool, fallback bool) bool {
		if v == nil {
			return fallback
		}
		return *v
	}

	f := &contract.Field{
		Name:               fc.Name,
		ApiName:            fc.ApiName,
		Type:               t,
		Nullable:           nullable,
		InRead:             boolOr(fc.Read, true),
		InCreate:           boolOr(fc.Create, true),
		InUpdate:           boolOr(fc.Update, true),
		Filterable:         fc.Filterable,
		Sortable:           fc.Sortable,
		Searchable:         fc.Searchable,
		Hidden:             fc.Hidden,
		Immutable:          fc.Immutable,
		Computed:           fc.Computed,
		ComputedExpression: fc.ComputedExpression,
		DefaultValue:       fc.Default,
		Validation: contract.Validation{
			RequiredOnCreate: fc.Required,
			MinLength:        fc.MinLength,
			MaxLength:        fc.MaxLength,
			Minimum:          fc.Minimum,
			Maximum:          fc.Maximum,
			Pattern:          fc.Pattern,
			AllowedValues:    fc.AllowedValues,
		},
	}
	if f.ApiName == "" {
		f.ApiName = core.CamelCase(f.Name)
	}
	if fc.Concurrency != "" {
		// the token is written by the engine, never by the client
		f.Immutable = true
		f.InCreate = false
	}
	if f.DefaultValue != nil {
		// a default that cannot convert would silently degrade at create
		// time, so it fails the build instead
		if _, err := convertibleDefault(f); err != nil {
			fail("field %s: %s", fc.Name, err)
		}
	}
	return f
}

func convertibleDefault(f *contract.Field) (any, error) {
	switch v := f.DefaultValue.(type) {
	case string:
		return entity.CoerceString(f.Type, v)
	case float64:
		if f.Type.IsNumeric() {
			return v, nil
		}
	case bool:
		if f.Type == contract.TypeBoolean {
			return v, nil
		}
	}
	return nil, fmt.Errorf("default value %v is not convertible to %s", f.DefaultValue, f.Type)
}

// normalizeFields applies the absolute force-outs: hidden strips every
// capability flag, computed strips the write flags.
func normalizeFields(rc *contract.Resource) {
	for i := range rc.Fields {
		f := &rc.Fields[i]
		if f.Hidden {
			f.InRead = false
			f.InCreate = false
			f.InUpdate = false
			f.Filterable = false
			f.Sortable = false
			f.Searchable = false
		}
		if f.Computed {
			f.InCreate = false
			f.InUpdate = false
		}
		if f.Immutable {
			f.InUpdate = false
		}
	}
}

// buildRelations derives the relation contracts, inferring foreign keys
// and write-field names where the declaration leaves them out.
func buildRelations(rc *contract.Resource, cfg *ResourceConfiguration, entityType reflect.Type, fail func(string, ...any)) {
	for i := range cfg.Relations {
		relc := &cfg.Relations[i]
		if relc.Name == "" {
			fail("relation without a name")
			continue
		}
		kind := contract.RelationKind(relc.Kind)
		switch kind {
		case contract.ManyToOne, contract.OneToMany, contract.ManyToMany, contract.OneToOne:
		default:
			fail("relation %s: unknown kind %q", relc.Name, relc.Kind)
			continue
		}

		rel := contract.Relation{
			Name:              relc.Name,
			ApiName:           relc.ApiName,
			Kind:              kind,
			TargetResourceKey: relc.Target,
			Read: contract.RelationRead{
				ExpandAllowed:   relc.Expand || relc.DefaultExpanded,
				DefaultExpanded: relc.DefaultExpanded,
			},
			Write: contract.RelationWrite{
				Mode:             contract.RelationWriteMode(relc.WriteMode),
				WriteField:       relc.WriteField,
				RequiredOnCreate: relc.Required,
				ForeignKey:       relc.ForeignKey,
			},
		}
		if rel.ApiName == "" {
			rel.ApiName = core.CamelCase(rel.Name)
		}
		if rel.TargetResourceKey == "" {
			// fall back to the navigation type's name
			if entityType != nil {
				if sf, ok := entityType.FieldByName(rel.Name); ok {
					rel.TargetResourceKey = entity.NavigationTypeName(sf.Type)
				}
			}
			if rel.TargetResourceKey == "" {
				fail("relation %s: no target resource", rel.Name)
				continue
			}
		}
		if rel.Write.Mode == "" {
			rel.Write.Mode = contract.WriteNone
		}

		switch rel.Write.Mode {
		case contract.WriteByID:
			if kind.IsCollection() {
				fail("relation %s: by-id writes require a single-valued relation", rel.Name)
				continue
			}
			if rel.Write.ForeignKey == "" {
				rel.Write.ForeignKey = rel.Name + "ID"
			}
			fk, ok := rc.FieldByName(rel.Write.ForeignKey)
			if !ok {
				fk = materializeForeignKey(rc, entityType, rel.Write.ForeignKey)
			}
			if fk == nil {
				fail("relation %s: foreign-key property %q does not exist", rel.Name, rel.Write.ForeignKey)
				continue
			}
			if rel.Write.WriteField == "" {
				rel.Write.WriteField = core.CamelCase(rel.Write.ForeignKey)
			}
		case contract.WriteByIDList:
			if !kind.IsCollection() {
				fail("relation %s: by-id-list writes require a collection relation", rel.Name)
				continue
			}
			if rel.Write.WriteField == "" {
				rel.Write.WriteField = core.CamelCase(rel.Name) + "Ids"
			}
		case contract.WriteNone, contract.WriteNestedDisabled:
			// never accepts writes through any field name
			rel.Write.WriteField = ""
		default:
			fail("relation %s: unknown write mode %q", rel.Name, relc.WriteMode)
			continue
		}

		rc.Relations = append(rc.Relations, rel)
	}
}

// materializeForeignKey adds an inferred foreign-key property as an
// internal, write-through-relation-only field.
func materializeForeignKey(rc *contract.Resource, entityType reflect.Type, name string) *contract.Field {
	t := contract.TypeGuid
	nullable := true
	if entityType != nil {
		sf, ok := entityType.FieldByName(name)
		if !ok {
			return nil
		}
		inferred, inferredNullable, ok := entity.InferFieldType(sf.Type)
		if !ok {
			return nil
		}
		t, nullable = inferred, inferredNullable
	}
	rc.Fields = append(rc.Fields, contract.Field{
		Name:     name,
		ApiName:  core.CamelCase(name),
		Type:     t,
		Nullable: nullable,
		InRead:   true,
	})
	return &rc.Fields[len(rc.Fields)-1]
}

func buildQuery(rc *contract.Resource, cfg *ResourceConfiguration) {
	q := contract.Query{
		MaxPageSize:      cfg.MaxPageSize,
		FilterableFields: map[string]bool{},
		SortableFields:   map[string]bool{},
		DefaultSort:      cfg.DefaultSort,
	}
	if q.MaxPageSize == 0 {
		q.MaxPageSize = 100
	}
	for i := range rc.Fields {
		f := &rc.Fields[i]
		if f.Filterable {
			q.FilterableFields[f.ApiName] = true
		}
		if f.Sortable {
			q.SortableFields[f.ApiName] = true
		}
		if f.Searchable {
			q.SearchableFields = append(q.SearchableFields, f.ApiName)
		}
	}
	rc.Query = q
}

func buildRead(rc *contract.Resource, cfg *ResourceConfiguration) {
	r := contract.Read{
		ExpandAllowed:  map[string]bool{},
		MaxExpandDepth: 1,
	}
	if cfg.MaxExpandDepth != nil {
		r.MaxExpandDepth = *cfg.MaxExpandDepth
	}
	for i := range rc.Relations {
		rel := &rc.Relations[i]
		if rel.Read.ExpandAllowed {
			r.ExpandAllowed[rel.ApiName] = true
		}
		if rel.Read.DefaultExpanded {
			r.DefaultExpand = append(r.DefaultExpand, rel.ApiName)
		}
	}
	rc.Read = r
}

// buildOperations derives the per-operation shapes. Reads take no body;
// create accepts every create-allowed field; update accepts every
// update-allowed field, which already excludes immutable ones.
func buildOperations(rc *contract.Resource, cfg *ResourceConfiguration, fail func(string, ...any)) {
	enabled := map[core.Operation]bool{}
	if len(cfg.Operations) == 0 {
		for _, op := range core.Operations() {
			enabled[op] = true
		}
	} else {
		for _, s := range cfg.Operations {
			op := core.Operation(s)
			switch op {
			case core.OperationList, core.OperationRead, core.OperationCreate, core.OperationUpdate, core.OperationDelete:
				enabled[op] = true
			default:
				fail("unknown operation %q", s)
			}
		}
	}

	var readable, createable, updateable, required, immutable []string
	var concurrency *contract.Concurrency
	for i := range rc.Fields {
		f := &rc.Fields[i]
		if f.InRead {
			readable = append(readable, f.ApiName)
		}
		if f.InCreate {
			createable = append(createable, f.ApiName)
		}
		if f.InUpdate {
			updateable = append(updateable, f.ApiName)
		}
		if f.Validation.RequiredOnCreate && f.InCreate {
			required = append(required, f.ApiName)
		}
		if f.Immutable {
			immutable = append(immutable, f.ApiName)
		}
	}
	for i := range cfg.Fields {
		fc := &cfg.Fields[i]
		if fc.Concurrency == "" {
			continue
		}
		mode := contract.ConcurrencyMode(fc.Concurrency)
		if mode != contract.ConcurrencyRowVersion && mode != contract.ConcurrencyETag {
			fail("field %s: unknown concurrency mode %q", fc.Name, fc.Concurrency)
			continue
		}
		if concurrency != nil {
			fail("field %s: more than one concurrency token field", fc.Name)
			continue
		}
		f, ok := rc.FieldByName(fc.Name)
		if !ok {
			continue
		}
		concurrency = &contract.Concurrency{
			Mode:             mode,
			Field:            f.ApiName,
			RequiredOnUpdate: fc.ConcurrencyRequired,
		}
	}

	// Get additionally exposes the expand-allowed relation names, because
	// a caller may request expansion against Get
	getOutput := append([]string{}, readable...)
	for i := range rc.Relations {
		rel := &rc.Relations[i]
		if rel.Read.ExpandAllowed {
			getOutput = append(getOutput, rel.ApiName)
		}
	}

	rc.Operations[core.OperationList] = contract.Operation{
		Enabled:     enabled[core.OperationList],
		OutputShape: readable,
	}
	rc.Operations[core.OperationRead] = contract.Operation{
		Enabled:     enabled[core.OperationRead],
		OutputShape: getOutput,
	}
	rc.Operations[core.OperationCreate] = contract.Operation{
		Enabled:          enabled[core.OperationCreate],
		InputShape:       createable,
		OutputShape:      readable,
		RequiredOnCreate: required,
	}
	rc.Operations[core.OperationUpdate] = contract.Operation{
		Enabled:         enabled[core.OperationUpdate],
		InputShape:      updateable,
		OutputShape:     readable,
		ImmutableFields: immutable,
		Concurrency:     concurrency,
	}
	rc.Operations[core.OperationDelete] = contract.Operation{
		Enabled: enabled[core.OperationDelete],
	}
}
