package registry

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema is the JSON schema every dynamic resource definition
// must satisfy before it is persisted. It gates shape only; semantic
// checks such as relation targets run in the contract builder.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$id": "kontrakt/definition",
  "type": "object",
  "required": ["resource", "fields"],
  "properties": {
    "resource": { "type": "string", "minLength": 1 },
    "route": { "type": "string" },
    "backend": { "enum": ["dynamic-json", "dynamic-eav", "dynamic-hybrid"] },
    "description": { "type": "string" },
    "key": { "type": "string" },
    "max_page_size": { "type": "integer", "minimum": 1 },
    "default_sort": { "type": "string" },
    "max_expand_depth": { "type": "integer", "minimum": 0, "maximum": 3 },
    "operations": {
      "type": "array",
      "items": { "enum": ["list", "read", "create", "update", "delete"] }
    },
    "fields": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": { "type": "string", "minLength": 1 },
          "api_name": { "type": "string" },
          "type": {
            "enum": ["string", "int32", "int64", "decimal", "boolean",
              "datetime", "guid", "json", "enum",
              "string[]", "int[]", "guid[]", "decimal[]"]
          },
          "nullable": { "type": "boolean" },
          "read": { "type": "boolean" },
          "create": { "type": "boolean" },
          "update": { "type": "boolean" },
          "filterable": { "type": "boolean" },
          "sortable": { "type": "boolean" },
          "searchable": { "type": "boolean" },
          "hidden": { "type": "boolean" },
          "immutable": { "type": "boolean" },
          "computed": { "type": "boolean" },
          "computed_expression": { "type": "string" },
          "required": { "type": "boolean" },
          "min_length": { "type": "integer", "minimum": 0 },
          "max_length": { "type": "integer", "minimum": 0 },
          "minimum": { "type": "number" },
          "maximum": { "type": "number" },
          "pattern": { "type": "string" },
          "allowed_values": { "type": "array", "items": { "type": "string" } },
          "concurrency": { "enum": ["row-version", "etag"] },
          "concurrency_required": { "type": "boolean" }
        }
      }
    },
    "relations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "kind", "target"],
        "properties": {
          "name": { "type": "string", "minLength": 1 },
          "api_name": { "type": "string" },
          "kind": { "enum": ["many-to-one", "one-to-many", "many-to-many", "one-to-one"] },
          "target": { "type": "string", "minLength": 1 },
          "expand": { "type": "boolean" },
          "default_expanded": { "type": "boolean" },
          "write_mode": { "enum": ["none", "by-id", "by-id-list", "nested-disabled"] },
          "write_field": { "type": "string" },
          "foreign_key": { "type": "string" },
          "required": { "type": "boolean" }
        }
      }
    }
  }
}`

var compiledDefinitionSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewStringLoader(definitionSchema))
	if err != nil {
		panic(fmt.Errorf("cannot compile definition schema: %s", err))
	}
	return schema
}()

// ValidateDefinition validates a definition document against the
// definition schema. If no error is returned, the document is valid.
func ValidateDefinition(definition string) error {
	result, err := compiledDefinitionSchema.Validate(gojsonschema.NewStringLoader(definition))
	if err != nil {
		return fmt.Errorf("cannot validate definition: %s", err)
	}
	if !result.Valid() {
		msg := "the definition is not valid:\n"
		for _, e := range result.Errors() {
			msg += fmt.Sprintf("- %s\n", e)
		}
		return errors.New(msg)
	}
	return nil
}
