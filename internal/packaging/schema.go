package packaging

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema constrains the manifest shape before any structural check
// runs. Slug and version formats are enforced here; cross-field rules (slug
// matching the directory, dependency existence) are the validator's job.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["slug", "name", "version"],
  "properties": {
    "slug": {
      "type": "string",
      "pattern": "^[a-z0-9]+(-[a-z0-9]+)*$",
      "maxLength": 64
    },
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 128
    },
    "version": {
      "type": "string",
      "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+$"
    },
    "description": {"type": "string"},
    "icon": {"type": "string"},
    "category": {"type": "string"},
    "tags": {
      "type": "array",
      "items": {"type": "string"}
    },
    "required_tools": {
      "type": "array",
      "items": {"type": "string", "pattern": "^[a-z0-9]+(-[a-z0-9]+)*$"}
    },
    "required_connectors": {
      "type": "array",
      "items": {"type": "string", "pattern": "^[a-z0-9]+(-[a-z0-9]+)*$"}
    },
    "triggers": {
      "type": "array",
      "items": {"type": "string"}
    },
    "capabilities": {
      "type": "array",
      "items": {"type": "string"}
    },
    "min_platform_version": {"type": "string"}
  },
  "additionalProperties": false
}`

var (
	compiledSchema     *jsonschema.Schema
	compileSchemaOnce  sync.Once
	compileSchemaError error
)

func manifestJSONSchema() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		compiledSchema, compileSchemaError = jsonschema.CompileString("manifest.schema.json", manifestSchema)
	})
	return compiledSchema, compileSchemaError
}
