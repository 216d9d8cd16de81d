package rule

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const conditionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$ref": "#/definitions/condition",
  "definitions": {
    "condition": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {"enum": ["field_equals", "field_contains", "field_matches_regex", "numeric_threshold",
                          "keywords_any", "domain_listed", "ai_class", "all", "any", "not"]},
        "field": {"type": "string", "minLength": 1},
        "value": {"type": ["string", "number", "boolean"]},
        "case_sensitive": {"type": "boolean"},
        "pattern": {"type": "string"},
        "op": {"enum": ["gt", "gte", "lt", "lte", "eq"]},
        "keywords": {"type": "array", "items": {"type": "string"}, "minItems": 1},
        "list": {"type": "string"},
        "class": {"type": "string", "minLength": 1},
        "min_confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "conditions": {"type": "array", "items": {"$ref": "#/definitions/condition"}},
        "condition": {"$ref": "#/definitions/condition"}
      },
      "additionalProperties": false,
      "allOf": [
        {"if": {"properties": {"kind": {"enum": ["field_equals", "field_contains"]}}},
         "then": {"required": ["field", "value"]}},
        {"if": {"properties": {"kind": {"const": "field_matches_regex"}}},
         "then": {"required": ["field", "pattern"]}},
        {"if": {"properties": {"kind": {"const": "numeric_threshold"}}},
         "then": {"required": ["field", "op", "value"], "properties": {"value": {"type": "number"}}}},
        {"if": {"properties": {"kind": {"const": "keywords_any"}}},
         "then": {"required": ["keywords"]}},
        {"if": {"properties": {"kind": {"const": "domain_listed"}}},
         "then": {"required": ["list"]}},
        {"if": {"properties": {"kind": {"const": "ai_class"}}},
         "then": {"required": ["class"]}},
        {"if": {"properties": {"kind": {"enum": ["all", "any"]}}},
         "then": {"required": ["conditions"]}},
        {"if": {"properties": {"kind": {"const": "not"}}},
         "then": {"required": ["condition"]}}
      ]
    }
  }
}`

const actionsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["kind"],
    "properties": {
      "kind": {"enum": ["set_class", "set_priority", "set_importance", "add_tag", "route_to_workflow",
                        "index_to_rag", "exclude_from_rag", "archive", "discard"]},
      "class": {"type": "string", "minLength": 1},
      "confidence": {"type": "number", "minimum": 0, "maximum": 1},
      "priority": {"enum": ["low", "normal", "high", "urgent"]},
      "importance": {"type": "integer", "minimum": 0, "maximum": 10},
      "tag": {"type": "string", "minLength": 1},
      "workflow": {"type": "string", "minLength": 1}
    },
    "additionalProperties": false,
    "allOf": [
      {"if": {"properties": {"kind": {"const": "set_class"}}}, "then": {"required": ["class"]}},
      {"if": {"properties": {"kind": {"const": "set_priority"}}}, "then": {"required": ["priority"]}},
      {"if": {"properties": {"kind": {"const": "set_importance"}}}, "then": {"required": ["importance"]}},
      {"if": {"properties": {"kind": {"const": "add_tag"}}}, "then": {"required": ["tag"]}},
      {"if": {"properties": {"kind": {"const": "route_to_workflow"}}}, "then": {"required": ["workflow"]}}
    ]
  }
}`

var (
	schemaOnce    sync.Once
	conditionsDef *gojsonschema.Schema
	actionsDef    *gojsonschema.Schema
	schemaErr     error
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		conditionsDef, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(conditionSchema))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("condition schema: %w", schemaErr)
			return
		}
		actionsDef, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(actionsSchema))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("actions schema: %w", schemaErr)
		}
	})
	return schemaErr
}

// ValidateDocuments checks condition and action documents against their JSON
// schemas. Semantic checks (regex syntax, list names) happen at compile time.
func ValidateDocuments(conditions, actions json.RawMessage) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	if err := validate(conditionsDef, conditions, "trigger_conditions"); err != nil {
		return err
	}
	return validate(actionsDef, actions, "actions")
}

func validate(s *gojsonschema.Schema, doc json.RawMessage, name string) error {
	if len(doc) == 0 {
		return fmt.Errorf("%s: document is required", name)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s: %s", name, strings.Join(msgs, "; "))
}
