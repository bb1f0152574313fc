package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// scriptSchema is the JSON Schema every script must satisfy. Step
// objects allow additional keys: anything that is not a think, loop, or
// emit step belongs to the request engine.
const scriptSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["config", "scenarios"],
  "additionalProperties": false,
  "properties": {
    "config": {
      "type": "object",
      "required": ["target"],
      "additionalProperties": false,
      "properties": {
        "target": {"type": "string", "minLength": 1},
        "timeout": {"type": "number", "exclusiveMinimum": 0},
        "processor": {"type": "string"},
        "variables": {"type": "object"},
        "socketio": {
          "type": "object",
          "properties": {
            "query": {"type": "object", "additionalProperties": {"type": "string"}},
            "headers": {"type": "object", "additionalProperties": {"type": "string"}}
          }
        },
        "tls": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "insecureSkipVerify": {"type": "boolean"}
          }
        },
        "payload": {
          "oneOf": [
            {"$ref": "#/$defs/payload"},
            {"type": "array", "items": {"$ref": "#/$defs/payload"}}
          ]
        }
      }
    },
    "scenarios": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["flow"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string"},
          "beforeRequest": {"$ref": "#/$defs/hookList"},
          "afterResponse": {"$ref": "#/$defs/hookList"},
          "flow": {"type": "array", "items": {"$ref": "#/$defs/step"}}
        }
      }
    }
  },
  "$defs": {
    "hookList": {
      "oneOf": [
        {"type": "string"},
        {"type": "array", "items": {"type": "string"}}
      ]
    },
    "payload": {
      "type": "object",
      "required": ["path"],
      "additionalProperties": false,
      "properties": {
        "path": {"type": "string", "minLength": 1},
        "fields": {"type": "array", "items": {"type": "string"}},
        "order": {"enum": ["sequence", "random"]}
      }
    },
    "step": {
      "type": "object",
      "properties": {
        "think": {"type": "number", "minimum": 0},
        "loop": {"type": "array", "items": {"$ref": "#/$defs/step"}},
        "count": {"type": "integer", "minimum": 1},
        "over": {"type": "array"},
        "loopValue": {"type": "string"},
        "emit": {"$ref": "#/$defs/emit"},
        "beforeRequest": {"$ref": "#/$defs/hookList"},
        "afterResponse": {"$ref": "#/$defs/hookList"}
      }
    },
    "emit": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "channel": {"type": "string"},
        "data": {},
        "namespace": {"type": "string"},
        "beforeRequest": {"$ref": "#/$defs/hookList"},
        "afterResponse": {"$ref": "#/$defs/hookList"},
        "response": {"$ref": "#/$defs/response"}
      }
    },
    "response": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "channel": {"type": "string"},
        "data": {},
        "capture": {
          "oneOf": [
            {"$ref": "#/$defs/capture"},
            {"type": "array", "items": {"$ref": "#/$defs/capture"}}
          ]
        },
        "match": {
          "oneOf": [
            {"$ref": "#/$defs/match"},
            {"type": "array", "items": {"$ref": "#/$defs/match"}}
          ]
        },
        "times": {"type": "integer", "minimum": 1},
        "emit": {"$ref": "#/$defs/emit"}
      }
    },
    "capture": {
      "type": "object",
      "required": ["json", "as"],
      "additionalProperties": false,
      "properties": {
        "json": {"type": "string", "minLength": 1},
        "as": {"type": "string", "minLength": 1}
      }
    },
    "match": {
      "type": "object",
      "required": ["json"],
      "additionalProperties": false,
      "properties": {
        "json": {"type": "string", "minLength": 1},
        "value": {}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func scriptSchemaCompiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("script.schema.json", strings.NewReader(scriptSchema)); err != nil {
			schemaErr = fmt.Errorf("loading script schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile("script.schema.json")
	})
	return compiledSchema, schemaErr
}

// validateSchema checks raw YAML against the script schema. The document
// is round-tripped through JSON so the validator only ever sees plain
// JSON values.
func validateSchema(data []byte) error {
	schema, err := scriptSchemaCompiled()
	if err != nil {
		return err
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing script: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("script is not JSON-representable: %w", err)
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return fmt.Errorf("script is not JSON-representable: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("script does not match schema: %s", formatValidationError(ve))
		}
		return fmt.Errorf("script does not match schema: %w", err)
	}
	return nil
}

// formatValidationError flattens leaf causes into "location: message"
// lines, most specific first.
func formatValidationError(ve *jsonschema.ValidationError) string {
	leaves := collectLeaves(ve, nil)
	msgs := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", loc, leaf.Message))
	}
	return strings.Join(msgs, "; ")
}

func collectLeaves(ve *jsonschema.ValidationError, acc []*jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return append(acc, ve)
	}
	for _, cause := range ve.Causes {
		acc = collectLeaves(cause, acc)
	}
	return acc
}
