package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is the JSON schema every config file must satisfy before it is
// unmarshalled.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "ai": {
      "type": "object",
      "properties": {
        "profiles": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "provider"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "provider": {"type": "string", "enum": ["anthropic", "openai"]},
              "api_key": {"type": "string"},
              "model": {"type": "string"},
              "priority": {"type": "integer"}
            }
          }
        }
      }
    },
    "embedding": {
      "type": "object",
      "properties": {
        "provider": {"type": "string", "enum": ["openai", "hash"]},
        "model": {"type": "string"},
        "api_key": {"type": "string"},
        "dimension": {"type": "integer", "minimum": 1},
        "cache_path": {"type": "string"}
      }
    },
    "memory": {
      "type": "object",
      "properties": {
        "index": {"type": "string", "enum": ["hnsw", "sqlite-vec"]},
        "hnsw": {
          "type": "object",
          "properties": {
            "m": {"type": "integer", "minimum": 2},
            "ef_construction": {"type": "integer", "minimum": 1},
            "ef_search": {"type": "integer", "minimum": 1}
          }
        },
        "reasoning_project": {"type": "string"},
        "reindex_schedule": {"type": "string"}
      }
    },
    "workflow": {
      "type": "object",
      "properties": {
        "max_tokens": {"type": "integer", "minimum": 1},
        "temperature": {"type": "number", "minimum": 0, "maximum": 2},
        "max_transitions": {"type": "integer", "minimum": 1},
        "review_window": {"type": "integer", "minimum": 1}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "console": {"type": "boolean"},
        "pretty": {"type": "boolean"},
        "redaction": {"type": "boolean"},
        "redact_patterns": {"type": "array", "items": {"type": "string"}},
        "max_size": {"type": "integer", "minimum": 0},
        "max_age": {"type": "integer", "minimum": 0}
      }
    },
    "data_dir": {"type": "string"},
    "sessions_dir": {"type": "string"},
    "metrics_addr": {"type": "string"}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// ValidateDocument validates a raw JSON config document against Schema.
func ValidateDocument(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}

	return nil
}
