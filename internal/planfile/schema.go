package planfile

const planSchemaURL = "https://planrun.dev/schemas/plan.json"

// planSchemaJSON is the JSON Schema for plan documents. Embedded as a
// constant to avoid filesystem dependencies.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://planrun.dev/schemas/plan.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "networks": {
      "type": "array",
      "items": { "$ref": "#/$defs/network" }
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "network": {
      "type": "object",
      "required": ["name", "kind"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "kind": {
          "type": "string",
          "minLength": 1
        },
        "config": {
          "type": "object"
        }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "properties": {
        "name": { "type": "string" },
        "substeps": {
          "type": "array",
          "items": { "$ref": "#/$defs/step" }
        },
        "networks": {
          "type": "array",
          "items": {
            "type": "string",
            "minLength": 1
          }
        },
        "num_iter": {
          "type": "integer",
          "minimum": 0
        },
        "concurrent": { "type": "boolean" },
        "run_every_ms": {
          "type": "integer",
          "minimum": 0
        },
        "should_stop_blob": { "type": "string" },
        "only_once": { "type": "boolean" },
        "create_workspace": { "type": "boolean" },
        "num_concurrent_instances": {
          "type": "integer",
          "minimum": 0
        }
      },
      "additionalProperties": false
    }
  }
}`
