package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ghodss/yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v2"
)

const schemaURL = "http://determined.ai/schemas/capsched/v0/config.json"

var textConfigV0 = []byte(`{
    "$schema": "http://json-schema.org/draft-07/schema#",
    "$id": "http://determined.ai/schemas/capsched/v0/config.json",
    "title": "Config",
    "type": "object",
    "additionalProperties": false,
    "definitions": {
        "duration": {
            "type": ["string", "number"],
            "pattern": "^(0|([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+)$"
        },
        "quantity": {
            "type": ["number", "string"],
            "pattern": "^-?[0-9]+(\\.[0-9]+)?$"
        },
        "vector": {
            "type": "object",
            "additionalProperties": {"$ref": "#/definitions/quantity"}
        }
    },
    "properties": {
        "config_file": {"type": "string"},
        "log": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
                "level": {
                    "enum": ["trace", "debug", "info", "warn", "warning", "error", "fatal", "panic"]
                },
                "format": {"enum": ["text", "json"]},
                "color": {"type": "boolean"},
                "caller": {"type": "boolean"}
            }
        },
        "pools": {
            "type": "object",
            "propertyNames": {"minLength": 1},
            "additionalProperties": {
                "oneOf": [
                    {"const": "auto"},
                    {"$ref": "#/definitions/vector"}
                ]
            }
        },
        "worker_lost_retries": {"type": "integer", "minimum": 0},
        "retry_backoff": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
                "initial_interval": {"$ref": "#/definitions/duration"},
                "max_interval": {"$ref": "#/definitions/duration"}
            }
        },
        "retain_finished": {"type": "integer", "minimum": 0},
        "shutdown_timeout": {"$ref": "#/definitions/duration"},
        "docker": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
                "host": {"type": "string"}
            }
        },
        "observability": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
                "enable_prometheus": {"type": "boolean"},
                "listen": {"type": "string"}
            }
        }
    }
}
`)

var (
	compileOnce sync.Once
	validator   *jsonschema.Schema
)

func configValidator() *jsonschema.Schema {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(textConfigV0)); err != nil {
			panic("invalid schema: " + schemaURL)
		}
		compiled, err := compiler.Compile(schemaURL)
		if err != nil {
			panic("uncompilable schema: " + schemaURL)
		}
		validator = compiled
	})
	return validator
}

// ValidateFile checks the contents of a YAML configuration file against the configuration
// schema. Every violation is reported, each prefixed with the path of the offending value.
func ValidateFile(bs []byte) error {
	var blob interface{}
	if err := yaml.Unmarshal(bs, &blob); err != nil {
		return errors.Wrap(err, "configuration file is not valid yaml")
	}
	if blob == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(blob)
	if err != nil {
		return errors.Wrap(err, "configuration file is not convertible to json")
	}

	err = configValidator().Validate(bytes.NewReader(jsonBytes))
	if err == nil {
		return nil
	}
	vErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return errors.Wrap(err, "validating configuration file")
	}

	msgs := leafErrors(vErr, blob)
	sort.Strings(msgs)
	var merr *multierror.Error
	for _, msg := range msgs {
		merr = multierror.Append(merr, errors.New(msg))
	}
	merr.ErrorFormat = func(errs []error) string {
		lines := make([]string, 0, len(errs))
		for _, e := range errs {
			lines = append(lines, "\t"+e.Error())
		}
		return fmt.Sprintf("invalid configuration file, %d errors found:\n%s",
			len(errs), strings.Join(lines, "\n"))
	}
	return merr
}

// leafErrors flattens a tree of schema violations into the messages of its leaves.
func leafErrors(vErr *jsonschema.ValidationError, instance interface{}) []string {
	var msgs []string
	for _, cause := range vErr.Causes {
		msgs = append(msgs, leafErrors(cause, instance)...)
	}
	if len(msgs) > 0 {
		return msgs
	}
	return []string{fmt.Sprintf("config%s: %s", renderPointer(vErr.InstancePtr, instance), vErr.Message)}
}

// renderPointer renders "#/pools/gpu" as ".pools.gpu", falling back to the raw pointer when it
// does not resolve against instance.
func renderPointer(ptr string, instance interface{}) string {
	var out strings.Builder
	for _, part := range strings.Split(ptr, "/")[1:] {
		switch node := instance.(type) {
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i >= len(node) {
				return ptr
			}
			instance = node[i]
			fmt.Fprintf(&out, "[%d]", i)
		case map[string]interface{}:
			child, ok := node[part]
			if !ok {
				return ptr
			}
			instance = child
			out.WriteString("." + part)
		default:
			return ptr
		}
	}
	return out.String()
}
