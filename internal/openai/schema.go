package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

type responseFormat struct {
	Type       string             `json:"type"`
	JSONSchema responseJSONSchema `json:"json_schema"`
}

type responseJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

func strictResponseFormat(name string, schema map[string]any) responseFormat {
	return responseFormat{
		Type: "json_schema",
		JSONSchema: responseJSONSchema{
			Name:   name,
			Strict: true,
			Schema: schema,
		},
	}
}

// MustParseSchema decodes a JSON schema literal and panics on error.
func MustParseSchema(rawSchema string) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal([]byte(rawSchema), &schema); err != nil {
		panic(err)
	}
	if err := CheckStrictSchema(schema); err != nil {
		panic(err)
	}
	return schema
}

// CheckStrictSchema enforces the structured-output rules for strict mode on
// object schemas: additionalProperties must be false and every property
// must be listed in required. Nested objects are checked recursively.
func CheckStrictSchema(schema map[string]any) error {
	if len(schema) == 0 {
		return errors.New("schema is empty")
	}
	return checkObject("$", schema)
}

func checkObject(path string, node map[string]any) error {
	if node["type"] == "object" {
		if additional, ok := node["additionalProperties"].(bool); !ok || additional {
			return fmt.Errorf("%s: additionalProperties must be false", path)
		}
		properties, _ := node["properties"].(map[string]any)
		required := make(map[string]struct{})
		switch list := node["required"].(type) {
		case []any:
			for _, item := range list {
				if name, ok := item.(string); ok {
					required[name] = struct{}{}
				}
			}
		case []string:
			for _, name := range list {
				required[name] = struct{}{}
			}
		}

		names := make([]string, 0, len(properties))
		for name := range properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, ok := required[name]; !ok {
				return fmt.Errorf("%s: property %q is not required", path, name)
			}
			child, ok := properties[name].(map[string]any)
			if !ok {
				continue
			}
			if err := checkObject(path+"."+name, child); err != nil {
				return err
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		return checkObject(path+"[]", items)
	}
	return nil
}
