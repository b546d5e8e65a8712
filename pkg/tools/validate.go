package tools

import "fmt"

// validateParams checks LLM-supplied parameters against a tool's JSON
// Schema before dispatch. Only the subset of JSON Schema the built-in
// tools use is supported: object type, properties, required, enum.
func validateParams(schema map[string]any, params map[string]any) error {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return invalidParams("schema missing properties")
	}

	for key, val := range params {
		propSchema, ok := props[key].(map[string]any)
		if !ok {
			return invalidParams("unknown field %q", key)
		}
		typ, _ := propSchema["type"].(string)
		if err := checkType(val, typ); err != nil {
			return invalidParams("field %q: %v", key, err)
		}
		if enum, ok := propSchema["enum"].([]string); ok {
			if s, isString := val.(string); isString && !contains(enum, s) {
				return invalidParams("field %q: %q not in %v", key, s, enum)
			}
		}
	}

	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := params[key]; !present {
				return invalidParams("missing required field %q", key)
			}
		}
	}
	return nil
}

func checkType(val any, typ string) error {
	if val == nil || typ == "" {
		return nil
	}
	switch typ {
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
	case "number", "integer":
		switch val.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("expected number, got %T", val)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", val)
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return fmt.Errorf("expected array, got %T", val)
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", val)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Parameter extraction helpers used by handlers after validation.

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", invalidParams("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidParams("field %q: expected string, got %T", key, v)
	}
	return s, nil
}

func optionalString(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return def
}

func numberParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, invalidParams("missing required field %q", key)
	}
	n, ok := dataNumber(v)
	if !ok {
		return 0, invalidParams("field %q: expected number, got %T", key, v)
	}
	return n, nil
}

func dataNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
