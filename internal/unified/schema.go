package unified

import "strings"

// Keys whose values may legitimately contain user data shaped like a schema.
// Recursing into them would corrupt example payloads, so they are copied
// through untouched.
var schemaOpaqueKeys = map[string]bool{
	"default": true,
	"example": true,
	"const":   true,
	"enum":    true,
}

// NormalizeSchemaTypes rewrites a Gemini-style function declaration schema
// (uppercase type vocabulary: OBJECT, STRING, ...) into standard lowercase
// JSON Schema, recursing through properties, items, and nested schemas.
func NormalizeSchemaTypes(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}

	out := make(map[string]any, len(schema))

	for key, value := range schema {
		if schemaOpaqueKeys[key] {
			out[key] = value
			continue
		}

		if key == "type" {
			if typ, ok := value.(string); ok {
				out[key] = strings.ToLower(typ)
				continue
			}
		}

		out[key] = normalizeSchemaValue(value)
	}

	return out
}

func normalizeSchemaValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return NormalizeSchemaTypes(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeSchemaValue(item)
		}

		return out
	default:
		return v
	}
}
