package llm

import (
	"github.com/mitchellh/mapstructure"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// DecodeToolArguments decodes a tool call's argument map into a typed
// struct. Weak typing tolerates models that emit numbers as strings
// and vice versa.
func DecodeToolArguments(call ToolCall, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return apperr.Wrap("llm.DecodeToolArguments", apperr.Permanent, err)
	}
	if err := decoder.Decode(call.Arguments); err != nil {
		return apperr.Wrapf("llm.DecodeToolArguments", apperr.Permanent, err,
			"tool %q", call.Name)
	}
	return nil
}

// ObjectSchema builds a JSON schema object for tool parameters. Keys
// of required must exist in properties.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProperty is a schema fragment for a string field.
func StringProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// StringArrayProperty is a schema fragment for a list-of-strings field.
func StringArrayProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       map[string]interface{}{"type": "string"},
	}
}

// IntProperty is a schema fragment for an integer field.
func IntProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
	}
}
