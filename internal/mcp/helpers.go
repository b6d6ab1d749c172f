package mcpserver

import (
	"encoding/json"
	"fmt"
)

// parseJSON parses a JSON string into the target type.
func parseJSON(data string, target any) error {
	return json.Unmarshal([]byte(data), target)
}

// jsonArg decodes an argument that agents send either as JSON text or as
// an already structured value. A missing argument leaves target untouched.
func jsonArg(args map[string]any, key string, target any) error {
	switch v := args[key].(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		if err := parseJSON(v, target); err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		return nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		if err := json.Unmarshal(b, target); err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		return nil
	}
}
