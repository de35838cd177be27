package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalToolInput serializes tool input and guarantees a non-empty JSON object payload.
func MarshalToolInput(input any) (json.RawMessage, error) {
	if input == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := input.(json.RawMessage); ok {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("tool input is not valid json")
		}
		return append(json.RawMessage(nil), trimmed...), nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 || string(raw) == "null" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("tool input is not valid json")
	}
	return raw, nil
}
