package core

import (
	"encoding/json"
	"errors"
	"testing"
)

type errJSONMarshaler struct{}

func (errJSONMarshaler) MarshalJSON() ([]byte, error) {
	return nil, errors.New("boom")
}

func TestMarshalToolInput(t *testing.T) {
	t.Parallel()

	gotNil, err := MarshalToolInput(nil)
	if err != nil {
		t.Fatalf("MarshalToolInput(nil) error = %v", err)
	}
	if string(gotNil) != "{}" {
		t.Fatalf("MarshalToolInput(nil) = %q, want {}", string(gotNil))
	}

	gotMap, err := MarshalToolInput(map[string]any{"snippetname": "snippet1"})
	if err != nil {
		t.Fatalf("MarshalToolInput(map) error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(gotMap, &decoded); err != nil {
		t.Fatalf("unmarshal map output: %v", err)
	}
	if decoded["snippetname"] != "snippet1" {
		t.Fatalf("unexpected decoded map output: %#v", decoded)
	}

	gotRaw, err := MarshalToolInput(json.RawMessage(`  {"snippet":"x"} `))
	if err != nil {
		t.Fatalf("MarshalToolInput(raw) error = %v", err)
	}
	if string(gotRaw) != `{"snippet":"x"}` {
		t.Fatalf("MarshalToolInput(raw) = %q, want trimmed object", string(gotRaw))
	}

	gotEmptyRaw, err := MarshalToolInput(json.RawMessage(nil))
	if err != nil || string(gotEmptyRaw) != "{}" {
		t.Fatalf("MarshalToolInput(empty raw) = %q, %v; want {}", string(gotEmptyRaw), err)
	}

	if _, err := MarshalToolInput(json.RawMessage("{")); err == nil {
		t.Fatalf("expected error for invalid raw json")
	}
	if _, err := MarshalToolInput(errJSONMarshaler{}); err == nil {
		t.Fatalf("expected marshal error")
	}
}
