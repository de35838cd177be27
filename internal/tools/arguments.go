package tools

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// ErrMalformedArguments indicates an arguments payload that is not valid JSON.
var ErrMalformedArguments = errors.New("malformed tool arguments")

// ArgumentError is a caller mistake. Its message is safe to return verbatim.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string { return e.Message }

func argumentError(message string) error {
	return &ArgumentError{Message: message}
}

// IsArgumentError reports whether err is a client-input failure.
func IsArgumentError(err error) bool {
	var target *ArgumentError
	return errors.As(err, &target)
}

// parseArguments returns the arguments object. ok is false when arguments are absent
// or not an object.
func parseArguments(raw json.RawMessage) (args gjson.Result, ok bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return gjson.Result{}, false, nil
	}
	if !gjson.ValidBytes(trimmed) {
		return gjson.Result{}, false, ErrMalformedArguments
	}
	args = gjson.ParseBytes(trimmed)
	return args, args.IsObject(), nil
}

// stringField reads key as a non-empty string.
func stringField(args gjson.Result, key string) (value string, present bool) {
	field := args.Get(key)
	if !field.Exists() {
		return "", false
	}
	if field.Type != gjson.String {
		return "", true
	}
	return field.Str, true
}
