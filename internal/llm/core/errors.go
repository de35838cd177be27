package core

import "errors"

var (
	// ErrInvalidRequest indicates missing or malformed model request input.
	ErrInvalidRequest = errors.New("invalid llm request")
	// ErrMissingAPIKey indicates missing provider API key.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrScriptExhausted indicates a scripted model received more requests than it was given responses.
	ErrScriptExhausted = errors.New("model script exhausted")
)
