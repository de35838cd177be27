package core

import (
	"context"
	"encoding/json"

	"snipbridge/internal/retry"
)

// Model produces one assistant turn for a conversation.
type Model interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ModelFunc) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// ToolChoiceType defines how the provider may choose tools.
type ToolChoiceType string

const (
	ToolChoiceAuto ToolChoiceType = "auto"
	ToolChoiceAny  ToolChoiceType = "any"
	ToolChoiceNone ToolChoiceType = "none"
	ToolChoiceTool ToolChoiceType = "tool"
)

// ToolChoice controls provider tool dispatch mode.
type ToolChoice struct {
	Type ToolChoiceType `json:"type"`
	Name string         `json:"name,omitempty"`
}

// ToolSpec describes a tool exposed to the model.
// Schema can be generated from a Go struct via NewToolSpecFromStruct.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Request is the provider-agnostic completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature *float64
	ToolChoice  ToolChoice
	Metadata    map[string]string
	Retry       retry.Policy
}

// Response is one complete assistant turn.
type Response struct {
	Message    Message
	StopReason StopReason
	Usage      Usage
}

// HasToolCalls reports whether the model asked for tool dispatch.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}
