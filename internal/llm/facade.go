// Package llm exposes the model contract and its provider implementations.
package llm

import (
	anthropicprovider "snipbridge/internal/llm/providers/anthropic"
	mockprovider "snipbridge/internal/llm/providers/mock"

	"snipbridge/internal/llm/core"
)

type (
	// Model is the public completion contract.
	Model     = core.Model
	ModelFunc = core.ModelFunc

	// ToolChoice* aliases expose tool-selection primitives.
	ToolChoiceType = core.ToolChoiceType
	ToolChoice     = core.ToolChoice
	ToolSpec       = core.ToolSpec

	Request  = core.Request
	Response = core.Response

	// Conversation-model aliases.
	Role         = core.Role
	StopReason   = core.StopReason
	ContentType  = core.ContentType
	ContentBlock = core.ContentBlock
	ToolCall     = core.ToolCall
	ToolResult   = core.ToolResult
	Message      = core.Message
	Usage        = core.Usage

	// Anthropic* aliases expose provider-specific configuration and implementation.
	AnthropicConfig   = anthropicprovider.Config
	AnthropicProvider = anthropicprovider.Provider

	// MockProvider replays scripted responses for tests.
	MockProvider = mockprovider.Provider
)

const (
	ToolChoiceAuto = core.ToolChoiceAuto
	ToolChoiceAny  = core.ToolChoiceAny
	ToolChoiceNone = core.ToolChoiceNone
	ToolChoiceTool = core.ToolChoiceTool

	RoleUser      = core.RoleUser
	RoleAssistant = core.RoleAssistant
	RoleTool      = core.RoleTool

	StopReasonStop    = core.StopReasonStop
	StopReasonLength  = core.StopReasonLength
	StopReasonToolUse = core.StopReasonToolUse
	StopReasonError   = core.StopReasonError

	ContentTypeText = core.ContentTypeText
)

var (
	// ErrInvalidRequest indicates malformed canonical request payloads.
	ErrInvalidRequest = core.ErrInvalidRequest
	// ErrMissingAPIKey indicates missing Anthropic API credentials.
	ErrMissingAPIKey = core.ErrMissingAPIKey
	// ErrScriptExhausted indicates a scripted model ran out of responses.
	ErrScriptExhausted = core.ErrScriptExhausted
)

// NewToolSpecFromStruct reflects a Go struct into a normalized tool schema.
func NewToolSpecFromStruct(name, description string, schemaStruct any) (ToolSpec, error) {
	return core.NewToolSpecFromStruct(name, description, schemaStruct)
}

// TextMessage builds a single-block text message.
func TextMessage(role Role, text string) Message {
	return core.TextMessage(role, text)
}

// NewAnthropicProvider constructs an Anthropic provider with normalized defaults.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	return anthropicprovider.New(cfg)
}
