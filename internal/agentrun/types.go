// Package agentrun defines the Agent-Run API resources and an HTTP client for them.
package agentrun

import (
	"encoding/json"
	"strings"

	"snipbridge/internal/runstate"
)

const (
	// ToolTypeHTTPFunction declares a tool the service invokes over HTTP.
	ToolTypeHTTPFunction = "http_function"
	// ApprovalNever lets the service call a tool without human approval.
	ApprovalNever = "never"

	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StepType identifies what a run step did.
type StepType string

const (
	StepMessageCreation StepType = "message_creation"
	StepToolCalls       StepType = "tool_calls"
)

// StepStatus is the status of a single run step.
type StepStatus string

const (
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepCancelled  StepStatus = "cancelled"
	StepExpired    StepStatus = "expired"
)

// ToolDeclaration describes one remote tool an agent may call.
type ToolDeclaration struct {
	Type            string          `json:"type" binding:"required,oneof=http_function"`
	ServerLabel     string          `json:"server_label" binding:"required"`
	Name            string          `json:"name" binding:"required,toolname"`
	Description     string          `json:"description,omitempty"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	Endpoint        string          `json:"endpoint" binding:"required,url"`
	RequireApproval string          `json:"require_approval" binding:"omitempty,oneof=never always"`
}

// Agent is immutable after creation.
type Agent struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	CreatedAt    int64             `json:"created_at"`
	Model        string            `json:"model"`
	Name         string            `json:"name"`
	Instructions string            `json:"instructions"`
	Tools        []ToolDeclaration `json:"tools"`
}

type Thread struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
}

type MessageText struct {
	Value string `json:"value"`
}

type MessageContent struct {
	Type string      `json:"type"`
	Text MessageText `json:"text"`
}

// Message is append-only within its thread.
type Message struct {
	ID          string           `json:"id"`
	Object      string           `json:"object"`
	CreatedAt   int64            `json:"created_at"`
	ThreadID    string           `json:"thread_id"`
	RunID       string           `json:"run_id,omitempty"`
	AssistantID string           `json:"assistant_id,omitempty"`
	Role        string           `json:"role"`
	Content     []MessageContent `json:"content"`
}

// TextContent wraps text as a message content list.
func TextContent(text string) []MessageContent {
	return []MessageContent{{Type: "text", Text: MessageText{Value: text}}}
}

// Text joins the text parts of the message.
func (m Message) Text() string {
	parts := make([]string, 0, len(m.Content))
	for _, c := range m.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text.Value)
		}
	}
	return strings.Join(parts, "\n")
}

type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RunUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Run is one execution of an agent against a thread.
type Run struct {
	ID          string          `json:"id"`
	Object      string          `json:"object"`
	CreatedAt   int64           `json:"created_at"`
	ThreadID    string          `json:"thread_id"`
	AssistantID string          `json:"assistant_id"`
	Model       string          `json:"model,omitempty"`
	Status      runstate.Status `json:"status"`
	LastError   *RunError       `json:"last_error,omitempty"`
	StartedAt   *int64          `json:"started_at,omitempty"`
	ExpiresAt   *int64          `json:"expires_at,omitempty"`
	CompletedAt *int64          `json:"completed_at,omitempty"`
	FailedAt    *int64          `json:"failed_at,omitempty"`
	CancelledAt *int64          `json:"cancelled_at,omitempty"`
	Usage       *RunUsage       `json:"usage,omitempty"`
}

// ToolCall is one tool invocation recorded in a tool_calls step.
type ToolCall struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	ServerLabel string  `json:"server_label"`
	Name        string  `json:"name"`
	Arguments   string  `json:"arguments"`
	Output      *string `json:"output,omitempty"`
}

type MessageCreation struct {
	MessageID string `json:"message_id"`
}

type StepDetails struct {
	Type            StepType         `json:"type"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
	MessageCreation *MessageCreation `json:"message_creation,omitempty"`
}

// RunStep is immutable once its run is terminal.
type RunStep struct {
	ID          string      `json:"id"`
	Object      string      `json:"object"`
	CreatedAt   int64       `json:"created_at"`
	RunID       string      `json:"run_id"`
	ThreadID    string      `json:"thread_id"`
	AssistantID string      `json:"assistant_id"`
	Type        StepType    `json:"type"`
	Status      StepStatus  `json:"status"`
	StepDetails StepDetails `json:"step_details"`
	LastError   *RunError   `json:"last_error,omitempty"`
	CompletedAt *int64      `json:"completed_at,omitempty"`
}

// CreateAgentRequest is the body of POST /assistants.
type CreateAgentRequest struct {
	Model        string            `json:"model" binding:"required"`
	Name         string            `json:"name"`
	Instructions string            `json:"instructions"`
	Tools        []ToolDeclaration `json:"tools" binding:"dive"`
}

// CreateMessageRequest is the body of POST /threads/{id}/messages.
type CreateMessageRequest struct {
	Role    string `json:"role" binding:"required,oneof=user"`
	Content string `json:"content" binding:"required"`
}

// CreateRunRequest is the body of POST /threads/{id}/runs.
type CreateRunRequest struct {
	AssistantID string `json:"assistant_id" binding:"required"`
}

type ListResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
