package agentrun

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"snipbridge/internal/retry"
	"snipbridge/internal/runstate"
)

func fastRetry() retry.Policy {
	return retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestNewClientValidatesEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(ClientConfig{}); !errors.Is(err, ErrEndpointRequired) {
		t.Fatalf("NewClient(empty) error = %v, want ErrEndpointRequired", err)
	}
	if _, err := NewClient(ClientConfig{Endpoint: "ftp://example.com"}); err == nil {
		t.Fatalf("NewClient(ftp) error = nil, want error")
	}
	if _, err := NewClient(ClientConfig{Endpoint: "http://localhost:8080/"}); err != nil {
		t.Fatalf("NewClient(http) error = %v", err)
	}
}

func TestClientCreateAgentSendsDeclarations(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/assistants" {
			t.Errorf("request = %s %s, want POST /assistants", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(APIKeyHeader); got != "secret" {
			t.Errorf("api-key header = %q, want secret", got)
		}
		var req CreateAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].RequireApproval != ApprovalNever {
			t.Errorf("tools = %#v, want one tool with require_approval never", req.Tools)
		}
		_ = json.NewEncoder(w).Encode(Agent{ID: "asst_1", Object: "assistant", Model: req.Model, Tools: req.Tools})
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Endpoint: srv.URL, APIKey: "secret", Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	agent, err := client.CreateAgent(context.Background(), CreateAgentRequest{
		Model: "claude-sonnet-4-5",
		Name:  "snippet-agent",
		Tools: []ToolDeclaration{{
			Type:            ToolTypeHTTPFunction,
			ServerLabel:     "snippets",
			Name:            "save_snippet",
			Endpoint:        "http://tools.local/api/save_snippet?code=k",
			RequireApproval: ApprovalNever,
		}},
	})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if agent.ID != "asst_1" {
		t.Fatalf("agent.ID = %q, want asst_1", agent.ID)
	}
}

func TestClientGetRunDecodesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread_1/runs/run_1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get(APIKeyHeader) != "" {
			t.Errorf("api-key header should be absent without a key")
		}
		_, _ = w.Write([]byte(`{"id":"run_1","thread_id":"thread_1","status":"requires_action"}`))
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	run, err := client.GetRun(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != runstate.StatusRequiresAction {
		t.Fatalf("run.Status = %s, want requires_action", run.Status)
	}
}

func TestClientListsInAscendingOrder(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("order"); got != "asc" {
			t.Errorf("order = %q, want asc", got)
		}
		switch r.URL.Path {
		case "/threads/t/messages":
			_, _ = w.Write([]byte(`{"object":"list","data":[
				{"id":"m1","role":"user","content":[{"type":"text","text":{"value":"ping"}}]},
				{"id":"m2","role":"assistant","content":[{"type":"text","text":{"value":"pong"}}]}]}`))
		case "/threads/t/runs/r/steps":
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"s1","type":"tool_calls","status":"completed",
				"step_details":{"type":"tool_calls","tool_calls":[{"id":"c1","name":"save_snippet","arguments":"{}"}]}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	messages, err := client.ListMessages(context.Background(), "t")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 2 || messages[1].Text() != "pong" {
		t.Fatalf("messages = %#v, want user then assistant pong", messages)
	}

	steps, err := client.ListRunSteps(context.Background(), "t", "r")
	if err != nil {
		t.Fatalf("ListRunSteps() error = %v", err)
	}
	if len(steps) != 1 || steps[0].StepDetails.ToolCalls[0].Name != "save_snippet" {
		t.Fatalf("steps = %#v, want one save_snippet call", steps)
	}
}

func TestClientRetriesTransientStatusOnGet(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"run_1","object":"thread.run","thread_id":"t","status":"in_progress"}`))
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Endpoint: srv.URL, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	run, err := client.GetRun(context.Background(), "t", "run_1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.ID != "run_1" {
		t.Fatalf("run.ID = %q, want run_1", run.ID)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestClientSendsCreatesOnce(t *testing.T) {
	t.Parallel()

	var creates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if creates.Add(1) == 1 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		_, _ = w.Write([]byte(`{"id":"asst_2","object":"assistant"}`))
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Endpoint: srv.URL, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	agent, err := client.CreateAgent(context.Background(), CreateAgentRequest{Model: "m"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("CreateAgent() = %v, %v, want 504 APIError", agent, err)
	}
	if got := creates.Load(); got != 1 {
		t.Fatalf("POST /assistants sent %d times, want 1", got)
	}

	if _, err := client.CreateMessage(context.Background(), "t", CreateMessageRequest{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if got := creates.Load(); got != 2 {
		t.Fatalf("POST count = %d, want 2", got)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"run not found"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Endpoint: srv.URL, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_, err = client.CancelRun(context.Background(), "t", "missing")
	if !IsNotFound(err) {
		t.Fatalf("CancelRun() error = %v, want not found", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "not_found" || apiErr.Message != "run not found" {
		t.Fatalf("APIError = %#v", apiErr)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestClientRejectsEmptyIDs(t *testing.T) {
	t.Parallel()

	client, err := NewClient(ClientConfig{Endpoint: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := client.DeleteAgent(context.Background(), ""); !errors.Is(err, ErrIDRequired) {
		t.Fatalf("DeleteAgent(\"\") error = %v, want ErrIDRequired", err)
	}
	if _, err := client.GetRun(context.Background(), "t", ""); !errors.Is(err, ErrIDRequired) {
		t.Fatalf("GetRun(t, \"\") error = %v, want ErrIDRequired", err)
	}
}

func TestMessageTextJoinsParts(t *testing.T) {
	t.Parallel()

	msg := Message{Content: append(TextContent("a"), MessageContent{Type: "image"}, TextContent("b")[0])}
	if got := msg.Text(); got != "a\nb" {
		t.Fatalf("Text() = %q, want %q", got, "a\nb")
	}
}
