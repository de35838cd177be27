package agentrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"snipbridge/internal/retry"
)

// APIKeyHeader carries the optional service credential.
const APIKeyHeader = "api-key"

var (
	// ErrEndpointRequired indicates a client without a base URL.
	ErrEndpointRequired = errors.New("agent-run endpoint is required")
	// ErrIDRequired indicates an empty resource id.
	ErrIDRequired = errors.New("resource id is required")
)

// APIError is a non-2xx response from the Agent-Run API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("agent-run api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("agent-run api: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ClientConfig configures Client.
type ClientConfig struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
	Retry      retry.Policy
}

// Client talks to an Agent-Run API over HTTP.
type Client struct {
	base       *url.URL
	apiKey     string
	httpClient *http.Client
	retry      retry.Policy
}

// NewClient validates the endpoint and builds a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	base, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse agent-run endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("agent-run endpoint %q must be http or https", endpoint)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		base:       base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
		retry:      cfg.Retry,
	}, nil
}

func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, http.MethodPost, "/assistants", req, &agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return &agent, nil
}

func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return ErrIDRequired
	}
	var out DeleteResponse
	if err := c.do(ctx, http.MethodDelete, "/assistants/"+url.PathEscape(agentID), nil, &out); err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return nil
}

func (c *Client) CreateThread(ctx context.Context) (*Thread, error) {
	var thread Thread
	if err := c.do(ctx, http.MethodPost, "/threads", struct{}{}, &thread); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return &thread, nil
}

func (c *Client) CreateMessage(ctx context.Context, threadID string, req CreateMessageRequest) (*Message, error) {
	if threadID == "" {
		return nil, ErrIDRequired
	}
	var msg Message
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns the thread's messages in ascending creation order.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	if threadID == "" {
		return nil, ErrIDRequired
	}
	var out ListResponse[Message]
	path := "/threads/" + url.PathEscape(threadID) + "/messages?order=asc"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out.Data, nil
}

func (c *Client) CreateRun(ctx context.Context, threadID string, req CreateRunRequest) (*Run, error) {
	if threadID == "" {
		return nil, ErrIDRequired
	}
	var run Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	if err := c.do(ctx, http.MethodPost, path, req, &run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &run, nil
}

func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	if threadID == "" || runID == "" {
		return nil, ErrIDRequired
	}
	var run Run
	if err := c.do(ctx, http.MethodGet, runPath(threadID, runID), nil, &run); err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &run, nil
}

// ListRunSteps returns the run's steps in ascending creation order.
func (c *Client) ListRunSteps(ctx context.Context, threadID, runID string) ([]RunStep, error) {
	if threadID == "" || runID == "" {
		return nil, ErrIDRequired
	}
	var out ListResponse[RunStep]
	if err := c.do(ctx, http.MethodGet, runPath(threadID, runID)+"/steps?order=asc", nil, &out); err != nil {
		return nil, fmt.Errorf("list run steps %s: %w", runID, err)
	}
	return out.Data, nil
}

func (c *Client) CancelRun(ctx context.Context, threadID, runID string) (*Run, error) {
	if threadID == "" || runID == "" {
		return nil, ErrIDRequired
	}
	var run Run
	if err := c.do(ctx, http.MethodPost, runPath(threadID, runID)+"/cancel", struct{}{}, &run); err != nil {
		return nil, fmt.Errorf("cancel run %s: %w", runID, err)
	}
	return &run, nil
}

func runPath(threadID, runID string) string {
	return "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = encoded
	}
	target := c.base.String() + path

	policy := c.retry
	if !idempotent(method) {
		policy.MaxRetries = -1
	}
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set(APIKeyHeader, c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var netErr net.Error
			if errors.As(err, &netErr) {
				return retry.MarkRetryable(err)
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return retry.MarkRetryable(fmt.Errorf("read response: %w", err))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := decodeAPIError(resp.StatusCode, data)
			if isRetryableStatus(resp.StatusCode) {
				return retry.MarkRetryable(apiErr)
			}
			return apiErr
		}
		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func decodeAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var body ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// idempotent reports whether a request may be resent after a transient
// failure. A create that timed out at a gateway may already have been applied.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		return true
	}
	return false
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
