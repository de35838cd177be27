package anthropicprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"snipbridge/internal/llm/core"
	"snipbridge/internal/retry"
)

// Config configures the Anthropic provider.
type Config struct {
	APIKey     string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
	Retry      retry.Policy
}

// Provider is a thin wrapper around the official anthropic-sdk-go client.
type Provider struct {
	apiKey string
	retry  retry.Policy

	client anthropic.Client
}

// New constructs a provider with sane defaults.
func New(cfg Config) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	version := strings.TrimSpace(cfg.Version)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // retries are driven by retry.Do
	}
	if baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}
	if version != "" {
		clientOptions = append(clientOptions, option.WithHeader("anthropic-version", version))
	}

	return &Provider{
		apiKey: apiKey,
		retry:  retry.Normalize(cfg.Retry),
		client: anthropic.NewClient(clientOptions...),
	}
}

// Complete executes one Anthropic Messages API request and returns the assistant turn.
func (p *Provider) Complete(ctx context.Context, req *core.Request) (*core.Response, error) {
	if p == nil {
		return nil, fmt.Errorf("anthropic provider is nil")
	}
	if strings.TrimSpace(p.apiKey) == "" {
		return nil, core.ErrMissingAPIKey
	}

	params, err := toAnthropicSDKParams(req)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	err = retry.Do(ctx, retry.Merge(p.retry, req.Retry), func(ctx context.Context) error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		if callErr == nil {
			return nil
		}
		if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
			return callErr
		}
		wrapped := fmt.Errorf("anthropic messages: %w", callErr)
		if isRetryableProviderError(callErr) {
			return retry.MarkRetryable(wrapped)
		}
		return wrapped
	})
	if err != nil {
		return nil, err
	}

	return fromSDKMessage(msg)
}
