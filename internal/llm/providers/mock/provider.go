package mockprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"snipbridge/internal/llm/core"
)

// Provider replays scripted responses for deterministic tests.
// When Respond is set it takes precedence over Responses.
type Provider struct {
	Responses []core.Response
	Respond   func(req *core.Request) (*core.Response, error)
	Delay     time.Duration

	mu       sync.Mutex
	next     int
	requests []core.Request
}

// Complete returns the next scripted response.
func (m *Provider) Complete(ctx context.Context, req *core.Request) (*core.Response, error) {
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if req != nil {
		snapshot := *req
		snapshot.Messages = append([]core.Message(nil), req.Messages...)
		m.requests = append(m.requests, snapshot)
	}
	if m.Respond != nil {
		return m.Respond(req)
	}
	if m.next >= len(m.Responses) {
		return nil, fmt.Errorf("%w after %d responses", core.ErrScriptExhausted, len(m.Responses))
	}
	resp := m.Responses[m.next]
	m.next++
	return &resp, nil
}

// Requests returns copies of every request received so far.
func (m *Provider) Requests() []core.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Request(nil), m.requests...)
}
