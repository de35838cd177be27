package runservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"snipbridge/internal/agentrun"
)

const maxToolResponseBytes = 1 << 20

// dispatcher invokes declared tools with POST {"arguments": {...}} and reads
// {"content": "..."} back.
type dispatcher struct {
	client *http.Client
}

func newDispatcher(client *http.Client) *dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &dispatcher{client: client}
}

// call returns the tool output and whether it reports a failure. The error is
// non-nil only when ctx ends.
func (d *dispatcher) call(ctx context.Context, decl agentrun.ToolDeclaration, args json.RawMessage) (string, bool, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(struct {
		Arguments json.RawMessage `json:"arguments"`
	}{Arguments: args})
	if err != nil {
		return fmt.Sprintf("encode arguments for %s: %v", decl.Name, err), true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, decl.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Sprintf("build request for %s: %v", decl.Name, err), true, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", true, ctxErr
		}
		return fmt.Sprintf("call %s: %v", decl.Name, err), true, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", true, ctxErr
		}
		return fmt.Sprintf("read %s response: %v", decl.Name, err), true, nil
	}

	content := strings.TrimSpace(string(data))
	if gjson.ValidBytes(data) {
		if field := gjson.GetBytes(data, "content"); field.Exists() {
			content = field.String()
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if content == "" {
			content = http.StatusText(resp.StatusCode)
		}
		return fmt.Sprintf("%s returned %d: %s", decl.Name, resp.StatusCode, content), true, nil
	}
	return content, false, nil
}
