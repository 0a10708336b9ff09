package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pressgate/pkg/httpx"
)

// Executor runs an approved tool call against the backing CMS and returns
// its raw JSON result.
type Executor interface {
	Execute(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error)
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error)

func (f Func) Execute(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error) {
	return f(ctx, tool, input)
}

// HTTPExecutor forwards tool calls to a downstream endpoint as
// {"tool": ..., "input": ...} and relays the JSON body back.
type HTTPExecutor struct {
	Client     *http.Client
	Endpoint   string
	Headers    map[string]string
	Retries    int
	RetryDelay time.Duration
}

type wireCall struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input,omitempty"`
}

func (h HTTPExecutor) Execute(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error) {
	if h.Endpoint == "" {
		return nil, errors.New("executor: endpoint is empty")
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	payload, err := json.Marshal(wireCall{Tool: tool, Input: input})
	if err != nil {
		return nil, err
	}
	status, body, err := httpx.RequestJSON(ctx, client, http.MethodPost, h.Endpoint, payload, h.Headers, h.Retries, h.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("executor: call %s: %w", tool, err)
	}
	if status >= 300 {
		return nil, fmt.Errorf("executor: %s returned status %d", tool, status)
	}
	return body, nil
}
