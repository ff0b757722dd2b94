package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseBody caps how much of a webhook response is kept in context.
const maxResponseBody = 16 * 1024 // 16 KB

// allowedMethods is the set of HTTP methods this tool supports.
var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
}

// WebhookTool notifies an external system (ticketing, CRM) about the
// conversation. Node args: method, url, headers, message.
//
// The request body is the conversation context as JSON. The tool routes to
// the "OK" branch on a 2xx response and to "FAILED" otherwise.
type WebhookTool struct {
	client *http.Client
}

func NewWebhookTool(client *http.Client) *WebhookTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookTool{client: client}
}

func (h *WebhookTool) Name() string { return "webhook" }

func (h *WebhookTool) Description() string {
	return "Send the conversation context to an external HTTP endpoint. Args: method, url, headers, message."
}

func (h *WebhookTool) Execute(ctx context.Context, call Call) (*Result, error) {
	method, _ := call.Args["method"].(string)
	if method == "" {
		method = "POST"
	}
	method = strings.ToUpper(method)
	if !allowedMethods[method] {
		return nil, fmt.Errorf("unsupported HTTP method: %q", method)
	}

	url, _ := call.Args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	payload, err := json.Marshal(map[string]any{
		"thread_id": call.ThreadID,
		"node_id":   call.NodeID,
		"context":   call.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	var body io.Reader
	if method != "GET" {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if hdrs, ok := call.Args["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	branch := "OK"
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		branch = "FAILED"
	}
	result := &Result{
		Branch: branch,
		ContextDelta: map[string]any{
			call.NodeID + "_status": resp.StatusCode,
			call.NodeID + "_body":   string(respBody),
		},
	}
	if branch == "OK" {
		result.Message, _ = call.Args["message"].(string)
	}
	return result, nil
}
