package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookTool_POST(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-Token") != "abc" {
			t.Errorf("expected X-Token abc, got %q", r.Header.Get("X-Token"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(201)
		w.Write([]byte("created"))
	}))
	defer srv.Close()

	tool := NewWebhookTool(srv.Client())
	res, err := tool.Execute(context.Background(), Call{
		ThreadID: "t1",
		NodeID:   "notify",
		Context:  map[string]any{"orderId": "182818"},
		Args: map[string]any{
			"url":     srv.URL,
			"headers": map[string]any{"X-Token": "abc"},
			"message": "Ticket created.",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Branch != "OK" {
		t.Errorf("branch: got %q, want OK", res.Branch)
	}
	if res.Message != "Ticket created." {
		t.Errorf("message: got %q", res.Message)
	}
	if res.ContextDelta["notify_status"] != 201 {
		t.Errorf("status: got %v", res.ContextDelta["notify_status"])
	}
	if got["thread_id"] != "t1" {
		t.Errorf("payload thread_id: got %v", got["thread_id"])
	}
	ctx, _ := got["context"].(map[string]any)
	if ctx["orderId"] != "182818" {
		t.Errorf("payload context: got %v", got["context"])
	}
}

func TestWebhookTool_FailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	res, err := NewWebhookTool(nil).Execute(context.Background(), Call{
		NodeID: "notify",
		Args:   map[string]any{"url": srv.URL, "message": "never shown"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Branch != "FAILED" {
		t.Errorf("branch: got %q, want FAILED", res.Branch)
	}
	if res.Message != "" {
		t.Errorf("message: got %q, want empty", res.Message)
	}
}

func TestWebhookTool_InvalidArgs(t *testing.T) {
	tool := NewWebhookTool(nil)
	if _, err := tool.Execute(context.Background(), Call{Args: map[string]any{"method": "DELETE", "url": "http://x"}}); err == nil {
		t.Error("expected error for unsupported method")
	}
	if _, err := tool.Execute(context.Background(), Call{Args: map[string]any{}}); err == nil {
		t.Error("expected error for missing url")
	}
}
