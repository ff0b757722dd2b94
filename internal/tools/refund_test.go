package tools

import (
	"context"
	"testing"

	"github.com/soochol/convograph/internal/flow"
)

func TestRefundTool_Execute(t *testing.T) {
	reg := NewDefaultRegistry()
	res, err := reg.Execute(context.Background(), "process_refund", Call{
		ThreadID: "t1",
		NodeID:   "handle_refund",
		Context:  map[string]any{RefundAuthorizedKey: true},
		Messages: []flow.Message{
			{Role: flow.RoleUser, Content: "I want a refund for order #182818"},
			{Role: flow.RoleAgent, Content: "Let me check order #999"},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Message != "Refund processed!" {
		t.Errorf("message: got %q", res.Message)
	}
	if res.ContextDelta["orderId"] != "182818" {
		t.Errorf("orderId: got %v, want 182818", res.ContextDelta["orderId"])
	}
	if res.ContextDelta["refundProcessed"] != true {
		t.Errorf("refundProcessed: got %v", res.ContextDelta["refundProcessed"])
	}
}

func TestRefundTool_KeepsKnownOrderID(t *testing.T) {
	res, err := NewRefundTool().Execute(context.Background(), Call{
		Context:  map[string]any{"orderId": "42"},
		Messages: []flow.Message{{Role: flow.RoleUser, Content: "order #182818"}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ContextDelta["orderId"] != "42" {
		t.Errorf("orderId: got %v, want 42", res.ContextDelta["orderId"])
	}
}

func TestFindOrderID_None(t *testing.T) {
	got := findOrderID([]flow.Message{{Role: flow.RoleUser, Content: "hello"}})
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
