package engine

import (
	"testing"

	"github.com/soochol/convograph/internal/flow"
)

func TestSelectBranch(t *testing.T) {
	edges := []flow.Edge{
		{From: "n", To: "refund", Branch: "REFUND"},
		{From: "n", To: "refund_status", Branch: "REFUND_STATUS"},
		{From: "n", To: "billing", Branch: "Billing"},
		{From: "n", To: "techie", Branch: "TECH"},
		{From: "n", To: "end", Branch: "RESPOND", Default: true},
	}
	tests := []struct {
		name   string
		output string
		want   string
		ok     bool
	}{
		{"exact", "REFUND", "refund", true},
		{"case and punctuation", " billing.\n", "billing", true},
		{"longest contained key wins", "The user asks about REFUND_STATUS", "refund_status", true},
		{"exact beats containment", "refund_status", "refund_status", true},
		{"declaration order on ties", "RESPOND or BILLING", "billing", true},
		{"longer key beats shorter", "TECH or REFUND?", "refund", true},
		{"json reply", `{"label": "respond"}`, "end", true},
		{"no match", "UNKNOWN", "", false},
		{"empty", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectBranch(edges, tt.output)
			if ok != tt.ok {
				t.Fatalf("ok: got %v, want %v", ok, tt.ok)
			}
			if ok && got.To != tt.want {
				t.Errorf("target: got %q, want %q", got.To, tt.want)
			}
		})
	}
}

func TestEvaluateCondition(t *testing.T) {
	env := conditionEnv(&flow.ConversationState{
		Context:  map[string]any{"refundAuthorized": true, "amount": 120.0},
		Messages: []flow.Message{{Role: flow.RoleUser, Content: "refund please"}},
	})
	tests := []struct {
		expr string
		want bool
	}{
		{"refundAuthorized", true},
		{"amount > 100", true},
		{`input contains "refund"`, true},
		{`context.amount < 50`, false},
		{"missingKey == true", false},
		{"turns == 1", true},
	}
	for _, tt := range tests {
		got, err := evaluateCondition(tt.expr, env)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.expr, got, tt.want)
		}
	}
}
