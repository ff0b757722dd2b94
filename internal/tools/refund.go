package tools

import (
	"context"
	"regexp"
	"strings"

	"github.com/soochol/convograph/internal/flow"
)

// RefundAuthorizedKey is the context flag an approver sets before a refund
// may be issued.
const RefundAuthorizedKey = "refundAuthorized"

var orderIDPattern = regexp.MustCompile(`#\s?(\d{3,})`)

// RefundTool issues a refund for the order mentioned in the conversation.
// It never runs before a human approver has set RefundAuthorizedKey.
type RefundTool struct{}

func NewRefundTool() *RefundTool { return &RefundTool{} }

func (t *RefundTool) Name() string { return "process_refund" }

func (t *RefundTool) Description() string {
	return "Issue a refund for the customer's order. Requires human authorization."
}

func (t *RefundTool) Requires() []string { return []string{RefundAuthorizedKey} }

func (t *RefundTool) Execute(_ context.Context, call Call) (*Result, error) {
	delta := map[string]any{"refundProcessed": true}
	orderID, _ := call.Context["orderId"].(string)
	if orderID == "" {
		orderID = findOrderID(call.Messages)
	}
	if orderID != "" {
		delta["orderId"] = orderID
	}
	return &Result{
		Message:      "Refund processed!",
		ContextDelta: delta,
	}, nil
}

// findOrderID returns the most recent "#123456" style order number a user
// mentioned.
func findOrderID(msgs []flow.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != flow.RoleUser {
			continue
		}
		if m := orderIDPattern.FindStringSubmatch(msgs[i].Content); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
