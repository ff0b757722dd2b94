package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/soochol/convograph/internal/llmutil"
)

// StatusFeedTool reads a service status feed (RSS, Atom or JSON Feed) and
// reports recent incidents, so a support flow can tell customers about a
// known outage before troubleshooting.
// Node args: url, since_hours (default 24), max_items (default 5).
//
// Routes to "INCIDENT" when recent items exist and "CLEAR" otherwise.
type StatusFeedTool struct {
	client *http.Client
	now    func() time.Time
}

func NewStatusFeedTool(client *http.Client) *StatusFeedTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &StatusFeedTool{client: client, now: time.Now}
}

func (s *StatusFeedTool) Name() string { return "check_status_feed" }

func (s *StatusFeedTool) Description() string {
	return "Check a service status feed for recent incidents. Args: url, since_hours, max_items."
}

func (s *StatusFeedTool) Execute(ctx context.Context, call Call) (*Result, error) {
	raw, _ := call.Args["url"].(string)
	url := strings.TrimSpace(llmutil.Render(raw, call.Context))
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	sinceHours := 24.0
	if v, ok := numberArg(call.Args["since_hours"]); ok && v > 0 {
		sinceHours = v
	}
	maxItems := 5
	if v, ok := numberArg(call.Args["max_items"]); ok && v > 0 {
		maxItems = int(v)
	}
	cutoff := s.now().Add(-time.Duration(sinceHours * float64(time.Hour)))

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	fp := gofeed.NewParser()
	fp.Client = s.client
	feed, err := fp.ParseURLWithContext(url, reqCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch/parse feed: %w", err)
	}

	// Items with no parseable date are not counted as recent.
	var incidents []map[string]any
	var titles []string
	for _, item := range feed.Items {
		if item.PublishedParsed == nil || item.PublishedParsed.Before(cutoff) {
			continue
		}
		incidents = append(incidents, map[string]any{
			"title":     item.Title,
			"link":      item.Link,
			"published": item.PublishedParsed.UTC().Format(time.RFC3339),
		})
		titles = append(titles, item.Title)
		if len(incidents) >= maxItems {
			break
		}
	}

	if len(incidents) == 0 {
		return &Result{
			Branch:       "CLEAR",
			ContextDelta: map[string]any{call.NodeID + "_incident_count": 0},
		}, nil
	}
	return &Result{
		Branch:  "INCIDENT",
		Message: "We are currently tracking a known issue: " + strings.Join(titles, "; "),
		ContextDelta: map[string]any{
			call.NodeID + "_incidents":      incidents,
			call.NodeID + "_incident_count": len(incidents),
		},
	}, nil
}

// numberArg accepts the numeric forms template args decode to.
func numberArg(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
