package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const statusRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Shop Status</title>
    <item>
      <title>Checkout errors</title>
      <link>https://status.example.com/1</link>
      <pubDate>Sat, 17 Oct 2026 09:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Delayed refunds</title>
      <link>https://status.example.com/2</link>
      <pubDate>Sat, 17 Oct 2026 06:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Old maintenance</title>
      <link>https://status.example.com/3</link>
      <pubDate>Mon, 12 Oct 2026 06:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Undated note</title>
    </item>
  </channel>
</rss>`

func newStatusFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(statusRSS))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestStatusFeedTool(srv *httptest.Server) *StatusFeedTool {
	tool := NewStatusFeedTool(srv.Client())
	tool.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
	return tool
}

func TestStatusFeedTool_Incident(t *testing.T) {
	srv := newStatusFeedServer(t)
	res, err := newTestStatusFeedTool(srv).Execute(context.Background(), Call{
		NodeID: "status",
		Args:   map[string]any{"url": srv.URL},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Branch != "INCIDENT" {
		t.Fatalf("expected INCIDENT, got %q", res.Branch)
	}
	if res.ContextDelta["status_incident_count"] != 2 {
		t.Errorf("expected 2 incidents, got %v", res.ContextDelta["status_incident_count"])
	}
	want := "We are currently tracking a known issue: Checkout errors; Delayed refunds"
	if res.Message != want {
		t.Errorf("message: got %q, want %q", res.Message, want)
	}
}

func TestStatusFeedTool_WindowAndLimit(t *testing.T) {
	srv := newStatusFeedServer(t)
	tool := newTestStatusFeedTool(srv)

	res, err := tool.Execute(context.Background(), Call{
		NodeID: "status",
		Args:   map[string]any{"url": srv.URL, "since_hours": float64(4)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ContextDelta["status_incident_count"] != 1 {
		t.Errorf("expected 1 incident in a 4h window, got %v", res.ContextDelta["status_incident_count"])
	}

	res, err = tool.Execute(context.Background(), Call{
		NodeID: "status",
		Args:   map[string]any{"url": srv.URL, "since_hours": 240, "max_items": 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ContextDelta["status_incident_count"] != 1 {
		t.Errorf("expected max_items to cap incidents, got %v", res.ContextDelta["status_incident_count"])
	}
}

func TestStatusFeedTool_Clear(t *testing.T) {
	srv := newStatusFeedServer(t)
	tool := newTestStatusFeedTool(srv)
	tool.now = func() time.Time { return time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC) }

	res, err := tool.Execute(context.Background(), Call{NodeID: "status", Args: map[string]any{"url": srv.URL}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Branch != "CLEAR" || res.Message != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestStatusFeedTool_Errors(t *testing.T) {
	tool := NewStatusFeedTool(nil)
	if _, err := tool.Execute(context.Background(), Call{Args: map[string]any{}}); err == nil {
		t.Error("expected error for missing URL")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a feed"))
	}))
	defer srv.Close()
	if _, err := NewStatusFeedTool(srv.Client()).Execute(context.Background(), Call{Args: map[string]any{"url": srv.URL}}); err == nil {
		t.Error("expected parse error")
	}
}
