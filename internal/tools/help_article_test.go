package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestHelpArticleTool_ExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kb/returns" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Returns</title><script>track()</script></head>` +
			`<body><h1>Return policy</h1><p>30 days.</p><style>p{}</style></body></html>`))
	}))
	defer srv.Close()

	tool := NewHelpArticleTool(srv.Client())
	res, err := tool.Execute(context.Background(), Call{
		NodeID:  "kb",
		Args:    map[string]any{"url": srv.URL + "/kb/{{topic}}", "message": "Here is our policy."},
		Context: map[string]any{"topic": "returns"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Branch != "FOUND" || res.Message != "Here is our policy." {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ContextDelta["kb_title"] != "Returns" {
		t.Errorf("title: got %v", res.ContextDelta["kb_title"])
	}
	text := res.ContextDelta["kb_text"].(string)
	if !strings.Contains(text, "Return policy") || !strings.Contains(text, "30 days.") {
		t.Errorf("expected article text, got %q", text)
	}
	if strings.Contains(text, "track()") || strings.Contains(text, "p{}") || strings.Contains(text, "Returns") {
		t.Errorf("expected script, style and title to be stripped, got %q", text)
	}
}

func TestHelpArticleTool_NotFoundBranch(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	res, err := NewHelpArticleTool(srv.Client()).Execute(context.Background(), Call{
		NodeID: "kb",
		Args:   map[string]any{"url": srv.URL + "/missing"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Branch != "NOT_FOUND" || len(res.ContextDelta) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHelpArticleTool_Errors(t *testing.T) {
	tool := NewHelpArticleTool(nil)
	if _, err := tool.Execute(context.Background(), Call{Args: map[string]any{}}); err == nil {
		t.Error("expected error for missing URL")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	if _, err := NewHelpArticleTool(srv.Client()).Execute(context.Background(), Call{Args: map[string]any{"url": srv.URL}}); err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestHelpArticleTool_TruncatesOnRuneBoundary(t *testing.T) {
	body := "a" + strings.Repeat("é", maxArticleText)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body><p>" + body + "</p></body></html>"))
	}))
	defer srv.Close()

	res, err := NewHelpArticleTool(srv.Client()).Execute(context.Background(), Call{
		NodeID: "kb",
		Args:   map[string]any{"url": srv.URL},
	})
	if err != nil {
		t.Fatal(err)
	}
	text := res.ContextDelta["kb_text"].(string)
	if !utf8.ValidString(text) {
		t.Fatal("truncated text is not valid UTF-8")
	}
	if !strings.HasSuffix(text, "\n... [truncated]") {
		t.Errorf("expected truncation marker, got suffix %q", text[len(text)-20:])
	}
	if got := strings.TrimSuffix(text, "\n... [truncated]"); len(got) > maxArticleText {
		t.Errorf("kept %d bytes, limit is %d", len(got), maxArticleText)
	}

	if got := truncateText("héllo", 2); got != "h\n... [truncated]" {
		t.Errorf("truncateText split a rune: %q", got)
	}
}
