package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/soochol/convograph/internal/llmutil"
)

// maxArticleText caps how much extracted text is kept in context.
const maxArticleText = 32 * 1024

// HelpArticleTool fetches a help-center page and stores its readable text in
// the conversation context, where later agent prompts can reference it.
// Node args: url (may reference context keys as {{key}}), message.
//
// Routes to "FOUND" when the page was read and "NOT_FOUND" on a 404.
type HelpArticleTool struct {
	client *http.Client
}

func NewHelpArticleTool(client *http.Client) *HelpArticleTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HelpArticleTool{client: client}
}

func (h *HelpArticleTool) Name() string { return "fetch_help_article" }

func (h *HelpArticleTool) Description() string {
	return "Fetch a help-center article and store its title and text in context. Args: url, message."
}

func (h *HelpArticleTool) Execute(ctx context.Context, call Call) (*Result, error) {
	raw, _ := call.Args["url"].(string)
	url := strings.TrimSpace(llmutil.Render(raw, call.Context))
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "convograph/1.0 (help article reader)")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Result{Branch: "NOT_FOUND"}, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	// Cap raw HTML input to 1MB.
	title, text, err := extractText(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	text = truncateText(text, maxArticleText)

	res := &Result{
		Branch: "FOUND",
		ContextDelta: map[string]any{
			call.NodeID + "_title": title,
			call.NodeID + "_text":  text,
			call.NodeID + "_url":   url,
		},
	}
	res.Message, _ = call.Args["message"].(string)
	return res, nil
}

// truncateText cuts text to at most limit bytes without splitting a rune.
func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n... [truncated]"
}

// skipTags are HTML elements whose text content should be excluded.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"svg":      true,
}

// extractText walks an HTML token stream and returns (title, bodyText).
func extractText(r io.Reader) (string, string, error) {
	tokenizer := html.NewTokenizer(r)
	var (
		title       strings.Builder
		text        strings.Builder
		inTitle     bool
		skipDepth   int
		lastWasText bool
	)

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			// io.EOF or a parse error: return what we have.
			return strings.TrimSpace(title.String()), strings.TrimSpace(text.String()), nil

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "title" {
				inTitle = true
			}
			if skipTags[tag] {
				skipDepth++
			}
			if isBlockTag(tag) && lastWasText {
				text.WriteString("\n")
				lastWasText = false
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "title" {
				inTitle = false
			}
			if skipTags[tag] && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			content := strings.TrimSpace(string(tokenizer.Text()))
			if content == "" {
				continue
			}
			if inTitle {
				title.WriteString(content)
				continue
			}
			if skipDepth == 0 {
				if lastWasText {
					text.WriteString(" ")
				}
				text.WriteString(content)
				lastWasText = true
			}
		}
	}
}

func isBlockTag(tag string) bool {
	switch tag {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "br", "hr", "blockquote", "pre", "article",
		"section", "header", "footer", "nav", "main", "tr":
		return true
	}
	return false
}
