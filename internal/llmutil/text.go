// Package llmutil holds helpers for reading LLM responses.
package llmutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	adkmodel "google.golang.org/adk/model"
)

// ExtractText concatenates all text parts from an LLMResponse into a single string.
// Returns an empty string if the response or its content is nil.
func ExtractText(resp *adkmodel.LLMResponse) string {
	if resp == nil || resp.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Content.Parts {
		if p != nil && p.Text != "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Render replaces {{key}} placeholders with values from vars. Unresolved
// placeholders are left as-is.
func Render(tpl string, vars map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		val, ok := vars[key]
		if !ok || val == nil {
			return match
		}
		return fmt.Sprintf("%v", val)
	})
}

// labelKeys are the fields checked when a classifier answers with JSON.
var labelKeys = []string{"label", "category", "classification", "route"}

// NormalizeLabel reduces a classifier reply to an upper-case label. Markdown
// fences, surrounding quotes and trailing punctuation are dropped, and a
// JSON object reply is unwrapped to its label field.
func NormalizeLabel(text string) string {
	s := stripFences(text)
	if strings.HasPrefix(s, "{") {
		var obj map[string]any
		if err := json.NewDecoder(strings.NewReader(s)).Decode(&obj); err == nil {
			for _, k := range labelKeys {
				if v, ok := obj[k].(string); ok {
					s = v
					break
				}
			}
		}
	}
	s = strings.Trim(s, " \t\r\n\"'`*.:;!?")
	return strings.ToUpper(s)
}

func stripFences(text string) string {
	content := strings.TrimSpace(text)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
