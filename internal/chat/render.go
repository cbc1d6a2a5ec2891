package chat

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy   = bluemonday.UGCPolicy()
)

// RenderAnswer converts a Markdown answer into sanitized HTML
func RenderAnswer(answer string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(answer), &buf); err != nil {
		return html.EscapeString(answer)
	}
	return strings.TrimSpace(policy.Sanitize(buf.String()))
}

// PlainText strips all markup from rendered content
func PlainText(content string) string {
	return strings.TrimSpace(html.UnescapeString(bluemonday.StrictPolicy().Sanitize(content)))
}
