package models

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("monokai"),
		),
	),
)

// RenderText converts a message's text from markdown into HTML for the browser layer. Code
// blocks are syntax-highlighted. The input is treated as untrusted markdown, never as raw HTML.
func RenderText(text string) (string, error) {
	var sb strings.Builder
	if err := markdown.Convert([]byte(text), &sb); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return sb.String(), nil
}
