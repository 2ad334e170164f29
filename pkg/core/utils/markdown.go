package utils

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractFencedJSON returns the body of the first fenced code block tagged
// json (or untagged) in a markdown response. ok is false when there is none.
func ExtractFencedJSON(input string) (string, bool) {
	source := []byte(input)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var found string
	var ok bool
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || ok {
			return ast.WalkContinue, nil
		}
		block, isFence := n.(*ast.FencedCodeBlock)
		if !isFence {
			return ast.WalkContinue, nil
		}
		lang := strings.ToLower(string(block.Language(source)))
		if lang != "" && lang != "json" && lang != "jsonc" && lang != "hjson" {
			return ast.WalkSkipChildren, nil
		}
		var buf bytes.Buffer
		lines := block.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(source))
		}
		found, ok = strings.TrimSpace(buf.String()), true
		return ast.WalkStop, nil
	})
	return found, ok
}

// StripCodeFences returns the JSON payload of a model response: the fenced
// block when there is one, otherwise the input with any ```json / ``` prefix
// and ``` suffix trimmed.
func StripCodeFences(input string) string {
	if body, ok := ExtractFencedJSON(input); ok && body != "" {
		return body
	}
	cleaned := strings.TrimSpace(input)
	switch {
	case strings.HasPrefix(cleaned, "```json"):
		cleaned = strings.TrimPrefix(cleaned, "```json")
	case strings.HasPrefix(cleaned, "```"):
		cleaned = strings.TrimPrefix(cleaned, "```")
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}
