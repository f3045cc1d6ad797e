package jira

import (
	"bytes"
	"encoding/json"
	"strings"
)

// adfNode is a node of the Atlassian Document Format.
type adfNode struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"`
	Text    string         `json:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []adfNode      `json:"content,omitempty"`
}

// textToADF wraps plain text in an ADF document. Blank lines separate
// paragraphs; single newlines become hard breaks.
func textToADF(text string) adfNode {
	doc := adfNode{Type: "doc", Version: 1}
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		p := adfNode{Type: "paragraph"}
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				p.Content = append(p.Content, adfNode{Type: "hardBreak"})
			}
			if line != "" {
				p.Content = append(p.Content, adfNode{Type: "text", Text: line})
			}
		}
		doc.Content = append(doc.Content, p)
	}
	if len(doc.Content) == 0 {
		doc.Content = []adfNode{{Type: "paragraph"}}
	}
	return doc
}

// blockTypes end with a newline when flattened.
var blockTypes = map[string]bool{
	"paragraph":   true,
	"heading":     true,
	"listItem":    true,
	"codeBlock":   true,
	"blockquote":  true,
	"rule":        true,
	"tableRow":    true,
	"mediaSingle": true,
}

// adfToText flattens an ADF tree to plain text.
func adfToText(n adfNode) string {
	var b strings.Builder
	writeADF(&b, n)
	return strings.TrimSpace(b.String())
}

func writeADF(b *strings.Builder, n adfNode) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
		return
	case "hardBreak":
		b.WriteByte('\n')
		return
	case "mention", "emoji", "inlineCard":
		if s, ok := n.Attrs["text"].(string); ok {
			b.WriteString(s)
		} else if s, ok := n.Attrs["url"].(string); ok {
			b.WriteString(s)
		}
		return
	}
	for i := range n.Content {
		writeADF(b, n.Content[i])
	}
	if blockTypes[n.Type] {
		b.WriteByte('\n')
	}
}

// descriptionText decodes a Jira description, which is plain text in API v2
// payloads and an ADF document in v3.
func descriptionText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	return adfToText(doc)
}
