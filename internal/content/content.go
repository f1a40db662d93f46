// Package content turns stored post and message content into flat text.
//
// Stored content comes in three shapes: plain text, a serialized TipTap
// document, or a serialized array of legacy editor blocks. Parse is the only
// place that inspects the raw value; everything downstream works on the
// Content variants and Extract switches over them exhaustively.
package content

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// MaxTokenLength is the longest whitespace-free run kept by Extract.
// Longer runs are assumed to be encoded payloads (base64 images, hashes)
// rather than prose and are dropped.
const MaxTokenLength = 300

// maxDepth bounds unwrapping of JSON strings that contain JSON.
const maxDepth = 4

// Content is one of PlainText, Document or Blocks.
type Content interface {
	Shape() string
	isContent()
}

// PlainText is content that is not JSON.
type PlainText string

// Document is a TipTap/ProseMirror JSON document.
type Document struct {
	Root Node
}

// Node is a TipTap document node.
type Node struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Alt     string         `json:"alt,omitempty"` // legacy image blocks keep alt at the top level
	Content []Node         `json:"content,omitempty"`
}

// Blocks is the legacy editor format: an array of typed blocks.
type Blocks []Block

// Block is a single legacy editor block. Content is usually a string but
// may hold nested blocks or a document.
type Block struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Alt     string          `json:"alt,omitempty"`
}

func (PlainText) Shape() string { return "text" }
func (Document) Shape() string  { return "document" }
func (Blocks) Shape() string    { return "blocks" }

func (PlainText) isContent() {}
func (Document) isContent()  {}
func (Blocks) isContent()    {}

// UnmarshalJSON accepts bare strings inside a block array as text blocks.
func (b *Block) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		b.Type = "text"
		b.Content = append(json.RawMessage(nil), data...)
		return nil
	}
	type plain Block
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Block(p)
	return nil
}

// Parse classifies raw stored content. It never fails: anything that does not
// parse as one of the JSON shapes is PlainText.
func Parse(raw string) Content {
	return parse(raw, 0)
}

func parse(raw string, depth int) Content {
	trimmed := strings.TrimSpace(raw)
	if depth >= maxDepth || !looksLikeJSON(trimmed) {
		return PlainText(raw)
	}
	c, ok := parseJSON([]byte(trimmed), depth)
	if !ok {
		return PlainText(raw)
	}
	return c
}

func looksLikeJSON(s string) bool {
	if len(s) < 2 {
		return false
	}
	switch s[0] {
	case '{':
		return s[len(s)-1] == '}'
	case '[':
		return s[len(s)-1] == ']'
	case '"':
		return s[len(s)-1] == '"'
	}
	return false
}

func parseJSON(data []byte, depth int) (Content, bool) {
	if !json.Valid(data) {
		return nil, false
	}
	switch data[0] {
	case '[':
		var blocks Blocks
		if err := json.Unmarshal(data, &blocks); err != nil {
			return nil, false
		}
		return blocks, true
	case '{':
		var root Node
		if err := json.Unmarshal(data, &root); err == nil {
			return Document{Root: root}, true
		}
		// a lone legacy block, e.g. {"type":"paragraph","content":"..."}
		var b Block
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, false
		}
		return Blocks{b}, true
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, false
		}
		return parse(s, depth+1), true
	}
	return nil, false
}

// Extract flattens content to a single whitespace-normalized string.
func Extract(c Content) string {
	var pieces []string
	collect(c, &pieces, 0)
	return Normalize(strings.Join(pieces, " "))
}

// ExtractRaw is Extract(Parse(raw)).
func ExtractRaw(raw string) string {
	return Extract(Parse(raw))
}

func collect(c Content, out *[]string, depth int) {
	switch v := c.(type) {
	case nil:
	case PlainText:
		*out = append(*out, string(v))
	case Document:
		v.Root.collect(out)
	case Blocks:
		for _, b := range v {
			b.collect(out, depth)
		}
	}
}

func (n Node) collect(out *[]string) {
	switch n.Type {
	case "text":
		*out = append(*out, n.Text)
		return
	case "image":
		if alt, ok := n.Attrs["alt"].(string); ok && alt != "" {
			*out = append(*out, alt)
		} else if n.Alt != "" {
			*out = append(*out, n.Alt)
		}
		return
	}
	for _, child := range n.Content {
		child.collect(out)
	}
}

func (b Block) collect(out *[]string, depth int) {
	if b.Type == "image" {
		*out = append(*out, b.Alt)
		return
	}
	if len(b.Content) == 0 {
		return
	}
	switch b.Content[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b.Content, &s); err == nil {
			// a string may itself be serialized JSON; plain text comes back as PlainText
			collect(parse(s, depth+1), out, depth+1)
		}
	case '[', '{':
		if depth+1 >= maxDepth {
			return
		}
		if nested, ok := parseJSON(b.Content, depth+1); ok {
			collect(nested, out, depth+1)
		}
	}
}

// Normalize collapses whitespace runs to single spaces, trims the ends and
// drops whitespace-free tokens longer than MaxTokenLength.
func Normalize(s string) string {
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > MaxTokenLength {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}
