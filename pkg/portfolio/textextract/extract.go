// Package textextract turns a serialized block-tree document into plain
// text. The plain form feeds similarity scoring; the diff-friendly form adds
// type-aware prefixes so line diffs stay readable.
package textextract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParse is returned by Parse when a body is not a JSON array of blocks.
var ErrParse = errors.New("textextract: malformed block document")

// Mode selects the output formatting.
type Mode int

const (
	// Plain joins block texts without decoration.
	Plain Mode = iota
	// DiffFriendly prefixes blocks by type (headings, list items, code fences).
	DiffFriendly
)

// Block is one node of a block-tree document. Content holds inline runs
// (usually an array of {type, text} objects) and is kept untyped because
// block types disagree about its shape.
type Block struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type"`
	Props    map[string]any `json:"props,omitempty"`
	Content  any            `json:"content,omitempty"`
	Children []Block        `json:"children,omitempty"`
}

// Parse decodes body into blocks. Anything but a JSON array, including
// null, is an ErrParse.
func Parse(body string) ([]Block, error) {
	var blocks []Block
	if err := json.Unmarshal([]byte(body), &blocks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if blocks == nil {
		return nil, fmt.Errorf("%w: body is not a block array", ErrParse)
	}
	return blocks, nil
}

// Extract returns the plain text of body. Bodies that do not parse are
// returned unchanged.
func Extract(body string) string {
	return ExtractMode(body, Plain)
}

// ExtractForDiff returns the diff-friendly text of body.
func ExtractForDiff(body string) string {
	return ExtractMode(body, DiffFriendly)
}

// ExtractMode extracts body using the given mode.
func ExtractMode(body string, mode Mode) string {
	blocks, err := Parse(body)
	if err != nil {
		return body
	}
	return Blocks(blocks, mode)
}

// Blocks renders already decoded blocks.
func Blocks(blocks []Block, mode Mode) string {
	var lines []string
	for _, b := range blocks {
		lines = appendBlock(lines, b, mode)
	}
	return strings.Join(lines, "\n")
}

func appendBlock(lines []string, b Block, mode Mode) []string {
	text := inlineText(b.Content)
	if strings.TrimSpace(text) != "" {
		if mode == DiffFriendly {
			if prefix, ok := prefixes[b.Type]; ok {
				text = prefix(b, text)
			}
		}
		lines = append(lines, text)
	}
	for _, child := range b.Children {
		lines = appendBlock(lines, child, mode)
	}
	return lines
}

// prefixes decorates block text by block type. Unknown types get no prefix.
var prefixes = map[string]func(b Block, text string) string{
	"heading": func(b Block, text string) string {
		return strings.Repeat("#", headingLevel(b.Props)) + " " + text
	},
	"bulletListItem": func(_ Block, text string) string {
		return "• " + text
	},
	"numberedListItem": func(_ Block, text string) string {
		return "1. " + text
	},
	"checkListItem": func(b Block, text string) string {
		if checked, _ := b.Props["checked"].(bool); checked {
			return "☑ " + text
		}
		return "☐ " + text
	},
	"codeBlock": func(_ Block, text string) string {
		return "```\n" + text + "\n```"
	},
	"quote": func(_ Block, text string) string {
		return "> " + text
	},
}

func headingLevel(props map[string]any) int {
	level := 1
	switch v := props["level"].(type) {
	case float64:
		level = int(v)
	case string:
		if n, err := fmt.Sscanf(v, "%d", &level); n != 1 || err != nil {
			level = 1
		}
	}
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return level
}

// inlineText walks inline content of any shape and concatenates text runs.
func inlineText(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var sb strings.Builder
		for _, item := range c {
			sb.WriteString(inlineText(item))
		}
		return sb.String()
	case map[string]any:
		if c["type"] == "tableContent" {
			return tableText(c)
		}
		if text, ok := c["text"].(string); ok {
			return text
		}
		return inlineText(c["content"])
	default:
		return ""
	}
}

func tableText(table map[string]any) string {
	rows, _ := table["rows"].([]any)
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		r, _ := row.(map[string]any)
		cells, _ := r["cells"].([]any)
		texts := make([]string, 0, len(cells))
		for _, cell := range cells {
			texts = append(texts, inlineText(cell))
		}
		lines = append(lines, strings.Join(texts, " | "))
	}
	return strings.Join(lines, "\n")
}
