package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/akorchak/notekeeper/internal/models"
)

// parseMarkdown splits a lightweight-markup document into sections on heading
// markers. Each heading starts a section whose title is the heading text and
// whose content is everything up to the next heading. A document without
// headings becomes a single record.
func parseMarkdown(data []byte) ([]Record, []models.Finding, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, []models.Finding{{
			Row:      1,
			Message:  "document is empty",
			Severity: models.SeverityWarning,
		}}, nil
	}

	type section struct {
		title     string
		lineStart int // byte offset of the heading line
		bodyFrom  int // byte offset just past the heading line
	}

	parser := goldmark.New().Parser()
	doc := parser.Parse(text.NewReader(data))

	var sections []section
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		sections = append(sections, section{
			title:     strings.TrimSpace(string(seg.Value(data))),
			lineStart: lineStartOffset(data, seg.Start),
			bodyFrom:  lineEndOffset(data, seg.Stop),
		})
	}

	if len(sections) == 0 {
		title, content := splitFirstLine(string(data))
		return []Record{{Title: title, Content: content}}, nil, nil
	}

	var records []Record

	// Text before the first heading forms its own section.
	if preamble := strings.TrimSpace(string(data[:sections[0].lineStart])); preamble != "" {
		title, content := splitFirstLine(preamble)
		records = append(records, Record{Title: title, Content: content})
	}

	for i, s := range sections {
		end := len(data)
		if i+1 < len(sections) {
			end = sections[i+1].lineStart
		}
		records = append(records, Record{
			Title:   s.title,
			Content: strings.TrimSpace(string(data[s.bodyFrom:min(end, len(data))])),
		})
	}
	return records, nil, nil
}

// writeMarkdown emits one "## title" section per item.
func writeMarkdown(items []models.Item) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("# Notes Export\n")
	for i := range items {
		it := &items[i]
		fmt.Fprintf(&sb, "\n## %s\n\n", it.Title)
		if it.Category != "" {
			fmt.Fprintf(&sb, "Category: %s\n", it.Category)
		}
		if len(it.Tags) > 0 {
			fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(it.Tags, ", "))
		}
		if it.Category != "" || len(it.Tags) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(it.Content)
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}

// lineStartOffset walks back from pos to the beginning of its line.
func lineStartOffset(data []byte, pos int) int {
	if pos > len(data) {
		pos = len(data)
	}
	i := bytes.LastIndexByte(data[:pos], '\n')
	return i + 1
}

// lineEndOffset walks forward from pos past the end of its line.
func lineEndOffset(data []byte, pos int) int {
	if pos >= len(data) {
		return len(data)
	}
	i := bytes.IndexByte(data[pos:], '\n')
	if i < 0 {
		return len(data)
	}
	return pos + i + 1
}

// splitFirstLine uses the first non-empty line as a title and the rest as
// content, for documents that carry no headings of their own.
func splitFirstLine(s string) (title, content string) {
	s = strings.TrimSpace(s)
	line, rest, found := strings.Cut(s, "\n")
	title = strings.TrimSpace(line)
	if !found {
		return title, ""
	}
	return title, strings.TrimSpace(rest)
}
