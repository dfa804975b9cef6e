package codec

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	xhtml "golang.org/x/net/html"

	"github.com/akorchak/notekeeper/internal/models"
)

// defaultHTMLTitle is used when the document carries no <title> element.
const defaultHTMLTitle = "Imported Document"

// parseHTML strips script/style blocks and remaining markup, collapses
// whitespace, and uses the document title element as the record title.
// The whole document becomes a single record.
func parseHTML(data []byte) ([]Record, []models.Finding, error) {
	doc, err := xhtml.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse html: %w", err)
	}

	title := defaultHTMLTitle
	var sb strings.Builder

	var walk func(n *xhtml.Node, inBody bool)
	walk = func(n *xhtml.Node, inBody bool) {
		switch n.Type {
		case xhtml.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if t := strings.TrimSpace(nodeText(n)); t != "" {
					title = t
				}
				return
			case "body":
				inBody = true
			}
		case xhtml.TextNode:
			if inBody {
				sb.WriteString(n.Data)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inBody)
		}
	}
	walk(doc, false)

	content := strings.Join(strings.Fields(sb.String()), " ")

	var findings []models.Finding
	if content == "" {
		findings = append(findings, models.Finding{
			Row:      1,
			Message:  "document body contains no text",
			Severity: models.SeverityWarning,
		})
	}
	return []Record{{Title: title, Content: content}}, findings, nil
}

func nodeText(n *xhtml.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xhtml.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// writeHTML emits a standalone document with one <article> fragment per item.
// All interpolated text is escaped.
func writeHTML(items []models.Item) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	sb.WriteString("<meta charset=\"utf-8\">\n<title>Notes Export</title>\n")
	sb.WriteString("</head>\n<body>\n")
	for i := range items {
		it := &items[i]
		sb.WriteString("<article>\n")
		fmt.Fprintf(&sb, "<h2>%s</h2>\n", html.EscapeString(it.Title))
		if it.Category != "" {
			fmt.Fprintf(&sb, "<p class=\"category\">%s</p>\n", html.EscapeString(it.Category))
		}
		if len(it.Tags) > 0 {
			sb.WriteString("<ul class=\"tags\">\n")
			for _, tag := range it.Tags {
				fmt.Fprintf(&sb, "<li>%s</li>\n", html.EscapeString(tag))
			}
			sb.WriteString("</ul>\n")
		}
		fmt.Fprintf(&sb, "<div class=\"content\">%s</div>\n", html.EscapeString(it.Content))
		sb.WriteString("</article>\n")
	}
	sb.WriteString("</body>\n</html>\n")
	return []byte(sb.String()), nil
}
