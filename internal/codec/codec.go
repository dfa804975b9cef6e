// Package codec parses inbound files into generic item records and serializes
// item sets back out. Every parser produces the same uniform intermediate:
// a slice of Records plus row-level Findings, so the import pipeline does not
// care which format the data arrived in.
package codec

import (
	"fmt"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/models"
)

// Format is the closed set of file formats the codec layer understands.
// Binary document formats are listed so they can degrade gracefully with a
// warning instead of an "unknown format" error.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatDocx     Format = "docx"
	FormatPDF      Format = "pdf"
)

// Record is the uniform intermediate produced by all parsers.
type Record struct {
	// Row is the 1-based source row (CSV) or section/item ordinal the
	// record came from, for error reporting during ingestion.
	Row int

	Title    string
	Content  string
	Category string
	Tags     []string

	// Extra holds source columns that did not map onto the core fields
	// (CSV only). The import pipeline consults it when applying a
	// field-mapping table.
	Extra map[string]string
}

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatMarkdown, FormatHTML, FormatDocx, FormatPDF:
		return Format(s), nil
	}
	return "", fmt.Errorf("%q: %w", s, common.ErrUnsupportedFormat)
}

// ContentType returns the MIME type for serialized output in this format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatMarkdown:
		return "text/markdown"
	case FormatHTML:
		return "text/html"
	case FormatDocx:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Extension returns the conventional file extension, without the dot.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// Parse decodes data in the given format into records and findings.
// Parse never fails on malformed rows: those are reported as findings with
// SeverityError while the remaining rows are still processed. The returned
// error is reserved for inputs that cannot be read at all.
func Parse(format Format, data []byte) ([]Record, []models.Finding, error) {
	switch format {
	case FormatCSV:
		return parseCSV(data)
	case FormatJSON:
		return parseJSON(data)
	case FormatMarkdown:
		return parseMarkdown(data)
	case FormatHTML:
		return parseHTML(data)
	case FormatDocx, FormatPDF:
		// Deliberate degrade-gracefully policy: binary document formats
		// need conversion upstream, so we return zero records and say so.
		return nil, []models.Finding{{
			Row:      0,
			Message:  fmt.Sprintf("%s files cannot be parsed directly; convert to csv, json, markdown or html first", format),
			Severity: models.SeverityWarning,
		}}, nil
	}
	return nil, nil, fmt.Errorf("%q: %w", format, common.ErrUnsupportedFormat)
}

// Serialize encodes items in the given format.
func Serialize(format Format, items []models.Item) ([]byte, error) {
	switch format {
	case FormatCSV:
		return writeCSV(items)
	case FormatJSON:
		return writeJSON(items)
	case FormatMarkdown:
		return writeMarkdown(items)
	case FormatHTML:
		return writeHTML(items)
	case FormatDocx, FormatPDF:
		return nil, fmt.Errorf("%s does not support serialization: %w", format, common.ErrUnsupportedFormat)
	}
	return nil, fmt.Errorf("%q: %w", format, common.ErrUnsupportedFormat)
}
