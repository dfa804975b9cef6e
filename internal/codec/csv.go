package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/akorchak/notekeeper/internal/models"
)

// csvHeader is the fixed header row used for delimited-text exports.
var csvHeader = []string{"id", "title", "content", "category", "tags", "created_at", "updated_at"}

// tagSeparator joins multiple tags inside one CSV cell.
const tagSeparator = ";"

// parseCSV reads RFC 4180 delimited text. The first row is the header; blank
// rows are skipped by the reader. A malformed row yields a SeverityError
// finding and parsing continues with the next row.
func parseCSV(data []byte) ([]Record, []models.Finding, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // row width is validated against the header below

	header, err := r.Read()
	if err == io.EOF {
		return nil, []models.Finding{{
			Row:      1,
			Message:  "file is empty, expected a header row",
			Severity: models.SeverityWarning,
		}}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header row: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["title"]; !ok {
		return nil, nil, errors.New(`header row has no "title" column`)
	}

	var (
		records  []Record
		findings []models.Finding
		row      = 1 // header consumed above
	)
	for {
		row++
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			findings = append(findings, models.Finding{
				Row:      row,
				Message:  fmt.Sprintf("malformed row: %v", err),
				Severity: models.SeverityError,
			})
			continue
		}
		if len(fields) != len(header) {
			findings = append(findings, models.Finding{
				Row:      row,
				Message:  fmt.Sprintf("expected %d fields, got %d", len(header), len(fields)),
				Severity: models.SeverityError,
			})
			continue
		}

		cell := func(name string) string {
			i, ok := cols[name]
			if !ok {
				return ""
			}
			return fields[i]
		}

		rec := Record{
			Row:      row,
			Title:    strings.TrimSpace(cell("title")),
			Content:  cell("content"),
			Category: strings.TrimSpace(cell("category")),
			Tags:     splitTags(cell("tags")),
			Extra:    map[string]string{},
		}
		for name, i := range cols {
			switch name {
			case "title", "content", "category", "tags":
			default:
				rec.Extra[name] = fields[i]
			}
		}

		if rec.Title == "" {
			findings = append(findings, models.Finding{
				Row:      row,
				Field:    "title",
				Message:  "title is required",
				Severity: models.SeverityError,
			})
			continue
		}
		records = append(records, rec)
	}

	return records, findings, nil
}

// writeCSV serializes items with the fixed header row. encoding/csv applies
// RFC 4180 quoting, so fields containing the delimiter, quotes or newlines
// round-trip unchanged.
func writeCSV(items []models.Item) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for i := range items {
		it := &items[i]
		row := []string{
			it.Id,
			it.Title,
			it.Content,
			it.Category,
			strings.Join(it.Tags, tagSeparator),
			it.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			it.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, tagSeparator)
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
