package codec

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/models"
)

// jsonDocument is the structured export envelope. SchemaVersion is a stable
// marker so future imports know what they are reading.
type jsonDocument struct {
	SchemaVersion string     `json:"schema_version"`
	ExportedAt    time.Time  `json:"exported_at"`
	Items         []jsonItem `json:"items"`
}

// jsonItem preserves every item field.
type jsonItem struct {
	Id         string            `json:"id,omitempty"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Category   string            `json:"category,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	IsTemplate bool              `json:"is_template,omitempty"`
	Archived   bool              `json:"archived,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
}

// parseJSON accepts either the export envelope or a bare array of items.
func parseJSON(data []byte) ([]Record, []models.Finding, error) {
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		var items []jsonItem
		if err2 := json.Unmarshal(data, &items); err2 != nil {
			return nil, nil, fmt.Errorf("not a recognized json document: %w", err)
		}
		doc.Items = items
	}

	var (
		records  []Record
		findings []models.Finding
	)
	for i, it := range doc.Items {
		if it.Title == "" {
			findings = append(findings, models.Finding{
				Row:      i + 1,
				Field:    "title",
				Message:  "title is required",
				Severity: models.SeverityError,
			})
			continue
		}
		records = append(records, Record{
			Row:      i + 1,
			Title:    it.Title,
			Content:  it.Content,
			Category: it.Category,
			Tags:     it.Tags,
		})
	}
	return records, findings, nil
}

func writeJSON(items []models.Item) ([]byte, error) {
	doc := jsonDocument{
		SchemaVersion: common.SchemaVersion,
		ExportedAt:    time.Now().UTC(),
		Items:         make([]jsonItem, 0, len(items)),
	}
	for i := range items {
		it := &items[i]
		doc.Items = append(doc.Items, jsonItem{
			Id:         it.Id,
			Title:      it.Title,
			Content:    it.Content,
			Category:   it.Category,
			Tags:       it.Tags,
			IsTemplate: it.IsTemplate,
			Archived:   it.Archived,
			Metadata:   it.Metadata,
			CreatedAt:  it.CreatedAt,
			UpdatedAt:  it.UpdatedAt,
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}
