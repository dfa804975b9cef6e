package models

// IssueType classifies an integrity problem found on an entity.
type IssueType string

const (
	IssueDuplicate           IssueType = "duplicate"
	IssueOrphaned            IssueType = "orphaned"
	IssueCorrupted           IssueType = "corrupted"
	IssueInvalidReference    IssueType = "invalid_reference"
	IssueMissingField        IssueType = "missing_field"
	IssueConstraintViolation IssueType = "constraint_violation"
)

// Issue is a single typed integrity finding with severity.
type Issue struct {
	Type     IssueType       `json:"type"`
	Field    string          `json:"field,omitempty"`
	Message  string          `json:"message"`
	Severity FindingSeverity `json:"severity"`
}

// EntityValidation is the per-entity portion of an integrity report.
type EntityValidation struct {
	EntityId string  `json:"entity_id"`
	Title    string  `json:"title"`
	Valid    bool    `json:"valid"`
	Issues   []Issue `json:"issues"`
}

// ValidationReport summarizes an integrity scan. The validator is read-only:
// producing a report never mutates any entity.
type ValidationReport struct {
	Total    int `json:"total"`
	Valid    int `json:"valid"`
	Invalid  int `json:"invalid"`
	Warnings int `json:"warnings"`

	Details []EntityValidation `json:"details"`
}
