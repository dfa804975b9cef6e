package models

import "time"

// ImportStatus is the lifecycle state of an import session.
type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportValidating ImportStatus = "validating"
	ImportImporting  ImportStatus = "importing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
)

// FindingSeverity grades a row-level finding.
type FindingSeverity string

const (
	SeverityError   FindingSeverity = "error"
	SeverityWarning FindingSeverity = "warning"
	SeverityInfo    FindingSeverity = "info"
)

// Finding is a single row/field-level observation produced while parsing or
// ingesting an inbound file.
type Finding struct {
	Row      int             `json:"row"`
	Field    string          `json:"field,omitempty"`
	Message  string          `json:"message"`
	Severity FindingSeverity `json:"severity"`
}

// ImportSession tracks one asynchronous import run. Counters update after
// every record so progress is observable mid-run; ProcessedItems is
// monotonically non-decreasing and never exceeds TotalItems.
type ImportSession struct {
	Id string

	// SourceFormat is the inbound file format; Filename is informational.
	SourceFormat string
	Filename     string

	Status ImportStatus

	TotalItems      int
	ProcessedItems  int
	SuccessfulItems int
	FailedItems     int

	TotalBytes int64

	// FieldMapping renames source record fields to item fields.
	FieldMapping map[string]string

	Findings []Finding

	// Error is set only when the session terminates as failed.
	Error string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the session reached a final state.
func (s *ImportSession) Terminal() bool {
	return s.Status == ImportCompleted || s.Status == ImportFailed
}
