// Package validator scans the live store for integrity problems. It is
// read-only: a scan never mutates any entity.
package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/akorchak/notekeeper/internal/logging"
	"github.com/akorchak/notekeeper/internal/models"
	"github.com/akorchak/notekeeper/internal/repositories/items"
)

// maxContentBytes is the body size past which an item is flagged oversized.
const maxContentBytes = 1 << 20

// Options toggles individual checks. The zero value runs none; use
// AllChecks for a full scan.
type Options struct {
	CheckDuplicates bool
	CheckCorrupted  bool
	CheckReferences bool
}

// AllChecks enables every check.
func AllChecks() Options {
	return Options{CheckDuplicates: true, CheckCorrupted: true, CheckReferences: true}
}

// Service runs integrity scans against the item repository.
type Service struct {
	items items.Repository
	log   logging.Logger
}

func NewService(itemRepo items.Repository, log logging.Logger) *Service {
	return &Service{items: itemRepo, log: log.With("component", "validator")}
}

// Validate scans every item (archived included) and returns a report. Checks
// are independently toggleable through opts.
func (s *Service) Validate(ctx context.Context, opts Options) (*models.ValidationReport, error) {
	all, err := s.items.List(ctx, items.Filter{IncludeArchived: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	// Duplicate titles compare case-insensitively after trimming.
	titleCount := map[string]int{}
	if opts.CheckDuplicates {
		for _, it := range all {
			titleCount[normalizeTitle(it.Title)]++
		}
	}

	report := &models.ValidationReport{Total: len(all)}
	for _, it := range all {
		var issues []models.Issue
		if opts.CheckDuplicates {
			issues = append(issues, checkDuplicateTitle(&it, titleCount)...)
		}
		if opts.CheckCorrupted {
			issues = append(issues, checkCorrupted(&it)...)
		}
		if opts.CheckReferences {
			issues = append(issues, checkTagReferences(&it)...)
		}

		valid := true
		for _, issue := range issues {
			switch issue.Severity {
			case models.SeverityError:
				valid = false
			case models.SeverityWarning:
				report.Warnings++
			}
		}
		if valid {
			report.Valid++
		} else {
			report.Invalid++
		}
		if len(issues) > 0 {
			report.Details = append(report.Details, models.EntityValidation{
				EntityId: it.Id,
				Title:    it.Title,
				Valid:    valid,
				Issues:   issues,
			})
		}
	}

	s.log.Info(ctx, "integrity scan finished", "total", report.Total,
		"invalid", report.Invalid, "warnings", report.Warnings)
	return report, nil
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

func checkDuplicateTitle(it *models.Item, titleCount map[string]int) []models.Issue {
	if titleCount[normalizeTitle(it.Title)] < 2 {
		return nil
	}
	return []models.Issue{{
		Type:     models.IssueDuplicate,
		Field:    "title",
		Message:  fmt.Sprintf("title %q is shared by multiple items", it.Title),
		Severity: models.SeverityWarning,
	}}
}

func checkCorrupted(it *models.Item) []models.Issue {
	var issues []models.Issue
	if strings.TrimSpace(it.Title) == "" {
		issues = append(issues, models.Issue{
			Type:     models.IssueMissingField,
			Field:    "title",
			Message:  "title is empty",
			Severity: models.SeverityError,
		})
	}
	if len(it.Content) > maxContentBytes {
		issues = append(issues, models.Issue{
			Type:     models.IssueCorrupted,
			Field:    "content",
			Message:  fmt.Sprintf("content is %d bytes, exceeds the %d byte limit", len(it.Content), maxContentBytes),
			Severity: models.SeverityWarning,
		})
	}
	for k := range it.Metadata {
		if strings.TrimSpace(k) == "" {
			issues = append(issues, models.Issue{
				Type:     models.IssueCorrupted,
				Field:    "metadata",
				Message:  "metadata contains an empty key",
				Severity: models.SeverityError,
			})
			break
		}
	}
	if it.CreatedAt.After(it.UpdatedAt) {
		issues = append(issues, models.Issue{
			Type:     models.IssueConstraintViolation,
			Field:    "updated_at",
			Message:  "updated_at precedes created_at",
			Severity: models.SeverityWarning,
		})
	}
	return issues
}

func checkTagReferences(it *models.Item) []models.Issue {
	var issues []models.Issue
	for _, tag := range it.Tags {
		if strings.TrimSpace(tag) == "" {
			issues = append(issues, models.Issue{
				Type:     models.IssueInvalidReference,
				Field:    "tags",
				Message:  "blank tag entry",
				Severity: models.SeverityWarning,
			})
			continue
		}
		if strings.ContainsAny(tag, ",\n") {
			issues = append(issues, models.Issue{
				Type:     models.IssueInvalidReference,
				Field:    "tags",
				Message:  fmt.Sprintf("tag %q contains separator characters", tag),
				Severity: models.SeverityWarning,
			})
		}
	}
	return issues
}
