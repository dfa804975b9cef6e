// Package optimizer reclaims storage space in the live store: duplicate
// removal, content compression, archival of stale items and tag cleanup.
package optimizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/config"
	"github.com/akorchak/notekeeper/internal/hashx"
	"github.com/akorchak/notekeeper/internal/logging"
	"github.com/akorchak/notekeeper/internal/models"
	"github.com/akorchak/notekeeper/internal/repositories/items"
)

type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
	StepError     StepStatus = "error"
)

// StepReport is the outcome of one optimization step. Steps fail
// independently: an error here never aborts the run.
type StepReport struct {
	Name          string     `json:"name"`
	ItemsAffected int        `json:"items_affected"`
	SpaceSaved    int64      `json:"space_saved"`
	Status        StepStatus `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`

	// Ratio is the mean compressed/original size, compression step only.
	Ratio float64 `json:"ratio,omitempty"`
}

// Report aggregates a full optimizer run.
type Report struct {
	OptimizedItems int          `json:"optimized_items"`
	SpaceSaved     int64        `json:"space_saved"`
	Steps          []StepReport `json:"steps"`
}

// Service runs the optimization pipeline against the item repository.
type Service struct {
	items items.Repository
	cfg   *config.Config
	log   logging.Logger
	now   func() time.Time
}

func NewService(itemRepo items.Repository, cfg *config.Config, log logging.Logger) *Service {
	return &Service{
		items: itemRepo,
		cfg:   cfg,
		log:   log.With("component", "optimizer"),
		now:   time.Now,
	}
}

// Run executes every step in order and aggregates the result. A step that
// errors is reported as such; the remaining steps still run.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	steps := []struct {
		name string
		fn   func(context.Context) (int, int64, float64, error)
	}{
		{"deduplication", s.deduplicate},
		{"compression", s.compress},
		{"archival", s.archive},
		{"orphan_cleanup", s.cleanOrphanTags},
	}
	for _, step := range steps {
		affected, saved, ratio, err := step.fn(ctx)
		sr := StepReport{
			Name:          step.name,
			ItemsAffected: affected,
			SpaceSaved:    saved,
			Status:        StepCompleted,
			Ratio:         ratio,
		}
		switch {
		case err != nil:
			sr.Status = StepError
			sr.ErrorMessage = err.Error()
			s.log.Warn(ctx, "optimizer step failed", "step", step.name, "error", err)
		case affected == 0:
			sr.Status = StepSkipped
		}
		report.Steps = append(report.Steps, sr)
		report.OptimizedItems += affected
		report.SpaceSaved += saved
	}
	s.log.Info(ctx, "optimizer run finished",
		"items", report.OptimizedItems, "bytes", report.SpaceSaved)

	// Failed steps never abort the run; the report carries them and the
	// error tells callers not every step went through.
	for _, sr := range report.Steps {
		if sr.Status == StepError {
			return report, fmt.Errorf("%d of %d steps failed: %w",
				countStatus(report.Steps, StepError), len(report.Steps), common.ErrPartialFailure)
		}
	}
	return report, nil
}

func countStatus(steps []StepReport, status StepStatus) int {
	n := 0
	for _, sr := range steps {
		if sr.Status == status {
			n++
		}
	}
	return n
}

// deduplicate groups items by the fingerprint of their normalized body text
// and removes all but the earliest-created member of each group. The oldest
// survivor is never removed, so running twice removes nothing new.
func (s *Service) deduplicate(ctx context.Context) (int, int64, float64, error) {
	all, err := s.items.List(ctx, items.Filter{IncludeArchived: true})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to list items: %w", err)
	}

	groups := map[string][]models.Item{}
	for _, it := range all {
		if it.Content == "" {
			continue
		}
		fp := hashx.Fingerprint(it.Content)
		groups[fp] = append(groups[fp], it)
	}

	affected := 0
	var saved int64
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		for _, dup := range group[1:] {
			if err := s.items.Delete(ctx, dup.Id); err != nil {
				return affected, saved, 0, fmt.Errorf("failed to remove duplicate %s: %w", dup.Id, err)
			}
			affected++
			saved += int64(dup.ApproxSize())
		}
	}
	return affected, saved, 0, nil
}

// compress rewrites oversized bodies with collapsed whitespace, persisting
// the result only when it shrinks the content by at least 10%. The rewrite
// goes through UpdateContent so it does not register as a user edit.
func (s *Service) compress(ctx context.Context) (int, int64, float64, error) {
	all, err := s.items.List(ctx, items.Filter{IncludeArchived: true})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to list items: %w", err)
	}

	affected := 0
	var saved int64
	var ratioSum float64
	for _, it := range all {
		if len(it.Content) <= s.cfg.CompressMinBytes {
			continue
		}
		compacted := collapseWhitespace(it.Content)
		if len(compacted) > len(it.Content)*9/10 {
			continue
		}
		if err := s.items.UpdateContent(ctx, it.Id, compacted); err != nil {
			return affected, saved, 0, fmt.Errorf("failed to compress item %s: %w", it.Id, err)
		}
		affected++
		saved += int64(len(it.Content) - len(compacted))
		ratioSum += float64(len(compacted)) / float64(len(it.Content))
	}
	ratio := 0.0
	if affected > 0 {
		ratio = ratioSum / float64(affected)
	}
	return affected, saved, ratio, nil
}

// collapseWhitespace trims trailing whitespace per line, squeezes runs of
// spaces and tabs, and caps blank-line runs at one. Line structure survives,
// so the rewrite stays lossless for prose.
func collapseWhitespace(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// archive flags items untouched past the age threshold and trims their
// metadata down to an archival marker. Content is retained.
func (s *Service) archive(ctx context.Context) (int, int64, float64, error) {
	if s.cfg.ArchiveAfter <= 0 {
		return 0, 0, 0, nil
	}
	all, err := s.items.List(ctx, items.Filter{})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to list items: %w", err)
	}

	cutoff := s.now().UTC().Add(-s.cfg.ArchiveAfter)
	affected := 0
	var saved int64
	for _, it := range all {
		if it.Archived || it.UpdatedAt.After(cutoff) {
			continue
		}
		trimmed := map[string]string{
			"archived_at": s.now().UTC().Format(time.RFC3339),
		}
		if err := s.items.SetArchived(ctx, it.Id, true, trimmed); err != nil {
			return affected, saved, 0, fmt.Errorf("failed to archive item %s: %w", it.Id, err)
		}
		affected++
		for k, v := range it.Metadata {
			saved += int64(len(k) + len(v))
		}
	}
	return affected, saved, 0, nil
}

// cleanOrphanTags drops blank tags and "category:<name>" tags whose category
// no longer exists in the store.
func (s *Service) cleanOrphanTags(ctx context.Context) (int, int64, float64, error) {
	categories, err := s.items.Categories(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to list categories: %w", err)
	}
	known := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		known[c] = struct{}{}
	}

	all, err := s.items.List(ctx, items.Filter{IncludeArchived: true})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to list items: %w", err)
	}

	affected := 0
	var saved int64
	for _, it := range all {
		kept := make([]string, 0, len(it.Tags))
		changed := false
		var dropped int64
		for _, tag := range it.Tags {
			trimmed := strings.TrimSpace(tag)
			if trimmed != tag {
				changed = true
			}
			if trimmed == "" {
				dropped += int64(len(tag))
				continue
			}
			if ref, ok := strings.CutPrefix(trimmed, "category:"); ok {
				if _, exists := known[ref]; !exists {
					dropped += int64(len(tag))
					continue
				}
			}
			kept = append(kept, trimmed)
		}
		if !changed && dropped == 0 {
			continue
		}
		if err := s.items.SetTags(ctx, it.Id, kept); err != nil {
			return affected, saved, 0, fmt.Errorf("failed to clean tags on item %s: %w", it.Id, err)
		}
		affected++
		saved += dropped
	}
	return affected, saved, 0, nil
}
