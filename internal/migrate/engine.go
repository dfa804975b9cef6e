// Package migrate applies ordered, version-keyed data migration steps to the
// live store. This is data migration (reshaping stored entities), distinct
// from the schema migrations goose runs at startup.
package migrate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/logging"
	"github.com/akorchak/notekeeper/internal/repositories/items"
	"github.com/akorchak/notekeeper/internal/repositories/metadata"
	"github.com/akorchak/notekeeper/internal/validator"
)

type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

// Step is one named, idempotent migration keyed by the schema version it
// migrates the store up to.
type Step struct {
	Version     string
	Name        string
	Description string
	Run         func(ctx context.Context, repo items.Repository) (int, error)
}

// StepResult reports one step's outcome.
type StepResult struct {
	Name          string     `json:"name"`
	Version       string     `json:"version"`
	Status        StepStatus `json:"status"`
	ItemsAffected int        `json:"items_affected"`
	Message       string     `json:"message,omitempty"`
}

// Report aggregates a migration run.
type Report struct {
	Success           bool         `json:"success"`
	MigrationsApplied int          `json:"migrations_applied"`
	Warnings          []string     `json:"warnings,omitempty"`
	Errors            []string     `json:"errors,omitempty"`
	Details           []StepResult `json:"details"`
}

// Options controls a migration run.
type Options struct {
	// DryRun reports what each step would do without writing anything.
	DryRun bool

	// BackupBeforeMigration takes a full backup first. A backup failure is
	// surfaced as a warning, not an abort.
	BackupBeforeMigration bool

	// SkipValidation suppresses the pre-migration integrity scan.
	SkipValidation bool
}

// backupCreator is the slice of the backup service the engine needs.
type backupCreator interface {
	CreateFull(ctx context.Context) (string, error)
}

// Engine drives data migrations.
type Engine struct {
	items    items.Repository
	meta     metadata.Repository
	backups  backupCreator
	validate *validator.Service
	log      logging.Logger
	steps    []Step
}

func NewEngine(itemRepo items.Repository, metaRepo metadata.Repository,
	backups backupCreator, validate *validator.Service, log logging.Logger) *Engine {
	return &Engine{
		items:    itemRepo,
		meta:     metaRepo,
		backups:  backups,
		validate: validate,
		log:      log.With("component", "migrate"),
		steps:    defaultSteps(),
	}
}

// Register appends a step. Steps run in ascending version order regardless of
// registration order.
func (e *Engine) Register(step Step) {
	e.steps = append(e.steps, step)
}

// Run applies every registered step whose version lies in [from, to), in
// ascending version order. A failed step is recorded and flips overall
// success, but later steps still run.
func (e *Engine) Run(ctx context.Context, from, to string, opts Options) (*Report, error) {
	if compareVersions(from, to) >= 0 {
		return nil, fmt.Errorf("version range %s..%s is empty: %w", from, to, common.ErrPreconditionFailed)
	}

	report := &Report{Success: true}

	if !opts.SkipValidation {
		e.preValidate(ctx, report)
	}

	if opts.BackupBeforeMigration && !opts.DryRun {
		if id, err := e.backups.CreateFull(ctx); err != nil {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("pre-migration backup failed: %v", err))
			e.log.Warn(ctx, "pre-migration backup failed", "error", err)
		} else {
			e.log.Info(ctx, "pre-migration backup created", "backup_id", id)
		}
	}

	for _, step := range sortedSteps(e.steps) {
		if compareVersions(step.Version, from) < 0 || compareVersions(step.Version, to) >= 0 {
			continue
		}
		result := StepResult{Name: step.Name, Version: step.Version}

		if opts.DryRun {
			result.Status = StepSkipped
			result.Message = step.Description
			report.Details = append(report.Details, result)
			continue
		}

		affected, err := step.Run(ctx, e.items)
		result.ItemsAffected = affected
		if err != nil {
			result.Status = StepFailed
			result.Message = err.Error()
			report.Errors = append(report.Errors,
				fmt.Sprintf("step %s (%s): %v", step.Name, step.Version, err))
			report.Success = false
			e.log.Warn(ctx, "migration step failed", "step", step.Name, "error", err)
		} else {
			result.Status = StepCompleted
			report.MigrationsApplied++
			e.log.Info(ctx, "migration step applied", "step", step.Name,
				"version", step.Version, "items", affected)
		}
		report.Details = append(report.Details, result)
	}

	if report.Success && !opts.DryRun {
		if err := e.meta.Set(ctx, common.MetadataKeySchemaVersion, []byte(to)); err != nil {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("failed to record schema version: %v", err))
		}
	}
	return report, nil
}

func (e *Engine) preValidate(ctx context.Context, report *Report) {
	vr, err := e.validate.Validate(ctx, validator.AllChecks())
	if err != nil {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("pre-migration validation failed: %v", err))
		return
	}
	if vr.Invalid > 0 || vr.Warnings > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("pre-migration validation found %d invalid items and %d warnings",
				vr.Invalid, vr.Warnings))
	}
}

func sortedSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && compareVersions(out[j].Version, out[j-1].Version) < 0; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// compareVersions orders dotted numeric versions ("1.10" > "1.9").
// Non-numeric segments compare lexically.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		an, aerr := strconv.Atoi(av)
		bn, berr := strconv.Atoi(bv)
		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
		default:
			if av != bv {
				return strings.Compare(av, bv)
			}
		}
	}
	return 0
}

// defaultSteps is the built-in 1.x to 2.0 migration chain.
func defaultSteps() []Step {
	return []Step{
		{
			Version:     "1.1",
			Name:        "trim_titles",
			Description: "trim surrounding whitespace from item titles",
			Run: func(ctx context.Context, repo items.Repository) (int, error) {
				all, err := repo.List(ctx, items.Filter{IncludeArchived: true})
				if err != nil {
					return 0, err
				}
				affected := 0
				for _, it := range all {
					trimmed := strings.TrimSpace(it.Title)
					if trimmed == it.Title || trimmed == "" {
						continue
					}
					it.Title = trimmed
					if err := repo.Update(ctx, &it); err != nil {
						return affected, err
					}
					affected++
				}
				return affected, nil
			},
		},
		{
			Version:     "1.5",
			Name:        "normalize_tags",
			Description: "lower-case, trim and de-duplicate item tags",
			Run: func(ctx context.Context, repo items.Repository) (int, error) {
				all, err := repo.List(ctx, items.Filter{IncludeArchived: true})
				if err != nil {
					return 0, err
				}
				affected := 0
				for _, it := range all {
					normalized, changed := normalizeTags(it.Tags)
					if !changed {
						continue
					}
					if err := repo.SetTags(ctx, it.Id, normalized); err != nil {
						return affected, err
					}
					affected++
				}
				return affected, nil
			},
		},
		{
			Version:     "2.0",
			Name:        "default_category",
			Description: "assign the \"general\" category to uncategorized items",
			Run: func(ctx context.Context, repo items.Repository) (int, error) {
				all, err := repo.List(ctx, items.Filter{IncludeArchived: true})
				if err != nil {
					return 0, err
				}
				affected := 0
				for _, it := range all {
					if it.Category != "" {
						continue
					}
					it.Category = "general"
					if err := repo.Update(ctx, &it); err != nil {
						return affected, err
					}
					affected++
				}
				return affected, nil
			},
		},
	}
}

func normalizeTags(tags []string) ([]string, bool) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	changed := false
	for _, tag := range tags {
		n := strings.ToLower(strings.TrimSpace(tag))
		if n != tag {
			changed = true
		}
		if n == "" {
			changed = true
			continue
		}
		if _, dup := seen[n]; dup {
			changed = true
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, changed
}
