// Package backup implements the backup store: snapshot creation (full,
// incremental, differential), restore with a caller-chosen merge strategy,
// history listing, deletion and the expiry sweep.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/filex"
	"github.com/akorchak/notekeeper/internal/keystore"
	"github.com/akorchak/notekeeper/internal/logging"
	"github.com/akorchak/notekeeper/internal/models"
	"github.com/akorchak/notekeeper/internal/repositories/backups"
	"github.com/akorchak/notekeeper/internal/repositories/items"
	"github.com/akorchak/notekeeper/internal/repositories/metadata"
)

// artifactExt is the backup artifact file suffix.
const artifactExt = ".nkbak"

// snapshot is the serialized artifact payload.
type snapshot struct {
	SchemaVersion string        `json:"schema_version"`
	Kind          string        `json:"kind"`
	CreatedAt     time.Time     `json:"created_at"`
	Items         []models.Item `json:"items"`
}

// CreateOptions tune snapshot creation.
type CreateOptions struct {
	// Include restricts the snapshot to the listed categories.
	Include []string
	// Encrypt seals the artifact with the keystore.
	Encrypt bool
}

// RestoreOptions control how a snapshot is applied over existing data.
type RestoreOptions struct {
	// Strategy must be chosen explicitly by the caller; there is no default
	// for an operation that can overwrite data.
	Strategy models.MergeStrategy
	// ValidateData re-checks snapshot integrity before applying.
	ValidateData bool
}

// Service is the backup store.
type Service struct {
	itemRepo   items.Repository
	backupRepo backups.Repository
	metaRepo   metadata.Repository
	keys       *keystore.KeyStore
	log        logging.Logger

	dir       string
	retention time.Duration

	// restoreLocks gives single-flight per backup id: two restores of the
	// same snapshot serialize instead of interleaving their writes.
	restoreLocks sync.Map
}

func NewService(itemRepo items.Repository, backupRepo backups.Repository,
	metaRepo metadata.Repository, keys *keystore.KeyStore,
	dir string, retention time.Duration, log logging.Logger) *Service {
	return &Service{
		itemRepo:   itemRepo,
		backupRepo: backupRepo,
		metaRepo:   metaRepo,
		keys:       keys,
		log:        log.With("component", "backup"),
		dir:        dir,
		retention:  retention,
	}
}

// Create snapshots the store and returns the completed record. The record is
// inserted as pending first, so a crash mid-write leaves a pending or failed
// record, never a completed one with missing size data.
func (s *Service) Create(ctx context.Context, kind models.BackupKind, opts CreateOptions) (*models.BackupRecord, error) {
	if opts.Encrypt && !s.keys.Ready() {
		return nil, common.ErrEncryptionKeyMissing
	}

	now := time.Now().UTC()
	rec := &models.BackupRecord{
		Id:            uuid.NewString(),
		Kind:          kind,
		Serialization: "json",
		Status:        models.BackupStatusPending,
		Encrypted:     opts.Encrypt,
		CreatedAt:     now,
	}
	if s.retention > 0 {
		exp := now.Add(s.retention)
		rec.ExpiresAt = &exp
	}
	if err := s.backupRepo.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create backup record: %w", err)
	}

	completed, err := s.fillSnapshot(ctx, rec, opts)
	if err != nil {
		if mfErr := s.backupRepo.MarkFailed(ctx, rec.Id, err.Error()); mfErr != nil {
			s.log.Error(ctx, "failed to mark backup failed", "id", rec.Id, "error", mfErr)
		}
		return nil, err
	}
	return completed, nil
}

func (s *Service) fillSnapshot(ctx context.Context, rec *models.BackupRecord, opts CreateOptions) (*models.BackupRecord, error) {
	filter, err := s.filterForKind(ctx, rec.Kind)
	if err != nil {
		return nil, err
	}
	filter.Categories = opts.Include

	list, err := s.itemRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}

	snap := snapshot{
		SchemaVersion: common.SchemaVersion,
		Kind:          string(rec.Kind),
		CreatedAt:     rec.CreatedAt,
		Items:         list,
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}

	artifact := buf.Bytes()
	if opts.Encrypt {
		artifact, err = s.keys.Encrypt(artifact)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt snapshot: %w", err)
		}
	}

	if _, err := filex.EnsureDir(s.dir); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, rec.Id+artifactExt)
	if err := os.WriteFile(path, artifact, 0o660); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}

	itemCount, templateCount := 0, 0
	catSet := map[string]struct{}{}
	for i := range list {
		if list[i].IsTemplate {
			templateCount++
		} else {
			itemCount++
		}
		if c := list[i].Category; c != "" {
			catSet[c] = struct{}{}
		}
	}
	cats := make([]string, 0, len(catSet))
	for c := range catSet {
		cats = append(cats, c)
	}

	completedAt := time.Now().UTC()
	rec.Status = models.BackupStatusCompleted
	rec.SizeBytes = int64(len(artifact))
	rec.ItemCount = itemCount
	rec.TemplateCount = templateCount
	rec.Categories = cats
	rec.CompressionRatio = ratio(len(buf.Bytes()), len(raw))
	rec.ArtifactPath = path
	rec.CompletedAt = &completedAt

	if err := s.backupRepo.Complete(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.metaRepo.Set(ctx, common.MetadataKeyLastBackupAt,
		[]byte(rec.CreatedAt.Format(time.RFC3339Nano))); err != nil {
		s.log.Warn(ctx, "failed to record last backup time", "error", err)
	}
	if rec.Kind == models.BackupKindFull {
		if err := s.metaRepo.Set(ctx, common.MetadataKeyLastFullBackup, []byte(rec.Id)); err != nil {
			s.log.Warn(ctx, "failed to record last full backup", "error", err)
		}
	}

	s.log.Info(ctx, "backup completed", "id", rec.Id, "kind", rec.Kind,
		"items", itemCount, "templates", templateCount, "size", rec.SizeBytes)
	return rec, nil
}

// filterForKind resolves what "changed since" means for each backup kind.
func (s *Service) filterForKind(ctx context.Context, kind models.BackupKind) (items.Filter, error) {
	f := items.Filter{IncludeArchived: true}

	switch kind {
	case models.BackupKindFull:
		return f, nil

	case models.BackupKindIncremental:
		v, err := s.metaRepo.Get(ctx, common.MetadataKeyLastBackupAt)
		if err != nil {
			return f, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
		}
		if v == nil {
			// No earlier backup: the incremental degenerates to a full set.
			return f, nil
		}
		since, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return f, fmt.Errorf("malformed last backup time: %w", err)
		}
		f.UpdatedAfter = &since
		return f, nil

	case models.BackupKindDifferential:
		v, err := s.metaRepo.Get(ctx, common.MetadataKeyLastFullBackup)
		if err != nil {
			return f, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
		}
		if v == nil {
			return f, nil
		}
		full, err := s.backupRepo.GetByID(ctx, string(v))
		if err != nil {
			return f, fmt.Errorf("failed to resolve last full backup: %w", err)
		}
		f.UpdatedAfter = &full.CreatedAt
		return f, nil
	}
	return f, fmt.Errorf("%q: unknown backup kind", kind)
}

// Restore loads the snapshot and applies it with the chosen merge strategy.
// The restore fully applies before returning; each item write is its own
// transaction per the store's atomic per-record contract.
func (s *Service) Restore(ctx context.Context, id string, opts RestoreOptions) error {
	switch opts.Strategy {
	case models.MergeReplace, models.MergeUnion, models.MergeSkipExisting:
	default:
		return fmt.Errorf("merge strategy must be chosen explicitly: %w", common.ErrPreconditionFailed)
	}

	unlock := s.lockRestore(id)
	defer unlock()

	rec, err := s.backupRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != models.BackupStatusCompleted {
		return fmt.Errorf("backup %s has status %s: %w", id, rec.Status, common.ErrBackupNotCompleted)
	}

	snap, err := s.readArtifact(rec)
	if err != nil {
		return err
	}

	if opts.ValidateData {
		if err := validateSnapshot(snap); err != nil {
			return err
		}
	}

	for i := range snap.Items {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("restore cancelled: %w", err)
		}
		item := &snap.Items[i]
		switch opts.Strategy {
		case models.MergeReplace:
			err = s.itemRepo.Upsert(ctx, item)
		case models.MergeUnion:
			err = s.itemRepo.UpsertNewer(ctx, item)
		case models.MergeSkipExisting:
			err = s.itemRepo.InsertIgnore(ctx, item)
		}
		if err != nil {
			return fmt.Errorf("failed to restore item %s: %w", item.Id, err)
		}
	}

	s.log.Info(ctx, "backup restored", "id", id, "strategy", opts.Strategy, "items", len(snap.Items))
	return nil
}

func (s *Service) readArtifact(rec *models.BackupRecord) (*snapshot, error) {
	artifact, err := os.ReadFile(rec.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if rec.Encrypted {
		artifact, err = s.keys.Decrypt(artifact)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt artifact: %w", err)
		}
	}

	gz, err := gzip.NewReader(bytes.NewReader(artifact))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress artifact: %w", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress artifact: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to decompress artifact: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func validateSnapshot(snap *snapshot) error {
	for i := range snap.Items {
		it := &snap.Items[i]
		if it.Id == "" {
			return fmt.Errorf("snapshot item %d has no id: %w", i, common.ErrValidation)
		}
		if it.Title == "" {
			return fmt.Errorf("snapshot item %s has no title: %w", it.Id, common.ErrValidation)
		}
	}
	return nil
}

// List returns the backup history, newest first.
func (s *Service) List(ctx context.Context) ([]models.BackupRecord, error) {
	return s.backupRepo.List(ctx)
}

// Delete removes the record and its artifact. Deleting an absent backup is a
// no-op, not an error.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.backupRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	if rec.ArtifactPath != "" {
		if err := os.Remove(rec.ArtifactPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove artifact: %w", err)
		}
	}
	return s.backupRepo.Delete(ctx, id)
}

// SweepExpired flips completed backups past their expiry to expired and
// removes their artifacts. Returns how many were expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.backupRepo.ExpireOlder(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	for i := range expired {
		if p := expired[i].ArtifactPath; p != "" {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				s.log.Warn(ctx, "failed to remove expired artifact", "path", p, "error", err)
			}
		}
	}
	return len(expired), nil
}

func (s *Service) lockRestore(id string) func() {
	v, _ := s.restoreLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func ratio(compressed, raw int) float64 {
	if raw == 0 {
		return 1.0
	}
	return float64(compressed) / float64(raw)
}
