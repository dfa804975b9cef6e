// Package datacore is the facade over the data-management engine. It wires
// the repositories and services together and is the only surface the rest of
// the application touches.
package datacore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/akorchak/notekeeper/internal/backup"
	"github.com/akorchak/notekeeper/internal/codec"
	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/config"
	"github.com/akorchak/notekeeper/internal/dbx"
	"github.com/akorchak/notekeeper/internal/exporter"
	"github.com/akorchak/notekeeper/internal/importer"
	"github.com/akorchak/notekeeper/internal/keystore"
	"github.com/akorchak/notekeeper/internal/logging"
	"github.com/akorchak/notekeeper/internal/migrate"
	"github.com/akorchak/notekeeper/internal/models"
	"github.com/akorchak/notekeeper/internal/optimizer"
	"github.com/akorchak/notekeeper/internal/repositories/backups"
	"github.com/akorchak/notekeeper/internal/repositories/items"
	"github.com/akorchak/notekeeper/internal/repositories/metadata"
	"github.com/akorchak/notekeeper/internal/repositories/sessions"
	"github.com/akorchak/notekeeper/internal/repositories/syncops"
	"github.com/akorchak/notekeeper/internal/syncqueue"
	"github.com/akorchak/notekeeper/internal/validator"
)

// DataCore composes the engine's components behind one entry point.
type DataCore struct {
	db    *sql.DB
	items items.Repository
	keys  *keystore.KeyStore

	// deviceId stamps sync operations originated by this process.
	deviceId   string
	maxRetries int

	backups   *backup.Service
	queue     *syncqueue.Queue
	importer  *importer.Service
	exporter  *exporter.Service
	optimizer *optimizer.Service
	validator *validator.Service
	migrator  *migrate.Engine

	log logging.Logger
}

// New wires every component onto the given database handle.
func New(db *sql.DB, cfg *config.Config, log logging.Logger) *DataCore {
	itemRepo := items.NewSQLiteRepository(db)
	backupRepo := backups.NewSQLiteRepository(db)
	syncRepo := syncops.NewSQLiteRepository(db)
	sessionRepo := sessions.NewSQLiteRepository(db)
	metaRepo := metadata.NewSQLiteRepository(db)

	keys := keystore.New()
	backupSvc := backup.NewService(itemRepo, backupRepo, metaRepo, keys,
		cfg.BackupDir, cfg.BackupRetention, log)
	validateSvc := validator.NewService(itemRepo, log)

	deviceId, err := common.MakeRandHexString(6)
	if err != nil {
		deviceId = "local"
	}

	return &DataCore{
		db:         db,
		items:      itemRepo,
		deviceId:   deviceId,
		maxRetries: cfg.SyncMaxRetries,
		keys:       keys,
		backups:    backupSvc,
		queue:      syncqueue.New(syncRepo, itemRepo, cfg.SyncBatchSize, cfg.SyncMaxRetries, cfg.SyncPollInterval, log),
		importer:   importer.NewService(sessionRepo, itemRepo, cfg.ImportWorkers, log),
		exporter:   exporter.NewService(itemRepo, log),
		optimizer:  optimizer.NewService(itemRepo, cfg, log),
		validator:  validateSvc,
		migrator:   migrate.NewEngine(itemRepo, metaRepo, fullBackupAdapter{backupSvc}, validateSvc, log),
		log:        log.With("component", "datacore"),
	}
}

// Run drives the background sync worker until ctx is cancelled.
func (d *DataCore) Run(ctx context.Context) error {
	d.log.Info(ctx, "data core started")
	return d.queue.Run(ctx)
}

// Items exposes the live store for direct CRUD by the calling layer.
func (d *DataCore) Items() items.Repository { return d.items }

// SaveItem upserts the item and journals a matching sync operation in one
// transaction, so a crash can never persist the write without its replay
// record.
func (d *DataCore) SaveItem(ctx context.Context, item *models.Item) error {
	now := time.Now().UTC()
	kind := models.SyncOpUpdate
	if item.Id == "" {
		item.Id = uuid.NewString()
		item.CreatedAt = now
		kind = models.SyncOpCreate
	}
	item.UpdatedAt = now

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode item payload: %w", err)
	}

	return dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := items.NewSQLiteRepository(tx).Upsert(ctx, item); err != nil {
			return err
		}
		return syncops.NewSQLiteRepository(tx).Insert(ctx, d.newOp(kind, item.Id, payload))
	})
}

// DeleteItem removes the item and journals the deletion atomically.
func (d *DataCore) DeleteItem(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := items.NewSQLiteRepository(tx).Delete(ctx, id); err != nil {
			return err
		}
		return syncops.NewSQLiteRepository(tx).Insert(ctx, d.newOp(models.SyncOpDelete, id, nil))
	})
}

func (d *DataCore) newOp(kind models.SyncOpKind, entityId string, payload []byte) *models.SyncOperation {
	return &models.SyncOperation{
		Id:         uuid.NewString(),
		Kind:       kind,
		EntityKind: syncqueue.EntityKindItem,
		EntityId:   entityId,
		Payload:    payload,
		Status:     models.SyncOpPending,
		MaxRetries: d.maxRetries,
		DeviceId:   d.deviceId,
		CreatedAt:  time.Now().UTC(),
	}
}

// Backups.

func (d *DataCore) CreateBackup(ctx context.Context, kind models.BackupKind, opts backup.CreateOptions) (*models.BackupRecord, error) {
	return d.backups.Create(ctx, kind, opts)
}

func (d *DataCore) RestoreFromBackup(ctx context.Context, id string, opts backup.RestoreOptions) error {
	return d.backups.Restore(ctx, id, opts)
}

func (d *DataCore) ListBackups(ctx context.Context) ([]models.BackupRecord, error) {
	return d.backups.List(ctx)
}

func (d *DataCore) DeleteBackup(ctx context.Context, id string) error {
	return d.backups.Delete(ctx, id)
}

func (d *DataCore) SweepExpiredBackups(ctx context.Context) (int, error) {
	return d.backups.SweepExpired(ctx)
}

// Sync queue.

func (d *DataCore) EnqueueSync(ctx context.Context, op models.SyncOperation) (string, error) {
	return d.queue.Enqueue(ctx, op)
}

func (d *DataCore) CancelSync(ctx context.Context, id string) error {
	return d.queue.Cancel(ctx, id)
}

func (d *DataCore) SyncStatus(ctx context.Context) (map[models.SyncOpStatus]int, error) {
	return d.queue.Status(ctx)
}

// Import / export.

func (d *DataCore) StartImport(ctx context.Context, format codec.Format, filename string,
	data []byte, mapping map[string]string) (string, error) {
	return d.importer.Start(ctx, format, filename, data, mapping)
}

func (d *DataCore) ImportStatus(ctx context.Context, sessionId string) (*models.ImportSession, error) {
	return d.importer.Status(ctx, sessionId)
}

func (d *DataCore) CancelImport(sessionId string) {
	d.importer.Cancel(sessionId)
}

func (d *DataCore) SubscribeImport(sessionId string) (<-chan importer.Progress, func()) {
	return d.importer.Subscribe(sessionId)
}

func (d *DataCore) ExportData(ctx context.Context, format codec.Format, opts exporter.Options) (*exporter.Result, error) {
	return d.exporter.Export(ctx, format, opts)
}

// Maintenance.

func (d *DataCore) OptimizeStorage(ctx context.Context) (*optimizer.Report, error) {
	return d.optimizer.Run(ctx)
}

func (d *DataCore) ValidateDataIntegrity(ctx context.Context, opts validator.Options) (*models.ValidationReport, error) {
	return d.validator.Validate(ctx, opts)
}

func (d *DataCore) MigrateData(ctx context.Context, from, to string, opts migrate.Options) (*migrate.Report, error) {
	return d.migrator.Run(ctx, from, to, opts)
}

// Encryption.

func (d *DataCore) SetEncryptionPassphrase(passphrase []byte) {
	d.keys.Init(passphrase)
}

func (d *DataCore) ClearEncryptionKey() {
	d.keys.Clear()
}

func (d *DataCore) Encrypt(plain []byte) ([]byte, error) {
	return d.keys.Encrypt(plain)
}

func (d *DataCore) Decrypt(blob []byte) ([]byte, error) {
	return d.keys.Decrypt(blob)
}

// fullBackupAdapter narrows the backup service to the single call the
// migration engine needs.
type fullBackupAdapter struct {
	svc *backup.Service
}

func (a fullBackupAdapter) CreateFull(ctx context.Context) (string, error) {
	rec, err := a.svc.Create(ctx, models.BackupKindFull, backup.CreateOptions{})
	if err != nil {
		return "", err
	}
	return rec.Id, nil
}
