// Package postgres provides a GORM-backed implementation of
// registry.UploadRegistry against PostgreSQL, with schema managed by
// golang-migrate (see migrate.go).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/registry"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// ApplyDefaults fills in unset fields with the service's defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
}

// DSN returns the PostgreSQL connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Registry is a GORM-backed registry.UploadRegistry.
type Registry struct {
	db *gorm.DB

	mu           sync.Mutex
	stagedHashes []lineHashRow
}

// New opens a PostgreSQL connection per cfg and returns a Registry. It does
// not run migrations; call RunMigrations separately (normally once, from
// the composition root or the `cnabctl migrate` command).
func New(cfg Config) (*Registry, error) {
	cfg.ApplyDefaults()

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	return &Registry{db: db}, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func convertNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return registry.ErrNotFound
	}
	return err
}

func (r *Registry) IsFileUnique(ctx context.Context, fileHash string) (bool, *model.FileUpload, error) {
	var row fileUploadRow
	err := r.db.WithContext(ctx).
		Where("file_hash = ? AND status <> ?", fileHash, string(model.UploadStatusDuplicate)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("query file_uploads by hash: %w", err)
	}
	return false, row.toModel(), nil
}

func (r *Registry) CreatePending(ctx context.Context, fileName, fileHash string, fileSize int64, storagePath string) (*model.FileUpload, error) {
	row := fileUploadRow{
		ID:                 newUUID(),
		FileName:           fileName,
		FileHash:           fileHash,
		FileSize:           fileSize,
		StoragePath:        storagePath,
		Status:             string(model.UploadStatusPending),
		LastCheckpointLine: -1, // no checkpoint yet; RecoveryLoop resumes from 0
		UploadedAt:         time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert pending file_upload: %w", err)
	}
	return row.toModel(), nil
}

func (r *Registry) CreateFailed(ctx context.Context, fileName, fileHash string, fileSize int64, errorMessage string) (*model.FileUpload, error) {
	row := fileUploadRow{
		ID:           newUUID(),
		FileName:     fileName,
		FileHash:     fileHash,
		FileSize:     fileSize,
		Status:       string(model.UploadStatusFailed),
		ErrorMessage: errorMessage,
		UploadedAt:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert failed file_upload: %w", err)
	}
	return row.toModel(), nil
}

func (r *Registry) SetTotalLineCount(ctx context.Context, id string, n int64) error {
	res := r.db.WithContext(ctx).Model(&fileUploadRow{}).Where("id = ?", id).Update("total_line_count", n)
	if res.Error != nil {
		return fmt.Errorf("update total_line_count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (r *Registry) UpdateStatus(ctx context.Context, id string, newStatus model.UploadStatus, retryCount *int, errorMessage *string) error {
	updates := map[string]any{"status": string(newStatus)}
	if retryCount != nil {
		updates["retry_count"] = *retryCount
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	now := time.Now().UTC()
	if newStatus == model.UploadStatusProcessing {
		updates["processing_started_at"] = now
	}
	if newStatus.Terminal() {
		updates["processing_completed_at"] = now
	}

	res := r.db.WithContext(ctx).Model(&fileUploadRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (r *Registry) UpdateCheckpoint(ctx context.Context, id string, lastCheckpointLine, processed, failed, skipped int64) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&fileUploadRow{}).
		Where("id = ? AND last_checkpoint_line <= ?", id, lastCheckpointLine).
		Updates(map[string]any{
			"last_checkpoint_line": lastCheckpointLine,
			"processed_line_count": processed,
			"failed_line_count":    failed,
			"skipped_line_count":   skipped,
			"last_checkpoint_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("update checkpoint: %w", res.Error)
	}
	// RowsAffected == 0 here can mean either "not found" or "the monotonic
	// guard rejected a backward move" — both are a safe no-op for the caller.
	return nil
}

func (r *Registry) RecordLineHash(_ context.Context, uploadID, lineHash, lineContent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stagedHashes = append(r.stagedHashes, lineHashRow{
		FileUploadID: uploadID,
		LineHash:     lineHash,
		LineContent:  lineContent,
	})
	return nil
}

func (r *Registry) CommitLineHashes(ctx context.Context) error {
	r.mu.Lock()
	staged := r.stagedHashes
	r.stagedHashes = nil
	r.mu.Unlock()

	if len(staged) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, h := range staged {
			h.CreatedAt = time.Now().UTC()
			if err := tx.Create(&h).Error; err != nil {
				if isUniqueConstraintError(err) {
					continue // another worker already committed this line hash
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit line hashes: %w", err)
	}
	return nil
}

func (r *Registry) IsLineUnique(ctx context.Context, lineHash string) (bool, error) {
	r.mu.Lock()
	for _, h := range r.stagedHashes {
		if h.LineHash == lineHash {
			r.mu.Unlock()
			return false, nil
		}
	}
	r.mu.Unlock()

	var count int64
	if err := r.db.WithContext(ctx).Model(&lineHashRow{}).Where("line_hash = ?", lineHash).Count(&count).Error; err != nil {
		return false, fmt.Errorf("query line hash uniqueness: %w", err)
	}
	return count == 0, nil
}

func (r *Registry) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	if txn.ID == "" {
		txn.ID = newUUID()
	}
	row := transactionRowFromModel(txn)
	row.CreatedAt = time.Now().UTC()

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueConstraintError(err) {
			return registry.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	txn.CreatedAt = row.CreatedAt
	return nil
}

func (r *Registry) FinaliseResult(ctx context.Context, id string, processed, failed, skipped int64) error {
	var row fileUploadRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return convertNotFound(fmt.Errorf("load file_upload for finalise: %w", err))
	}

	status := registry.FinaliseDecision(row.TotalLineCount, processed, failed, skipped)
	updates := map[string]any{
		"processed_line_count": processed,
		"failed_line_count":    failed,
		"skipped_line_count":   skipped,
		"status":               string(status),
	}
	sum := processed + failed + skipped
	if sum >= row.TotalLineCount {
		updates["last_checkpoint_line"] = sum - 1
	}
	if status.Terminal() {
		updates["processing_completed_at"] = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Model(&fileUploadRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("finalise file_upload: %w", err)
	}
	return nil
}

func (r *Registry) FindStuck(ctx context.Context, timeout time.Duration) ([]*model.FileUpload, error) {
	cutoff := time.Now().UTC().Add(-timeout)

	var rows []fileUploadRow
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []string{
			string(model.UploadStatusSuccess),
			string(model.UploadStatusFailed),
			string(model.UploadStatusDuplicate),
			string(model.UploadStatusPartiallyCompleted),
		}).
		Where("COALESCE(last_checkpoint_at, processing_started_at) < ?", cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query stuck uploads: %w", err)
	}

	out := make([]*model.FileUpload, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *Registry) GetByID(ctx context.Context, id string) (*model.FileUpload, error) {
	var row fileUploadRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, convertNotFound(fmt.Errorf("query file_upload: %w", err))
	}
	return row.toModel(), nil
}

func (r *Registry) List(ctx context.Context, page, pageSize int, filter registry.ListFilter) ([]*model.FileUpload, int64, error) {
	if page < 1 {
		page = 1
	}
	q := r.db.WithContext(ctx).Model(&fileUploadRow{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count file_uploads: %w", err)
	}

	var rows []fileUploadRow
	if err := q.Order("uploaded_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list file_uploads: %w", err)
	}

	out := make([]*model.FileUpload, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, total, nil
}

func (r *Registry) DeleteAllTransactions(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM transactions").Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM file_upload_line_hashes").Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM file_uploads").Error; err != nil {
			return err
		}
		return nil
	})
}

var _ registry.UploadRegistry = (*Registry)(nil)
