package postgres

import (
	"time"

	"github.com/cnabflow/ingestor/internal/cnab/model"
)

// fileUploadRow is the GORM row type backing file_uploads.
type fileUploadRow struct {
	ID                    string `gorm:"column:id;primaryKey"`
	FileName              string `gorm:"column:file_name"`
	FileHash              string `gorm:"column:file_hash"`
	FileSize              int64  `gorm:"column:file_size"`
	StoragePath           string `gorm:"column:storage_path"`
	Status                string `gorm:"column:status"`
	TotalLineCount        int64  `gorm:"column:total_line_count"`
	ProcessedLineCount    int64  `gorm:"column:processed_line_count"`
	FailedLineCount       int64  `gorm:"column:failed_line_count"`
	SkippedLineCount      int64  `gorm:"column:skipped_line_count"`
	LastCheckpointLine    int64  `gorm:"column:last_checkpoint_line"`
	LastCheckpointAt      *time.Time `gorm:"column:last_checkpoint_at"`
	ProcessingStartedAt   *time.Time `gorm:"column:processing_started_at"`
	ProcessingCompletedAt *time.Time `gorm:"column:processing_completed_at"`
	UploadedAt            time.Time  `gorm:"column:uploaded_at"`
	RetryCount            int        `gorm:"column:retry_count"`
	ErrorMessage          string     `gorm:"column:error_message"`
}

func (fileUploadRow) TableName() string { return "file_uploads" }

func (r fileUploadRow) toModel() *model.FileUpload {
	return &model.FileUpload{
		ID:                    r.ID,
		FileName:              r.FileName,
		FileHash:              r.FileHash,
		FileSize:              r.FileSize,
		StoragePath:           r.StoragePath,
		Status:                model.UploadStatus(r.Status),
		TotalLineCount:        r.TotalLineCount,
		ProcessedLineCount:    r.ProcessedLineCount,
		FailedLineCount:       r.FailedLineCount,
		SkippedLineCount:      r.SkippedLineCount,
		LastCheckpointLine:    r.LastCheckpointLine,
		LastCheckpointAt:      r.LastCheckpointAt,
		ProcessingStartedAt:   r.ProcessingStartedAt,
		ProcessingCompletedAt: r.ProcessingCompletedAt,
		UploadedAt:            r.UploadedAt,
		RetryCount:            r.RetryCount,
		ErrorMessage:          r.ErrorMessage,
	}
}

// lineHashRow is the GORM row type backing file_upload_line_hashes.
type lineHashRow struct {
	ID           int64  `gorm:"column:id;primaryKey"`
	FileUploadID string `gorm:"column:file_upload_id"`
	LineHash     string `gorm:"column:line_hash"`
	LineContent  string `gorm:"column:line_content"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (lineHashRow) TableName() string { return "file_upload_line_hashes" }

// transactionRow is the GORM row type backing transactions.
type transactionRow struct {
	ID              string    `gorm:"column:id;primaryKey"`
	FileUploadID    *string   `gorm:"column:file_upload_id"`
	IdempotencyKey  string    `gorm:"column:idempotency_key"`
	Type            string    `gorm:"column:type"`
	TransactionDate time.Time `gorm:"column:transaction_date"`
	TransactionTime int64     `gorm:"column:transaction_time"` // nanoseconds since midnight
	AmountCents     int64     `gorm:"column:amount_cents"`
	CPF             string    `gorm:"column:cpf"`
	Card            string    `gorm:"column:card"`
	StoreOwner      string    `gorm:"column:store_owner"`
	StoreName       string    `gorm:"column:store_name"`
	BankCode        string    `gorm:"column:bank_code"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (transactionRow) TableName() string { return "transactions" }

func transactionRowFromModel(t *model.Transaction) *transactionRow {
	return &transactionRow{
		ID:              t.ID,
		FileUploadID:    t.FileUploadID,
		IdempotencyKey:  t.IdempotencyKey,
		Type:            string(t.Type),
		TransactionDate: t.TransactionDate,
		TransactionTime: int64(t.TransactionTime),
		AmountCents:     t.AmountCents,
		CPF:             t.CPF,
		Card:            t.Card,
		StoreOwner:      t.StoreOwner,
		StoreName:       t.StoreName,
		BankCode:        t.BankCode,
	}
}
