// Package model defines the data types shared across the ingestion pipeline:
// parsed transaction records, the FileUpload aggregate, and the supporting
// rows used for per-line idempotency.
package model

import "time"

// TransactionType is the one-character CNAB transaction type code.
type TransactionType byte

const (
	TransactionTypeDebit        TransactionType = '1'
	TransactionTypeBoleto       TransactionType = '2'
	TransactionTypeFinancing    TransactionType = '3'
	TransactionTypeCredit       TransactionType = '4'
	TransactionTypeLoanReceipt  TransactionType = '5'
	TransactionTypeSales        TransactionType = '6'
	TransactionTypeTEDReceipt   TransactionType = '7'
	TransactionTypeDOCReceipt   TransactionType = '8'
	TransactionTypeRent         TransactionType = '9'
)

// Nature returns the human-readable description of the transaction type.
func (t TransactionType) Nature() string {
	switch t {
	case TransactionTypeDebit:
		return "Debit"
	case TransactionTypeBoleto:
		return "Boleto"
	case TransactionTypeFinancing:
		return "Financing"
	case TransactionTypeCredit:
		return "Credit"
	case TransactionTypeLoanReceipt:
		return "Loan receipt"
	case TransactionTypeSales:
		return "Sales"
	case TransactionTypeTEDReceipt:
		return "TED receipt"
	case TransactionTypeDOCReceipt:
		return "DOC receipt"
	case TransactionTypeRent:
		return "Rent"
	default:
		return "Unknown"
	}
}

// Sign returns +1 or -1, the sign this transaction type contributes to a
// CPF's running balance.
func (t TransactionType) Sign() int {
	switch t {
	case TransactionTypeBoleto, TransactionTypeFinancing, TransactionTypeRent:
		return -1
	default:
		return 1
	}
}

// Valid reports whether t is one of the nine known transaction type codes.
func (t TransactionType) Valid() bool {
	return t >= '1' && t <= '9'
}

// TransactionRecord is a single decoded CNAB line.
type TransactionRecord struct {
	Type            TransactionType
	TransactionDate time.Time // UTC midnight, calendar date only
	TransactionTime time.Duration // time-of-day as a duration since midnight; may exceed 24h, see Parser
	AmountCents     int64 // fixed-point, scale 2
	CPF             string
	Card            string
	StoreOwner      string
	StoreName       string
	BankCode        string // currently equals Type, kept distinct per spec
}

// Amount returns the decimal amount (AmountCents / 100).
func (r TransactionRecord) Amount() float64 {
	return float64(r.AmountCents) / 100.0
}

// UploadStatus is the FileUpload lifecycle state.
type UploadStatus string

const (
	UploadStatusPending            UploadStatus = "Pending"
	UploadStatusProcessing         UploadStatus = "Processing"
	UploadStatusSuccess            UploadStatus = "Success"
	UploadStatusFailed             UploadStatus = "Failed"
	UploadStatusDuplicate          UploadStatus = "Duplicate"
	UploadStatusPartiallyCompleted UploadStatus = "PartiallyCompleted"
)

// Terminal reports whether the status never transitions further (except via
// the admin "clear all" operation).
func (s UploadStatus) Terminal() bool {
	switch s {
	case UploadStatusSuccess, UploadStatusFailed, UploadStatusDuplicate, UploadStatusPartiallyCompleted:
		return true
	default:
		return false
	}
}

// FileUpload is the aggregate root of the ingestion pipeline.
type FileUpload struct {
	ID                     string
	FileName               string
	FileHash               string
	FileSize               int64
	StoragePath            string
	Status                 UploadStatus
	TotalLineCount         int64
	ProcessedLineCount     int64
	FailedLineCount        int64
	SkippedLineCount       int64
	LastCheckpointLine     int64
	LastCheckpointAt       *time.Time
	ProcessingStartedAt    *time.Time
	ProcessingCompletedAt  *time.Time
	UploadedAt             time.Time
	RetryCount             int
	ErrorMessage           string
}

// ProgressPercentage implements the wire projection formula from the
// external interface contract.
func (f FileUpload) ProgressPercentage() float64 {
	if f.TotalLineCount <= 0 {
		return 0
	}
	done := f.ProcessedLineCount + f.FailedLineCount + f.SkippedLineCount
	return 100 * float64(done) / float64(f.TotalLineCount)
}

// FileUploadLineHash records a per-line fingerprint used to short-circuit
// re-processing of a line that has already been persisted.
type FileUploadLineHash struct {
	FileUploadID string
	LineHash     string
	LineContent  string
}

// Transaction is one persisted TransactionRecord.
type Transaction struct {
	ID              string
	FileUploadID    *string
	IdempotencyKey  string
	Type            TransactionType
	TransactionDate time.Time
	TransactionTime time.Duration
	AmountCents     int64
	CPF             string
	Card            string
	StoreOwner      string
	StoreName       string
	BankCode        string
	CreatedAt       time.Time
}
