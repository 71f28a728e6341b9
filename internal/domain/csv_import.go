package domain

import "time"

// ImportStatus tracks a CSV import through its lifecycle.
type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
	ImportCancelled  ImportStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal imports are frozen.
func (s ImportStatus) Terminal() bool {
	return s == ImportCompleted || s == ImportFailed || s == ImportCancelled
}

// CSVError is a single row-level failure. Row is 1-indexed, header excluded.
type CSVError struct {
	Row   int    `json:"row"`
	Email string `json:"email"`
	Error string `json:"error"`
}

// CSVImport is the summary record of one upload.
type CSVImport struct {
	ID             string       `json:"id" db:"id"`
	RepositoryID   string       `json:"repository_id" db:"repository_id"`
	ImportedBy     string       `json:"imported_by" db:"imported_by"`
	Filename       string       `json:"filename" db:"filename"`
	RowCount       int          `json:"row_count" db:"row_count"`
	ProcessedRows  int          `json:"processed_rows" db:"processed_rows"`
	SuccessCount   int          `json:"success_count" db:"success_count"`
	DuplicateCount int          `json:"duplicate_count" db:"duplicate_count"`
	ReviewCount    int          `json:"review_count" db:"review_count"`
	ErrorCount     int          `json:"error_count" db:"error_count"`
	Errors         []CSVError   `json:"errors" db:"errors"`
	Status         ImportStatus `json:"status" db:"status"`
	FailureReason  string       `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
}
