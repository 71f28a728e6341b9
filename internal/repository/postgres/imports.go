package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/csvimport"
)

const importColumns = `id, repository_id, imported_by, filename, row_count, processed_rows,
	success_count, duplicate_count, review_count, error_count, errors, status,
	failure_reason, created_at, completed_at`

// ImportStore implements csvimport.Store against PostgreSQL.
type ImportStore struct{ db *sql.DB }

var _ csvimport.Store = (*ImportStore)(nil)

// NewImportStore creates a Postgres-backed import store.
func NewImportStore(db *sql.DB) *ImportStore { return &ImportStore{db: db} }

func scanImport(s scanner) (*domain.CSVImport, error) {
	imp := &domain.CSVImport{}
	var errs []byte
	var completed sql.NullTime
	err := s.Scan(&imp.ID, &imp.RepositoryID, &imp.ImportedBy, &imp.Filename, &imp.RowCount,
		&imp.ProcessedRows, &imp.SuccessCount, &imp.DuplicateCount, &imp.ReviewCount,
		&imp.ErrorCount, &errs, &imp.Status, &imp.FailureReason, &imp.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	imp.CompletedAt = timePtr(completed)
	imp.Errors = []domain.CSVError{}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &imp.Errors); err != nil {
			return nil, fmt.Errorf("decode import errors: %w", err)
		}
	}
	return imp, nil
}

func importErrors(imp *domain.CSVImport) ([]byte, error) {
	if imp.Errors == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(imp.Errors)
}

func (s *ImportStore) Create(ctx context.Context, imp *domain.CSVImport) error {
	errs, err := importErrors(imp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO csv_imports (`+importColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, imp.ID, imp.RepositoryID, imp.ImportedBy, imp.Filename, imp.RowCount, imp.ProcessedRows,
		imp.SuccessCount, imp.DuplicateCount, imp.ReviewCount, imp.ErrorCount, errs, imp.Status,
		imp.FailureReason, imp.CreatedAt, imp.CompletedAt)
	if err != nil {
		return fmt.Errorf("create import: %w", err)
	}
	return nil
}

func (s *ImportStore) Get(ctx context.Context, repositoryID, id string) (*domain.CSVImport, error) {
	imp, err := scanImport(s.db.QueryRowContext(ctx,
		`SELECT `+importColumns+` FROM csv_imports WHERE id = $1 AND repository_id = $2`, id, repositoryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, csvimport.ErrImportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import: %w", err)
	}
	return imp, nil
}

// Update refuses to touch a terminal record; the status predicate makes
// the check and the write one statement.
func (s *ImportStore) Update(ctx context.Context, imp *domain.CSVImport) error {
	errs, err := importErrors(imp)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE csv_imports SET
			row_count = $2, processed_rows = $3, success_count = $4, duplicate_count = $5,
			review_count = $6, error_count = $7, errors = $8, status = $9,
			failure_reason = $10, completed_at = $11
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, imp.ID, imp.RowCount, imp.ProcessedRows, imp.SuccessCount, imp.DuplicateCount,
		imp.ReviewCount, imp.ErrorCount, errs, imp.Status, imp.FailureReason, imp.CompletedAt)
	if err != nil {
		return fmt.Errorf("update import: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM csv_imports WHERE id = $1)`, imp.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check import: %w", err)
	}
	if !exists {
		return csvimport.ErrImportNotFound
	}
	return csvimport.ErrImportFrozen
}

func (s *ImportStore) List(ctx context.Context, repositoryID string, limit int) ([]*domain.CSVImport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+importColumns+` FROM csv_imports
		WHERE repository_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var out []*domain.CSVImport
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}
