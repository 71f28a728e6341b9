package csvimport

import (
	"context"

	"github.com/ignite/repogrowth/internal/domain"
)

// Store defines the data access contract for import records.
type Store interface {
	// Create persists a new pending import.
	Create(ctx context.Context, imp *domain.CSVImport) error
	// Get returns ErrImportNotFound when the import doesn't exist.
	Get(ctx context.Context, repositoryID, id string) (*domain.CSVImport, error)
	// Update overwrites the record. It returns ErrImportFrozen when the
	// stored record is already terminal.
	Update(ctx context.Context, imp *domain.CSVImport) error
	// List returns the repository's imports, newest first.
	List(ctx context.Context, repositoryID string, limit int) ([]*domain.CSVImport, error)
}
