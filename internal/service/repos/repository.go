package repos

import (
	"context"

	"github.com/ignite/repogrowth/internal/domain"
)

// Store defines the data access contract for repositories.
type Store interface {
	// Create inserts r. Returns ErrNameTaken when the name is in use.
	Create(ctx context.Context, r *domain.Repository) error
	// Get returns ErrNotFound if the repository doesn't exist.
	Get(ctx context.Context, id string) (*domain.Repository, error)
	// GetByName matches names case-insensitively.
	GetByName(ctx context.Context, name string) (*domain.Repository, error)
	// Update persists every mutable field of r.
	Update(ctx context.Context, r *domain.Repository) error
	// List returns repositories ordered by name.
	List(ctx context.Context, f ListFilter) ([]*domain.Repository, error)
}

// ListFilter controls repository listing.
type ListFilter struct {
	IncludeArchived bool
	DigestOnly      bool // only repositories with a digest frequency
	Limit           int
	Offset          int
}
