package digest

import (
	"context"
	"time"

	"github.com/ignite/repogrowth/internal/domain"
)

// Store persists digest jobs.
type Store interface {
	// CreateIfAbsent inserts job unless one already exists for
	// (RepositoryID, PeriodStart, PeriodEnd). It returns the stored job and
	// whether it was created by this call.
	CreateIfAbsent(ctx context.Context, job *domain.DigestJob) (*domain.DigestJob, bool, error)
	// FindByPeriod returns ErrJobNotFound when no job covers the period.
	FindByPeriod(ctx context.Context, repositoryID string, start, end time.Time) (*domain.DigestJob, error)
	// Get returns ErrJobNotFound when the job doesn't exist.
	Get(ctx context.Context, id string) (*domain.DigestJob, error)
	// SetStatus moves a job from one status to another, returning
	// ErrStatusConflict when it is no longer in from.
	SetStatus(ctx context.Context, id string, from, to domain.DigestStatus, at time.Time) error
	// List returns the repository's jobs, newest period first.
	List(ctx context.Context, repositoryID string, limit int) ([]*domain.DigestJob, error)
	// ListStale returns jobs still in dispatched whose DispatchedAt is
	// before cutoff, oldest first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.DigestJob, error)
}

// ContentRanker picks the top content of a repository for a window.
type ContentRanker interface {
	TopContent(ctx context.Context, repo *domain.Repository, start, end time.Time, limit int) ([]domain.ContentItem, error)
}

// Deliverer hands a job to the mail system and reports per-recipient
// outcomes it already knows about.
type Deliverer interface {
	Deliver(ctx context.Context, repo *domain.Repository, job *domain.DigestJob) (domain.DeliveryReport, error)
}

// RecipientSource lists ledger rows.
type RecipientSource interface {
	List(ctx context.Context, repositoryID string, f domain.EmailFilter) ([]*domain.RepositoryEmail, error)
}

// Deactivator takes bounced addresses out of the active set.
type Deactivator interface {
	Deactivate(ctx context.Context, repositoryID, address string, reason domain.DeactivationReason, actor string) error
}
