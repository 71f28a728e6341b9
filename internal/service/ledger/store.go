package ledger

import (
	"context"
	"time"

	"github.com/ignite/repogrowth/internal/domain"
)

// State is the (active, pending_review) pair a Transition compares on.
type State struct {
	Active        bool
	PendingReview bool
}

// StateOf returns the compare-and-set state of a row.
func StateOf(e *domain.RepositoryEmail) State {
	return State{Active: e.Active, PendingReview: e.PendingReview}
}

// Transition is a conditional change of one row. It applies only while the
// row is still in From; otherwise the store returns ErrConcurrentConflict.
type Transition struct {
	RepositoryID string
	DedupKey     string
	From         State
	To           State

	// Verified is OR-ed into the row; a transition never un-verifies.
	Verified bool
	// UnsubscribedAt is the new value of the column; nil clears it.
	UnsubscribedAt *time.Time
	// ActivatedAt replaces the column when non-nil.
	ActivatedAt *time.Time
	// MergeTags are added to the row's tags; later values win per key.
	MergeTags map[string]string

	At    time.Time
	Event domain.ProvenanceEvent
}

// Store defines the data access contract for the ledger. Implementations
// must make InsertIfAbsent, Transition and MergeTags atomic per row and
// write the accompanying history event in the same operation.
type Store interface {
	// Get returns ErrNotFound when no row exists for the key.
	Get(ctx context.Context, repositoryID, dedupKey string) (*domain.RepositoryEmail, error)

	// InsertIfAbsent creates e unless a row already exists for
	// (e.RepositoryID, e.DedupKey). It reports whether the row was
	// inserted; ev is appended only on insert.
	InsertIfAbsent(ctx context.Context, e *domain.RepositoryEmail, ev domain.ProvenanceEvent) (bool, error)

	// Transition applies t if the row is still in t.From.
	Transition(ctx context.Context, t Transition) error

	// MergeTags adds tags to a row and reports whether anything changed. No
	// history is written when nothing changed.
	MergeTags(ctx context.Context, repositoryID, dedupKey string, tags map[string]string, ev domain.ProvenanceEvent) (bool, error)

	// List returns rows matching f ordered by dedup key.
	List(ctx context.Context, repositoryID string, f domain.EmailFilter) ([]*domain.RepositoryEmail, error)

	// History returns a row's provenance events in append order.
	History(ctx context.Context, repositoryID, dedupKey string) ([]domain.ProvenanceEvent, error)

	// Stats aggregates the repository's rows.
	Stats(ctx context.Context, repositoryID string) (*domain.EmailStats, error)
}
