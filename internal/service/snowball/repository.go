package snowball

import (
	"context"
	"time"

	"github.com/ignite/repogrowth/internal/domain"
)

// Store persists snowball events and trackers.
type Store interface {
	// Record appends ev and adds ev.Referrer to the distinct-referrer set
	// for (repository, epoch, referred) in one atomic step. It returns the
	// tracker after the change and whether the referrer was new.
	Record(ctx context.Context, ev domain.SnowballEvent) (domain.SnowballTracker, bool, error)

	// Tracker returns the tracker for a referred address. A missing tracker
	// comes back with State unseen and Count 0.
	Tracker(ctx context.Context, repositoryID string, epoch int, referred string) (domain.SnowballTracker, error)

	// SetState moves the tracker from one state to another, returning
	// ErrClaimLost when it was not in from. Moving to evaluating stamps the
	// claim time that ListStale filters on.
	SetState(ctx context.Context, repositoryID string, epoch int, referred string, from, to domain.TrackerState) error

	// Events returns the most recent events for a referred address, newest
	// last.
	Events(ctx context.Context, repositoryID, referred string, limit int) ([]domain.SnowballEvent, error)

	// ListStale returns up to limit trackers still in evaluating whose claim
	// is older than cutoff, oldest claim first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.SnowballTracker, error)
}
