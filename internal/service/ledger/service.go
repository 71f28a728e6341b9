package ledger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/domain"
)

// Resolution is the answer to "is this address already here?".
type Resolution int

const (
	// New means no row exists; the caller may create one.
	New Resolution = iota
	// Inactive means a row exists with active=false.
	Inactive
	// Active means the address is already a member; re-adding is a no-op.
	Active
)

func (r Resolution) String() string {
	switch r {
	case New:
		return "new"
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	}
	return fmt.Sprintf("resolution(%d)", int(r))
}

// Entry describes a row to create.
type Entry struct {
	RepositoryID  string
	Address       string // normalized
	Source        domain.Source
	AddedBy       string
	Verified      bool
	PendingReview bool
	Reason        string
	Tags          map[string]string
}

// Change is the actor-side description of a transition.
type Change struct {
	Source domain.Source
	Actor  string
	Reason string
	Tags   map[string]string
}

// Service implements ledger semantics over a Store. It is safe for
// concurrent use.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a ledger service backed by the given store.
func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Resolve reports the ledger state of an already-normalized address along
// with the current row when one exists.
func (s *Service) Resolve(ctx context.Context, repositoryID, address string) (Resolution, *domain.RepositoryEmail, error) {
	e, err := s.store.Get(ctx, repositoryID, datanorm.DedupKey(address))
	if errors.Is(err, ErrNotFound) {
		return New, nil, nil
	}
	if err != nil {
		return New, nil, fmt.Errorf("resolve: %w", err)
	}
	if e.Active {
		return Active, e, nil
	}
	return Inactive, e, nil
}

// Create inserts a new row. When another writer won the race, it returns
// ErrConcurrentConflict so the caller can re-resolve.
func (s *Service) Create(ctx context.Context, in Entry) (*domain.RepositoryEmail, error) {
	if !in.Source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidTransition, in.Source)
	}
	now := s.now()
	e := &domain.RepositoryEmail{
		ID:            uuid.New().String(),
		RepositoryID:  in.RepositoryID,
		Address:       in.Address,
		DedupKey:      datanorm.DedupKey(in.Address),
		Source:        in.Source,
		AddedBy:       in.AddedBy,
		Verified:      in.Verified,
		Active:        !in.PendingReview,
		PendingReview: in.PendingReview,
		Tags:          maps.Clone(in.Tags),
		AddedAt:       now,
		UpdatedAt:     now,
	}
	if e.Tags == nil {
		e.Tags = map[string]string{}
	}
	action := domain.ActionCreated
	if in.PendingReview {
		action = domain.ActionReviewQueued
	} else {
		e.ActivatedAt = &now
	}

	ev := s.event(e.RepositoryID, e.DedupKey, action, Change{
		Source: in.Source, Actor: in.AddedBy, Reason: in.Reason, Tags: in.Tags,
	}, now)

	inserted, err := s.store.InsertIfAbsent(ctx, e, ev)
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	if !inserted {
		return nil, ErrConcurrentConflict
	}
	return e, nil
}

// Reactivate brings an inactive row back. It is also how a queued review is
// accepted. Tags merge additively; Source and AddedBy are untouched.
func (s *Service) Reactivate(ctx context.Context, current *domain.RepositoryEmail, c Change) error {
	if current.Active {
		return fmt.Errorf("%w: row is already active", ErrInvalidTransition)
	}
	action := domain.ActionReactivated
	if current.PendingReview {
		action = domain.ActionReviewApprove
	}
	now := s.now()
	return s.store.Transition(ctx, Transition{
		RepositoryID: current.RepositoryID,
		DedupKey:     current.DedupKey,
		From:         StateOf(current),
		To:           State{Active: true},
		ActivatedAt:  &now,
		MergeTags:    c.Tags,
		At:           now,
		Event:        s.event(current.RepositoryID, current.DedupKey, action, c, now),
	})
}

// QueueReview parks an inactive row for owner action. Queuing a row that is
// already queued is a no-op.
func (s *Service) QueueReview(ctx context.Context, current *domain.RepositoryEmail, c Change) error {
	if current.Active {
		return fmt.Errorf("%w: row is active", ErrInvalidTransition)
	}
	if current.PendingReview {
		return nil
	}
	now := s.now()
	return s.store.Transition(ctx, Transition{
		RepositoryID:   current.RepositoryID,
		DedupKey:       current.DedupKey,
		From:           StateOf(current),
		To:             State{PendingReview: true},
		UnsubscribedAt: current.UnsubscribedAt,
		MergeTags:      c.Tags,
		At:             now,
		Event:          s.event(current.RepositoryID, current.DedupKey, domain.ActionReviewQueued, c, now),
	})
}

// Dismiss clears a pending review; the row stays inactive.
func (s *Service) Dismiss(ctx context.Context, current *domain.RepositoryEmail, c Change) error {
	if !current.PendingReview {
		return fmt.Errorf("%w: row is not pending review", ErrInvalidTransition)
	}
	now := s.now()
	return s.store.Transition(ctx, Transition{
		RepositoryID:   current.RepositoryID,
		DedupKey:       current.DedupKey,
		From:           StateOf(current),
		To:             State{},
		UnsubscribedAt: current.UnsubscribedAt,
		At:             now,
		Event:          s.event(current.RepositoryID, current.DedupKey, domain.ActionReviewDismiss, c, now),
	})
}

// Deactivate removes an address from the active set. Unsubscribes and hard
// bounces stamp unsubscribedAt. Deactivating an inactive row is a no-op.
// A lost race is retried once.
func (s *Service) Deactivate(ctx context.Context, repositoryID, address string, reason domain.DeactivationReason, actor string) error {
	key := datanorm.DedupKey(address)
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var e *domain.RepositoryEmail
		e, err = s.store.Get(ctx, repositoryID, key)
		if err != nil {
			return err
		}
		if !e.Active && !e.PendingReview {
			return nil
		}

		now := s.now()
		unsub := e.UnsubscribedAt
		if reason != domain.DeactivateRemoved {
			unsub = &now
		}
		err = s.store.Transition(ctx, Transition{
			RepositoryID:   repositoryID,
			DedupKey:       key,
			From:           StateOf(e),
			To:             State{},
			UnsubscribedAt: unsub,
			At:             now,
			Event: s.event(repositoryID, key, domain.ActionDeactivated, Change{
				Source: e.Source, Actor: actor, Reason: string(reason),
			}, now),
		})
		if !errors.Is(err, ErrConcurrentConflict) {
			return err
		}
	}
	return err
}

// MergeTags adds tags to an existing row, recording history only when the
// tags actually changed.
func (s *Service) MergeTags(ctx context.Context, current *domain.RepositoryEmail, c Change) (bool, error) {
	if len(c.Tags) == 0 {
		return false, nil
	}
	now := s.now()
	ev := s.event(current.RepositoryID, current.DedupKey, domain.ActionTagsMerged, c, now)
	return s.store.MergeTags(ctx, current.RepositoryID, current.DedupKey, c.Tags, ev)
}

// MarkVerified flags an address as verified without changing its state.
func (s *Service) MarkVerified(ctx context.Context, repositoryID, address, actor string) error {
	key := datanorm.DedupKey(address)
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var e *domain.RepositoryEmail
		e, err = s.store.Get(ctx, repositoryID, key)
		if err != nil {
			return err
		}
		if e.Verified {
			return nil
		}
		now := s.now()
		err = s.store.Transition(ctx, Transition{
			RepositoryID:   repositoryID,
			DedupKey:       key,
			From:           StateOf(e),
			To:             StateOf(e),
			Verified:       true,
			UnsubscribedAt: e.UnsubscribedAt,
			At:             now,
			Event:          s.event(repositoryID, key, domain.ActionVerified, Change{Source: e.Source, Actor: actor}, now),
		})
		if !errors.Is(err, ErrConcurrentConflict) {
			return err
		}
	}
	return err
}

// Get returns the current row for an address.
func (s *Service) Get(ctx context.Context, repositoryID, address string) (*domain.RepositoryEmail, error) {
	return s.store.Get(ctx, repositoryID, datanorm.DedupKey(address))
}

// List returns rows matching the filter.
func (s *Service) List(ctx context.Context, repositoryID string, f domain.EmailFilter) ([]*domain.RepositoryEmail, error) {
	return s.store.List(ctx, repositoryID, f)
}

// History returns the provenance log for an address.
func (s *Service) History(ctx context.Context, repositoryID, address string) ([]domain.ProvenanceEvent, error) {
	return s.store.History(ctx, repositoryID, datanorm.DedupKey(address))
}

// Stats aggregates the repository's ledger.
func (s *Service) Stats(ctx context.Context, repositoryID string) (*domain.EmailStats, error) {
	return s.store.Stats(ctx, repositoryID)
}

func (s *Service) event(repositoryID, key string, action domain.ProvenanceAction, c Change, at time.Time) domain.ProvenanceEvent {
	return domain.ProvenanceEvent{
		ID:           uuid.New().String(),
		RepositoryID: repositoryID,
		DedupKey:     key,
		Action:       action,
		Source:       c.Source,
		Actor:        c.Actor,
		Reason:       c.Reason,
		Tags:         maps.Clone(c.Tags),
		At:           at,
	}
}
