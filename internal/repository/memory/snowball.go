package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/snowball"
)

type trackerState struct {
	referrers map[string]struct{}
	tracker   domain.SnowballTracker
}

// SnowballStore is an in-memory snowball.Store.
type SnowballStore struct {
	mu       sync.Mutex
	trackers map[string]*trackerState
	events   map[string][]domain.SnowballEvent // keyed by repositoryID + referred
}

var _ snowball.Store = (*SnowballStore)(nil)

// NewSnowballStore creates an empty store.
func NewSnowballStore() *SnowballStore {
	return &SnowballStore{
		trackers: make(map[string]*trackerState),
		events:   make(map[string][]domain.SnowballEvent),
	}
}

func trackerKey(repositoryID string, epoch int, referred string) string {
	return fmt.Sprintf("%s\x00%d\x00%s", repositoryID, epoch, referred)
}

func (s *SnowballStore) Record(_ context.Context, ev domain.SnowballEvent) (domain.SnowballTracker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := rowKey(ev.RepositoryID, ev.Referred)
	s.events[ek] = append(s.events[ek], ev)

	k := trackerKey(ev.RepositoryID, ev.Epoch, ev.Referred)
	ts, ok := s.trackers[k]
	if !ok {
		ts = &trackerState{
			referrers: make(map[string]struct{}),
			tracker: domain.SnowballTracker{
				RepositoryID: ev.RepositoryID,
				Referred:     ev.Referred,
				Epoch:        ev.Epoch,
				State:        domain.TrackerTracked,
			},
		}
		s.trackers[k] = ts
	}
	_, seen := ts.referrers[ev.Referrer]
	if !seen {
		ts.referrers[ev.Referrer] = struct{}{}
		ts.tracker.Count = len(ts.referrers)
	}
	ts.tracker.UpdatedAt = ev.ObservedAt
	return ts.tracker, !seen, nil
}

func (s *SnowballStore) Tracker(_ context.Context, repositoryID string, epoch int, referred string) (domain.SnowballTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.trackers[trackerKey(repositoryID, epoch, referred)]; ok {
		return ts.tracker, nil
	}
	return domain.SnowballTracker{
		RepositoryID: repositoryID,
		Referred:     referred,
		Epoch:        epoch,
		State:        domain.TrackerUnseen,
	}, nil
}

func (s *SnowballStore) SetState(_ context.Context, repositoryID string, epoch int, referred string, from, to domain.TrackerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.trackers[trackerKey(repositoryID, epoch, referred)]
	if !ok || ts.tracker.State != from {
		return snowball.ErrClaimLost
	}
	ts.tracker.State = to
	ts.tracker.ClaimedAt = nil
	if to == domain.TrackerEvaluating {
		now := time.Now().UTC()
		ts.tracker.ClaimedAt = &now
	}
	return nil
}

func (s *SnowballStore) Events(_ context.Context, repositoryID, referred string, limit int) ([]domain.SnowballEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[rowKey(repositoryID, referred)]
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	return append([]domain.SnowballEvent(nil), evs...), nil
}

func (s *SnowballStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]domain.SnowballTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SnowballTracker
	for _, ts := range s.trackers {
		t := ts.tracker
		if t.State == domain.TrackerEvaluating && t.ClaimedAt != nil && !t.ClaimedAt.After(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(*out[j].ClaimedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
