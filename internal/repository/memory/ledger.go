package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/ledger"
)

// LedgerStore is an in-memory ledger.Store.
type LedgerStore struct {
	mu      sync.Mutex
	rows    map[string]*domain.RepositoryEmail // keyed by repositoryID + "\x00" + dedupKey
	history map[string][]domain.ProvenanceEvent
}

var _ ledger.Store = (*LedgerStore)(nil)

// NewLedgerStore creates an empty store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		rows:    make(map[string]*domain.RepositoryEmail),
		history: make(map[string][]domain.ProvenanceEvent),
	}
}

func rowKey(repositoryID, dedupKey string) string {
	return repositoryID + "\x00" + dedupKey
}

func (s *LedgerStore) Get(_ context.Context, repositoryID, dedupKey string) (*domain.RepositoryEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[rowKey(repositoryID, dedupKey)]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *LedgerStore) InsertIfAbsent(_ context.Context, e *domain.RepositoryEmail, ev domain.ProvenanceEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rowKey(e.RepositoryID, e.DedupKey)
	if _, exists := s.rows[k]; exists {
		return false, nil
	}
	s.rows[k] = e.Clone()
	s.history[k] = append(s.history[k], ev)
	return true, nil
}

func (s *LedgerStore) Transition(_ context.Context, t ledger.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rowKey(t.RepositoryID, t.DedupKey)
	e, ok := s.rows[k]
	if !ok {
		return ledger.ErrNotFound
	}
	if ledger.StateOf(e) != t.From {
		return ledger.ErrConcurrentConflict
	}

	e.Active = t.To.Active
	e.PendingReview = t.To.PendingReview
	e.Verified = e.Verified || t.Verified
	if t.UnsubscribedAt != nil {
		u := *t.UnsubscribedAt
		e.UnsubscribedAt = &u
	} else {
		e.UnsubscribedAt = nil
	}
	if t.ActivatedAt != nil {
		a := *t.ActivatedAt
		e.ActivatedAt = &a
	}
	if len(t.MergeTags) > 0 {
		if e.Tags == nil {
			e.Tags = make(map[string]string, len(t.MergeTags))
		}
		maps.Copy(e.Tags, t.MergeTags)
	}
	e.UpdatedAt = t.At
	s.history[k] = append(s.history[k], t.Event)
	return nil
}

func (s *LedgerStore) MergeTags(_ context.Context, repositoryID, dedupKey string, tags map[string]string, ev domain.ProvenanceEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rowKey(repositoryID, dedupKey)
	e, ok := s.rows[k]
	if !ok {
		return false, ledger.ErrNotFound
	}

	changed := false
	for tk, tv := range tags {
		if cur, has := e.Tags[tk]; !has || cur != tv {
			changed = true
			break
		}
	}
	if !changed {
		return false, nil
	}
	if e.Tags == nil {
		e.Tags = make(map[string]string, len(tags))
	}
	maps.Copy(e.Tags, tags)
	e.UpdatedAt = ev.At
	s.history[k] = append(s.history[k], ev)
	return true, nil
}

func (s *LedgerStore) List(_ context.Context, repositoryID string, f domain.EmailFilter) ([]*domain.RepositoryEmail, error) {
	s.mu.Lock()
	var out []*domain.RepositoryEmail
	for _, e := range s.rows {
		if e.RepositoryID != repositoryID || !matches(e, f) {
			continue
		}
		out = append(out, e.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DedupKey < out[j].DedupKey })
	return page(out, f.Offset, f.Limit), nil
}

func matches(e *domain.RepositoryEmail, f domain.EmailFilter) bool {
	if !f.IncludeInactive && !f.PendingOnly && !e.Active {
		return false
	}
	if f.PendingOnly && !e.PendingReview {
		return false
	}
	if f.VerifiedOnly && !e.Verified {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.ActivatedBefore != nil {
		if e.ActivatedAt == nil || !e.ActivatedAt.Before(*f.ActivatedBefore) {
			return false
		}
	}
	return true
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func (s *LedgerStore) History(_ context.Context, repositoryID, dedupKey string) ([]domain.ProvenanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[rowKey(repositoryID, dedupKey)]
	out := make([]domain.ProvenanceEvent, len(h))
	copy(out, h)
	return out, nil
}

func (s *LedgerStore) Stats(_ context.Context, repositoryID string) (*domain.EmailStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &domain.EmailStats{BySource: make(map[domain.Source]int)}
	for _, e := range s.rows {
		if e.RepositoryID != repositoryID {
			continue
		}
		st.Total++
		if e.Active {
			st.Active++
		} else {
			st.Inactive++
		}
		if e.Verified {
			st.Verified++
		}
		if e.PendingReview {
			st.PendingReview++
		}
		if e.UnsubscribedAt != nil {
			st.Unsubscribed++
		}
		st.BySource[e.Source]++
	}
	return st, nil
}
