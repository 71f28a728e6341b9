package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/digest"
)

// DigestStore is an in-memory digest.Store.
type DigestStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.DigestJob
	byPeriod map[string]string
}

var _ digest.Store = (*DigestStore)(nil)

// NewDigestStore creates an empty store.
func NewDigestStore() *DigestStore {
	return &DigestStore{
		jobs:     make(map[string]*domain.DigestJob),
		byPeriod: make(map[string]string),
	}
}

func periodKey(repositoryID string, start, end time.Time) string {
	return repositoryID + "\x00" + start.UTC().Format(time.RFC3339) + "\x00" + end.UTC().Format(time.RFC3339)
}

func cloneJob(j *domain.DigestJob) *domain.DigestJob {
	c := *j
	c.Recipients = slices.Clone(j.Recipients)
	c.Content = slices.Clone(j.Content)
	if j.DispatchedAt != nil {
		t := *j.DispatchedAt
		c.DispatchedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (s *DigestStore) CreateIfAbsent(_ context.Context, job *domain.DigestJob) (*domain.DigestJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := periodKey(job.RepositoryID, job.PeriodStart, job.PeriodEnd)
	if id, ok := s.byPeriod[pk]; ok {
		return cloneJob(s.jobs[id]), false, nil
	}
	s.jobs[job.ID] = cloneJob(job)
	s.byPeriod[pk] = job.ID
	return cloneJob(job), true, nil
}

func (s *DigestStore) FindByPeriod(_ context.Context, repositoryID string, start, end time.Time) (*domain.DigestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPeriod[periodKey(repositoryID, start, end)]
	if !ok {
		return nil, digest.ErrJobNotFound
	}
	return cloneJob(s.jobs[id]), nil
}

func (s *DigestStore) Get(_ context.Context, id string) (*domain.DigestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, digest.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *DigestStore) SetStatus(_ context.Context, id string, from, to domain.DigestStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return digest.ErrJobNotFound
	}
	if j.Status != from {
		return digest.ErrStatusConflict
	}
	j.Status = to
	if to == domain.DigestDispatched {
		j.DispatchedAt = &at
	} else {
		j.FinishedAt = &at
	}
	return nil
}

func (s *DigestStore) List(_ context.Context, repositoryID string, limit int) ([]*domain.DigestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.DigestJob
	for _, j := range s.jobs {
		if j.RepositoryID == repositoryID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.After(out[j].PeriodStart) })
	return page(out, 0, limit), nil
}

func (s *DigestStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*domain.DigestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.DigestJob
	for _, j := range s.jobs {
		if j.Status == domain.DigestDispatched && j.DispatchedAt != nil && j.DispatchedAt.Before(cutoff) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DispatchedAt.Before(*out[j].DispatchedAt) })
	return page(out, 0, limit), nil
}
