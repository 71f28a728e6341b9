package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/repos"
)

// RepoStore is an in-memory repos.Store.
type RepoStore struct {
	mu    sync.Mutex
	byID  map[string]*domain.Repository
	names map[string]string // lowercase name -> id
}

var _ repos.Store = (*RepoStore)(nil)

// NewRepoStore creates an empty store.
func NewRepoStore() *RepoStore {
	return &RepoStore{
		byID:  make(map[string]*domain.Repository),
		names: make(map[string]string),
	}
}

func cloneRepo(r *domain.Repository) *domain.Repository {
	cp := *r
	cp.Moderators = slices.Clone(r.Moderators)
	cp.Growth.AllowedDomains = slices.Clone(r.Growth.AllowedDomains)
	cp.Growth.BlockedDomains = slices.Clone(r.Growth.BlockedDomains)
	if r.ArchivedAt != nil {
		t := *r.ArchivedAt
		cp.ArchivedAt = &t
	}
	return &cp
}

func (s *RepoStore) Create(_ context.Context, r *domain.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.ToLower(r.Name)
	if _, taken := s.names[name]; taken {
		return repos.ErrNameTaken
	}
	s.byID[r.ID] = cloneRepo(r)
	s.names[name] = r.ID
	return nil
}

func (s *RepoStore) Get(_ context.Context, id string) (*domain.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, repos.ErrNotFound
	}
	return cloneRepo(r), nil
}

func (s *RepoStore) GetByName(_ context.Context, name string) (*domain.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.names[strings.ToLower(name)]
	if !ok {
		return nil, repos.ErrNotFound
	}
	return cloneRepo(s.byID[id]), nil
}

func (s *RepoStore) Update(_ context.Context, r *domain.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[r.ID]
	if !ok {
		return repos.ErrNotFound
	}
	oldName, newName := strings.ToLower(cur.Name), strings.ToLower(r.Name)
	if oldName != newName {
		if _, taken := s.names[newName]; taken {
			return repos.ErrNameTaken
		}
		delete(s.names, oldName)
		s.names[newName] = r.ID
	}
	s.byID[r.ID] = cloneRepo(r)
	return nil
}

func (s *RepoStore) List(_ context.Context, f repos.ListFilter) ([]*domain.Repository, error) {
	s.mu.Lock()
	var out []*domain.Repository
	for _, r := range s.byID {
		if !f.IncludeArchived && r.IsArchived() {
			continue
		}
		if f.DigestOnly && (r.Growth.DigestFrequency == "" || r.Growth.DigestFrequency == domain.DigestNone) {
			continue
		}
		out = append(out, cloneRepo(r))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return page(out, f.Offset, f.Limit), nil
}
