package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/csvimport"
)

// ImportStore is an in-memory csvimport.Store.
type ImportStore struct {
	mu      sync.Mutex
	imports map[string]*domain.CSVImport
}

var _ csvimport.Store = (*ImportStore)(nil)

// NewImportStore creates an empty store.
func NewImportStore() *ImportStore {
	return &ImportStore{imports: make(map[string]*domain.CSVImport)}
}

func cloneImport(imp *domain.CSVImport) *domain.CSVImport {
	cp := *imp
	cp.Errors = append([]domain.CSVError{}, imp.Errors...)
	if imp.CompletedAt != nil {
		t := *imp.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func (s *ImportStore) Create(_ context.Context, imp *domain.CSVImport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imports[imp.ID] = cloneImport(imp)
	return nil
}

func (s *ImportStore) Get(_ context.Context, repositoryID, id string) (*domain.CSVImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.imports[id]
	if !ok || imp.RepositoryID != repositoryID {
		return nil, csvimport.ErrImportNotFound
	}
	return cloneImport(imp), nil
}

func (s *ImportStore) Update(_ context.Context, imp *domain.CSVImport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.imports[imp.ID]
	if !ok {
		return csvimport.ErrImportNotFound
	}
	if cur.Status.Terminal() {
		return csvimport.ErrImportFrozen
	}
	s.imports[imp.ID] = cloneImport(imp)
	return nil
}

func (s *ImportStore) List(_ context.Context, repositoryID string, limit int) ([]*domain.CSVImport, error) {
	s.mu.Lock()
	var out []*domain.CSVImport
	for _, imp := range s.imports {
		if imp.RepositoryID == repositoryID {
			out = append(out, cloneImport(imp))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, 0, limit), nil
}
