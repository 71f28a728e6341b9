package admission

import (
	"context"
	"fmt"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/logger"
	"github.com/ignite/repogrowth/internal/service/gate"
	"github.com/ignite/repogrowth/internal/service/ledger"
	"github.com/ignite/repogrowth/internal/service/repos"
)

// PendingReviews lists the review queue.
func (s *Service) PendingReviews(ctx context.Context, repo *domain.Repository) ([]*domain.RepositoryEmail, error) {
	return s.ledger.List(ctx, repo.ID, domain.EmailFilter{PendingOnly: true})
}

// ApproveReview activates a queued address. Only the owner or a moderator
// may approve, and domain rules still apply.
func (s *Service) ApproveReview(ctx context.Context, repo *domain.Repository, address, actor string) (*domain.RepositoryEmail, error) {
	row, err := s.pending(ctx, repo, address, actor)
	if err != nil {
		return nil, err
	}

	d := s.gate.Evaluate(repo, gate.Request{Address: row.Address, Source: domain.SourceManual, ActorTrusted: true})
	if d.Verdict == gate.Reject {
		return nil, d.Err()
	}

	if err := s.ledger.Reactivate(ctx, row, ledger.Change{Source: domain.SourceManual, Actor: actor}); err != nil {
		return nil, err
	}
	logger.Info("admission: review approved", "repository_id", repo.ID, "address", row.Address, "actor", actor)
	return s.ledger.Get(ctx, repo.ID, row.Address)
}

// DismissReview clears a queued address without activating it.
func (s *Service) DismissReview(ctx context.Context, repo *domain.Repository, address, actor string) error {
	row, err := s.pending(ctx, repo, address, actor)
	if err != nil {
		return err
	}
	if err := s.ledger.Dismiss(ctx, row, ledger.Change{Source: domain.SourceManual, Actor: actor}); err != nil {
		return err
	}
	logger.Info("admission: review dismissed", "repository_id", repo.ID, "address", row.Address, "actor", actor)
	return nil
}

// Remove takes an address out of the active set on behalf of the owner or
// a moderator.
func (s *Service) Remove(ctx context.Context, repo *domain.Repository, address, actor string) error {
	if !repo.IsTrusted(actor) {
		return repos.ErrNotAuthorized
	}
	addr, err := datanorm.Normalize(address)
	if err != nil {
		return err
	}
	return s.ledger.Deactivate(ctx, repo.ID, addr, domain.DeactivateRemoved, actor)
}

// Unsubscribe records the address owner's opt-out.
func (s *Service) Unsubscribe(ctx context.Context, repo *domain.Repository, address string) error {
	addr, err := datanorm.Normalize(address)
	if err != nil {
		return err
	}
	return s.ledger.Deactivate(ctx, repo.ID, addr, domain.DeactivateUnsubscribe, addr)
}

func (s *Service) pending(ctx context.Context, repo *domain.Repository, address, actor string) (*domain.RepositoryEmail, error) {
	if !repo.IsTrusted(actor) {
		return nil, repos.ErrNotAuthorized
	}
	addr, err := datanorm.Normalize(address)
	if err != nil {
		return nil, err
	}
	row, err := s.ledger.Get(ctx, repo.ID, addr)
	if err != nil {
		return nil, err
	}
	if !row.PendingReview {
		return nil, fmt.Errorf("%w: %s is not pending review", ledger.ErrInvalidTransition, addr)
	}
	return row, nil
}
