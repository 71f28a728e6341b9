package admission

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/logger"
	"github.com/ignite/repogrowth/internal/service/gate"
	"github.com/ignite/repogrowth/internal/service/ledger"
	"github.com/ignite/repogrowth/internal/service/repos"
)

// Outcome is what an admission did to the ledger.
type Outcome string

const (
	OutcomeAdded       Outcome = "added"
	OutcomeReactivated Outcome = "reactivated"
	// OutcomeDuplicate is the silent success of re-adding an active member.
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeReview    Outcome = "review"
	OutcomeRejected  Outcome = "rejected"
	// OutcomeDeferred means nothing was written yet, e.g. a snowball
	// referral below the forward threshold.
	OutcomeDeferred Outcome = "deferred"
)

// Active reports whether the outcome left the address an active member
// because of this request.
func (o Outcome) Active() bool {
	return o == OutcomeAdded || o == OutcomeReactivated
}

// Request is one admission request.
type Request struct {
	Address  string // raw
	Source   domain.Source
	Actor    string
	Verified bool // honored on new rows only
	Tags     map[string]string

	ForwardCount  int
	ReferrerTrust *float64
}

// Result describes what happened.
type Result struct {
	Outcome Outcome                 `json:"outcome"`
	Address string                  `json:"address"`
	Reason  gate.Reason             `json:"reason,omitempty"`
	Email   *domain.RepositoryEmail `json:"email,omitempty"`
}

// Service orchestrates admissions. It is safe for concurrent use.
type Service struct {
	ledger *ledger.Service
	gate   *gate.Gate
}

// NewService wires the ledger and the gate.
func NewService(l *ledger.Service, g *gate.Gate) *Service {
	return &Service{ledger: l, gate: g}
}

// Gate exposes the configured gate.
func (s *Service) Gate() *gate.Gate { return s.gate }

// Ledger exposes the underlying ledger service.
func (s *Service) Ledger() *ledger.Service { return s.ledger }

// Admit runs one request. Address format problems come back as an error
// wrapping datanorm.ErrInvalidFormat. Policy outcomes are never errors. A
// lost insert race is retried once.
func (s *Service) Admit(ctx context.Context, repo *domain.Repository, req Request) (Result, error) {
	if repo.IsArchived() {
		return Result{}, repos.ErrArchived
	}
	addr, err := datanorm.Normalize(req.Address)
	if err != nil {
		return Result{}, err
	}
	req.Tags = tagKeys(req.Tags)

	for attempt := 0; attempt < 2; attempt++ {
		var res Result
		res, err = s.admitOnce(ctx, repo, addr, req)
		if !errors.Is(err, ledger.ErrConcurrentConflict) {
			if err == nil {
				logger.Debug("admission: decided",
					"repository_id", repo.ID, "address", addr,
					"source", string(req.Source), "outcome", string(res.Outcome), "reason", string(res.Reason))
			}
			return res, err
		}
	}
	return Result{}, fmt.Errorf("admit after retry: %w", err)
}

func (s *Service) admitOnce(ctx context.Context, repo *domain.Repository, addr string, req Request) (Result, error) {
	res := Result{Address: addr}

	resolution, row, err := s.ledger.Resolve(ctx, repo.ID, addr)
	if err != nil {
		return res, err
	}

	change := ledger.Change{Source: req.Source, Actor: req.Actor, Tags: req.Tags}

	if resolution == ledger.Active {
		if _, err := s.ledger.MergeTags(ctx, row, change); err != nil {
			return res, err
		}
		res.Outcome = OutcomeDuplicate
		res.Email = row
		return res, nil
	}

	decision := s.gate.Evaluate(repo, gate.Request{
		Address:       addr,
		Source:        req.Source,
		ActorTrusted:  repo.IsTrusted(req.Actor),
		Unsubscribed:  row != nil && row.UnsubscribedAt != nil,
		ForwardCount:  req.ForwardCount,
		ReferrerTrust: req.ReferrerTrust,
	})
	res.Reason = decision.Reason
	change.Reason = string(decision.Reason)

	switch decision.Verdict {
	case gate.Reject:
		res.Outcome = OutcomeRejected
		return res, nil
	case gate.Defer:
		res.Outcome = OutcomeDeferred
		return res, nil
	}

	pending := decision.Verdict == gate.ManualReview
	if pending {
		res.Outcome = OutcomeReview
	}

	if resolution == ledger.New {
		e, err := s.ledger.Create(ctx, ledger.Entry{
			RepositoryID:  repo.ID,
			Address:       addr,
			Source:        req.Source,
			AddedBy:       req.Actor,
			Verified:      req.Verified,
			PendingReview: pending,
			Reason:        change.Reason,
			Tags:          req.Tags,
		})
		if err != nil {
			return res, err
		}
		if !pending {
			res.Outcome = OutcomeAdded
		}
		res.Email = e
		return res, nil
	}

	if pending {
		err = s.ledger.QueueReview(ctx, row, change)
	} else {
		err = s.ledger.Reactivate(ctx, row, change)
		res.Outcome = OutcomeReactivated
	}
	if err != nil {
		return res, err
	}
	res.Email, err = s.ledger.Get(ctx, repo.ID, addr)
	return res, err
}

// tagKeys folds tag keys the way CSV headers are folded, so "Company" from
// the API and "company" from a file land on the same tag. Keys are visited
// in sorted order, so a folded collision keeps the last spelling's value.
func tagKeys(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return tags
	}
	out := make(map[string]string, len(tags))
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		if key := datanorm.HeaderKey(k); key != "" {
			out[key] = tags[k]
		}
	}
	return out
}
