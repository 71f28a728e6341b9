package snowball

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/logger"
	"github.com/ignite/repogrowth/internal/service/admission"
	"github.com/ignite/repogrowth/internal/service/ledger"
)

// Outcome is what one observed event did.
type Outcome string

const (
	// OutcomeDropped: snowball tracking is off for the repository.
	OutcomeDropped Outcome = "dropped"
	// OutcomeIgnored: self-referral or the referrer is not an active member.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeThresholdNotMet: tracked, not yet admitted.
	OutcomeThresholdNotMet Outcome = "threshold_not_met"
	// OutcomeRecorded: the gate already decided; kept for analytics only.
	OutcomeRecorded Outcome = "recorded"
	OutcomeAdmitted Outcome = "admitted"
	OutcomeReview   Outcome = "review"
	OutcomeRejected Outcome = "rejected"
)

// Result reports the effect of Observe.
type Result struct {
	Outcome   Outcome             `json:"outcome"`
	Referred  string              `json:"referred"`
	Count     int                 `json:"count"`
	Threshold int                 `json:"threshold"`
	State     domain.TrackerState `json:"state"`
	Admission *admission.Result   `json:"admission,omitempty"`
}

// Admitter is the admission path used once a threshold is met.
type Admitter interface {
	Admit(ctx context.Context, repo *domain.Repository, req admission.Request) (admission.Result, error)
}

// MemberLookup reads the referrer's ledger row.
type MemberLookup interface {
	Get(ctx context.Context, repositoryID, address string) (*domain.RepositoryEmail, error)
}

// TrustFunc maps a referrer's verification state onto a trust score.
type TrustFunc func(verified bool) float64

// Service observes referral events. It is safe for concurrent use.
type Service struct {
	store    Store
	members  MemberLookup
	admitter Admitter
	trust    TrustFunc
	now      func() time.Time
}

// NewService wires the propagator.
func NewService(store Store, members MemberLookup, admitter Admitter, trust TrustFunc) *Service {
	return &Service{
		store:    store,
		members:  members,
		admitter: admitter,
		trust:    trust,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Observe handles one referral of referred by referrer in repo.
func (s *Service) Observe(ctx context.Context, repo *domain.Repository, referrer, referred string, observedAt time.Time) (Result, error) {
	from, err := datanorm.Normalize(referrer)
	if err != nil {
		return Result{}, fmt.Errorf("referrer: %w", err)
	}
	to, err := datanorm.Normalize(referred)
	if err != nil {
		return Result{}, fmt.Errorf("referred: %w", err)
	}
	res := Result{Referred: to, Threshold: repo.Growth.ForwardThreshold}

	if !repo.Growth.SnowballEnabled || repo.IsArchived() {
		res.Outcome = OutcomeDropped
		return res, nil
	}
	if datanorm.DedupKey(from) == datanorm.DedupKey(to) {
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	member, err := s.members.Get(ctx, repo.ID, from)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && !member.Active) {
		res.Outcome = OutcomeIgnored
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("lookup referrer: %w", err)
	}

	if observedAt.IsZero() {
		observedAt = s.now()
	}
	tracker, _, err := s.store.Record(ctx, domain.SnowballEvent{
		ID:           uuid.New().String(),
		RepositoryID: repo.ID,
		Referrer:     datanorm.DedupKey(from),
		Referred:     datanorm.DedupKey(to),
		Epoch:        repo.Growth.SnowballEpoch,
		ObservedAt:   observedAt.UTC(),
	})
	if err != nil {
		return res, fmt.Errorf("record event: %w", err)
	}
	res.Count = tracker.Count
	res.State = tracker.State

	switch {
	case tracker.State.Terminal() || tracker.State == domain.TrackerEvaluating:
		res.Outcome = OutcomeRecorded
		return res, nil
	case tracker.Count < repo.Growth.ForwardThreshold:
		res.Outcome = OutcomeThresholdNotMet
		return res, nil
	}

	return s.evaluate(ctx, repo, from, member, to, tracker.Count, res)
}

// evaluate claims the tracker for to and runs it through the gate. Exactly
// one caller gets the claim; the rest see OutcomeRecorded.
func (s *Service) evaluate(ctx context.Context, repo *domain.Repository, from string, member *domain.RepositoryEmail, to string, count int, res Result) (Result, error) {
	epoch := repo.Growth.SnowballEpoch
	key := datanorm.DedupKey(to)
	if err := s.store.SetState(ctx, repo.ID, epoch, key, domain.TrackerTracked, domain.TrackerEvaluating); err != nil {
		if errors.Is(err, ErrClaimLost) {
			res.Outcome = OutcomeRecorded
			return res, nil
		}
		return res, fmt.Errorf("claim tracker: %w", err)
	}

	trust := s.trust(member.Verified)
	adm, err := s.admitter.Admit(ctx, repo, admission.Request{
		Address:       to,
		Source:        domain.SourceSnowball,
		Actor:         from,
		ForwardCount:  count,
		ReferrerTrust: &trust,
	})
	if err != nil {
		if rerr := s.store.SetState(context.WithoutCancel(ctx), repo.ID, epoch, key, domain.TrackerEvaluating, domain.TrackerTracked); rerr != nil {
			logger.Error("snowball: failed to release tracker", "repository_id", repo.ID, "referred", to, "error", rerr)
		}
		return res, fmt.Errorf("admit: %w", err)
	}

	final, outcome := terminalFor(adm.Outcome)
	if final == domain.TrackerTracked {
		// Deferred by the gate; leave the tracker open for the next referral.
		if err := s.store.SetState(ctx, repo.ID, epoch, key, domain.TrackerEvaluating, domain.TrackerTracked); err != nil {
			return res, fmt.Errorf("release tracker: %w", err)
		}
		res.Outcome = OutcomeThresholdNotMet
		res.State = domain.TrackerTracked
		res.Admission = &adm
		return res, nil
	}
	if err := s.store.SetState(ctx, repo.ID, epoch, key, domain.TrackerEvaluating, final); err != nil {
		return res, fmt.Errorf("finalize tracker: %w", err)
	}

	logger.Info("snowball: threshold reached",
		"repository_id", repo.ID, "referred", to, "count", count,
		"threshold", repo.Growth.ForwardThreshold, "outcome", string(outcome))

	res.Outcome = outcome
	res.State = final
	res.Admission = &adm
	return res, nil
}

// RepositoryLookup loads the repository a stale tracker belongs to.
type RepositoryLookup interface {
	Get(ctx context.Context, id string) (*domain.Repository, error)
}

const staleBatch = 100

// RecoverStale takes back trackers left in evaluating for longer than maxAge
// by a process that died between claiming and finishing them, and runs them
// through the gate again. Admission is idempotent, so a claim that was only
// slow ends as a duplicate. It returns how many trackers were taken back.
func (s *Service) RecoverStale(ctx context.Context, repos RepositoryLookup, maxAge time.Duration) (int, error) {
	stale, err := s.store.ListStale(ctx, s.now().Add(-maxAge), staleBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale trackers: %w", err)
	}

	n := 0
	for _, t := range stale {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		err := s.store.SetState(ctx, t.RepositoryID, t.Epoch, t.Referred, domain.TrackerEvaluating, domain.TrackerTracked)
		if errors.Is(err, ErrClaimLost) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("release tracker: %w", err)
		}
		n++

		res, err := s.reevaluate(ctx, repos, t)
		if err != nil {
			// The tracker is back in tracked; the next referral retries it.
			logger.Error("snowball: failed to re-evaluate tracker",
				"repository_id", t.RepositoryID, "referred", t.Referred, "error", err)
			continue
		}
		logger.Info("snowball: recovered stale tracker",
			"repository_id", t.RepositoryID, "referred", t.Referred, "outcome", string(res.Outcome))
	}
	return n, nil
}

func (s *Service) reevaluate(ctx context.Context, repos RepositoryLookup, t domain.SnowballTracker) (Result, error) {
	res := Result{Referred: t.Referred, Count: t.Count, State: domain.TrackerTracked}
	repo, err := repos.Get(ctx, t.RepositoryID)
	if err != nil {
		return res, fmt.Errorf("load repository: %w", err)
	}
	res.Threshold = repo.Growth.ForwardThreshold
	switch {
	case !repo.Growth.SnowballEnabled || repo.IsArchived() || repo.Growth.SnowballEpoch != t.Epoch:
		res.Outcome = OutcomeDropped
		return res, nil
	case t.Count < repo.Growth.ForwardThreshold:
		res.Outcome = OutcomeThresholdNotMet
		return res, nil
	}

	// The gate is consulted on behalf of the most recent referrer that is
	// still an active member.
	evs, err := s.store.Events(ctx, repo.ID, t.Referred, 0)
	if err != nil {
		return res, fmt.Errorf("list events: %w", err)
	}
	for i := len(evs) - 1; i >= 0; i-- {
		ev := evs[i]
		if ev.Epoch != t.Epoch {
			continue
		}
		member, err := s.members.Get(ctx, repo.ID, ev.Referrer)
		if errors.Is(err, ledger.ErrNotFound) || (err == nil && !member.Active) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("lookup referrer: %w", err)
		}
		return s.evaluate(ctx, repo, ev.Referrer, member, t.Referred, t.Count, res)
	}
	res.Outcome = OutcomeIgnored
	return res, nil
}

// Tracker returns the current-epoch tracker for an address.
func (s *Service) Tracker(ctx context.Context, repo *domain.Repository, referred string) (domain.SnowballTracker, error) {
	to, err := datanorm.Normalize(referred)
	if err != nil {
		return domain.SnowballTracker{}, err
	}
	return s.store.Tracker(ctx, repo.ID, repo.Growth.SnowballEpoch, datanorm.DedupKey(to))
}

// Events returns recorded referrals of an address across epochs.
func (s *Service) Events(ctx context.Context, repo *domain.Repository, referred string, limit int) ([]domain.SnowballEvent, error) {
	to, err := datanorm.Normalize(referred)
	if err != nil {
		return nil, err
	}
	return s.store.Events(ctx, repo.ID, datanorm.DedupKey(to), limit)
}

func terminalFor(o admission.Outcome) (domain.TrackerState, Outcome) {
	switch o {
	case admission.OutcomeAdded, admission.OutcomeReactivated, admission.OutcomeDuplicate:
		return domain.TrackerAdmitted, OutcomeAdmitted
	case admission.OutcomeReview:
		return domain.TrackerReview, OutcomeReview
	case admission.OutcomeRejected:
		return domain.TrackerRejected, OutcomeRejected
	}
	return domain.TrackerTracked, OutcomeThresholdNotMet
}
