package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/logger"
	"github.com/ignite/repogrowth/internal/service/ledger"
)

const defaultContentLimit = 10

// Options tunes a Scheduler.
type Options struct {
	ContentLimit int
}

// Scheduler builds digest jobs and hands them to the deliverer.
type Scheduler struct {
	store      Store
	recipients RecipientSource
	members    Deactivator
	ranker     ContentRanker
	deliverer  Deliverer
	opts       Options
	now        func() time.Time
}

// NewScheduler wires a scheduler. A nil ranker yields content-free jobs.
func NewScheduler(store Store, recipients RecipientSource, members Deactivator, ranker ContentRanker, deliverer Deliverer, opts Options) *Scheduler {
	if opts.ContentLimit <= 0 {
		opts.ContentLimit = defaultContentLimit
	}
	return &Scheduler{
		store:      store,
		recipients: recipients,
		members:    members,
		ranker:     ranker,
		deliverer:  deliverer,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// BuildDigest returns the job for (repo, [start, end)), creating it on the
// first call. created reports whether this call created it.
func (s *Scheduler) BuildDigest(ctx context.Context, repo *domain.Repository, start, end time.Time) (job *domain.DigestJob, created bool, err error) {
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return nil, false, fmt.Errorf("invalid period %s..%s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	existing, err := s.store.FindByPeriod(ctx, repo.ID, start, end)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		return nil, false, fmt.Errorf("find job: %w", err)
	}

	rows, err := s.recipients.List(ctx, repo.ID, domain.EmailFilter{
		VerifiedOnly:    true,
		ActivatedBefore: &start,
	})
	if err != nil {
		return nil, false, fmt.Errorf("snapshot recipients: %w", err)
	}
	recipients := make([]string, 0, len(rows))
	for _, r := range rows {
		recipients = append(recipients, r.Address)
	}

	content := []domain.ContentItem{}
	if s.ranker != nil {
		items, err := s.ranker.TopContent(ctx, repo, start, end, s.opts.ContentLimit)
		if err != nil {
			return nil, false, fmt.Errorf("rank content: %w", err)
		}
		content = append(content, items...)
	}

	job = &domain.DigestJob{
		ID:           uuid.New().String(),
		RepositoryID: repo.ID,
		PeriodStart:  start,
		PeriodEnd:    end,
		Recipients:   recipients,
		Content:      content,
		Status:       domain.DigestPending,
		CreatedAt:    s.now(),
	}
	stored, created, err := s.store.CreateIfAbsent(ctx, job)
	if err != nil {
		return nil, false, fmt.Errorf("create job: %w", err)
	}
	if created {
		logger.Info("digest: job built",
			"repository_id", repo.ID, "job_id", stored.ID,
			"period_start", start.Format(time.RFC3339), "recipients", len(recipients), "content", len(content))
	}
	return stored, created, nil
}

// DispatchSummary reports what a dispatch did.
type DispatchSummary struct {
	JobID     string              `json:"job_id"`
	Status    domain.DigestStatus `json:"status"`
	Delivered int                 `json:"delivered"`
	Bounced   int                 `json:"bounced"`
	Failed    int                 `json:"failed"`
}

// Dispatch sends a pending job. Jobs already past pending are left alone
// and reported with their current status.
func (s *Scheduler) Dispatch(ctx context.Context, repo *domain.Repository, job *domain.DigestJob) (DispatchSummary, error) {
	sum := DispatchSummary{JobID: job.ID, Status: job.Status}

	if err := s.store.SetStatus(ctx, job.ID, domain.DigestPending, domain.DigestDispatched, s.now()); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			cur, gerr := s.store.Get(ctx, job.ID)
			if gerr == nil {
				sum.Status = cur.Status
			}
			return sum, nil
		}
		return sum, fmt.Errorf("mark dispatched: %w", err)
	}
	sum.Status = domain.DigestDispatched

	if len(job.Recipients) == 0 {
		return s.finish(ctx, sum, domain.DigestDelivered)
	}

	report, err := s.deliverer.Deliver(ctx, repo, job)
	if err != nil {
		logger.Error("digest: delivery failed", "repository_id", repo.ID, "job_id", job.ID, "error", err)
		failed, ferr := s.finish(context.WithoutCancel(ctx), sum, domain.DigestFailed)
		if ferr != nil {
			return failed, ferr
		}
		return failed, fmt.Errorf("deliver: %w", err)
	}

	for _, r := range report.Results {
		switch r.Outcome {
		case domain.OutcomeDelivered:
			sum.Delivered++
		case domain.OutcomeHardBounce:
			sum.Bounced++
			if err := s.deactivate(ctx, repo.ID, r.Address); err != nil {
				return sum, err
			}
		default:
			sum.Failed++
		}
	}

	final := domain.DigestDelivered
	if sum.Delivered == 0 && sum.Failed > 0 {
		final = domain.DigestFailed
	}
	return s.finish(ctx, sum, final)
}

func (s *Scheduler) finish(ctx context.Context, sum DispatchSummary, to domain.DigestStatus) (DispatchSummary, error) {
	if err := s.store.SetStatus(ctx, sum.JobID, domain.DigestDispatched, to, s.now()); err != nil {
		return sum, fmt.Errorf("mark %s: %w", to, err)
	}
	sum.Status = to
	logger.Info("digest: dispatched", "job_id", sum.JobID, "status", string(to),
		"delivered", sum.Delivered, "bounced", sum.Bounced, "failed", sum.Failed)
	return sum, nil
}

// HandleBounce closes the loop for a bounce reported after dispatch. The
// address must have been a recipient of the job.
func (s *Scheduler) HandleBounce(ctx context.Context, jobID, address string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	addr, err := datanorm.Normalize(address)
	if err != nil {
		return err
	}
	key := datanorm.DedupKey(addr)
	for _, r := range job.Recipients {
		if datanorm.DedupKey(r) == key {
			return s.deactivate(ctx, job.RepositoryID, r)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotRecipient, jobID)
}

// RunDue builds and dispatches the last completed period for repo. It
// returns ErrNoDigest when the repository has digests turned off.
func (s *Scheduler) RunDue(ctx context.Context, repo *domain.Repository) (*domain.DigestJob, error) {
	start, end, ok := PeriodFor(repo.Growth.DigestFrequency, s.now())
	if !ok {
		return nil, ErrNoDigest
	}
	job, _, err := s.BuildDigest(ctx, repo, start, end)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.DigestPending {
		if _, err := s.Dispatch(ctx, repo, job); err != nil {
			return job, err
		}
		return s.store.Get(ctx, job.ID)
	}
	return job, nil
}

// FailStale marks jobs stuck in dispatched for longer than maxAge as
// failed. A job is left in dispatched when the process dies mid-delivery;
// it is failed rather than resent so no recipient gets the period twice.
func (s *Scheduler) FailStale(ctx context.Context, maxAge time.Duration) (int, error) {
	now := s.now()
	jobs, err := s.store.ListStale(ctx, now.Add(-maxAge), 0)
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, j := range jobs {
		err := s.store.SetStatus(ctx, j.ID, domain.DigestDispatched, domain.DigestFailed, now)
		if errors.Is(err, ErrStatusConflict) {
			continue
		}
		if err != nil {
			return failed, err
		}
		logger.Warn("stale digest job failed", "job_id", j.ID, "repository_id", j.RepositoryID,
			"dispatched_at", j.DispatchedAt)
		failed++
	}
	return failed, nil
}

// Get returns a job by ID.
func (s *Scheduler) Get(ctx context.Context, id string) (*domain.DigestJob, error) {
	return s.store.Get(ctx, id)
}

// List returns recent jobs for a repository.
func (s *Scheduler) List(ctx context.Context, repositoryID string, limit int) ([]*domain.DigestJob, error) {
	return s.store.List(ctx, repositoryID, limit)
}

func (s *Scheduler) deactivate(ctx context.Context, repositoryID, address string) error {
	err := s.members.Deactivate(ctx, repositoryID, address, domain.DeactivateHardBounce, "digest")
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deactivate bounced address: %w", err)
	}
	logger.Warn("digest: hard bounce", "repository_id", repositoryID, "address", address,
		"error", ErrDeliveryBounce)
	return nil
}
