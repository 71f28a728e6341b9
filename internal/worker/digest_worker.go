// Package worker runs the background loops of the growth engine: building
// and dispatching periodic digests, and recovering digest jobs left behind
// by a crashed process.
package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/distlock"
	"github.com/ignite/repogrowth/internal/pkg/logger"
	"github.com/ignite/repogrowth/internal/service/digest"
	"github.com/ignite/repogrowth/internal/service/repos"
)

// RepoLister pages through repositories.
type RepoLister interface {
	List(ctx context.Context, f repos.ListFilter) ([]*domain.Repository, error)
}

// DigestRunner builds and dispatches digest jobs.
type DigestRunner interface {
	BuildDigest(ctx context.Context, repo *domain.Repository, start, end time.Time) (*domain.DigestJob, bool, error)
	Dispatch(ctx context.Context, repo *domain.Repository, job *domain.DigestJob) (digest.DispatchSummary, error)
}

// Locker hands out distributed locks.
type Locker interface {
	Lock(key string) distlock.DistLock
}

// DigestWorkerConfig holds configuration for the digest worker.
type DigestWorkerConfig struct {
	PollInterval  time.Duration // how often repositories are scanned
	MaxConcurrent int           // repositories processed in parallel
	PageSize      int           // repositories fetched per List call
}

// DefaultDigestWorkerConfig returns the default configuration.
func DefaultDigestWorkerConfig() DigestWorkerConfig {
	return DigestWorkerConfig{
		PollInterval:  5 * time.Minute,
		MaxConcurrent: 5,
		PageSize:      200,
	}
}

// DigestWorker polls repositories with a digest frequency and runs the
// digest of the last completed period for each. Each (repository, period)
// is processed under a distributed lock.
type DigestWorker struct {
	repos  RepoLister
	runner DigestRunner
	locks  Locker
	cfg    DigestWorkerConfig
	now    func() time.Time

	totalScans      atomic.Int64
	totalDispatched atomic.Int64
	totalSkipped    atomic.Int64
	totalErrors     atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewDigestWorker creates a worker. locks may be nil on a single host.
func NewDigestWorker(repoLister RepoLister, runner DigestRunner, locks Locker, cfg DigestWorkerConfig) *DigestWorker {
	def := DefaultDigestWorkerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	return &DigestWorker{
		repos:  repoLister,
		runner: runner,
		locks:  locks,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start begins polling in the background. The first scan runs immediately.
func (w *DigestWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	log.Printf("[DigestWorker] Starting with poll_interval=%s, max_concurrent=%d",
		w.cfg.PollInterval, w.cfg.MaxConcurrent)

	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop cancels polling and waits for in-flight digests.
func (w *DigestWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	log.Println("[DigestWorker] Stopping...")
	w.wg.Wait()

	s := w.Stats()
	log.Printf("[DigestWorker] Stopped. Stats: scans=%d, dispatched=%d, skipped=%d, errors=%d",
		s["total_scans"], s["total_dispatched"], s["total_skipped"], s["total_errors"])
}

// IsRunning reports whether the worker is polling.
func (w *DigestWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns counters since start.
func (w *DigestWorker) Stats() map[string]int64 {
	return map[string]int64{
		"total_scans":      w.totalScans.Load(),
		"total_dispatched": w.totalDispatched.Load(),
		"total_skipped":    w.totalSkipped.Load(),
		"total_errors":     w.totalErrors.Load(),
	}
}

func (w *DigestWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Error("digest scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce scans every digest-enabled repository once.
func (w *DigestWorker) RunOnce(ctx context.Context) error {
	w.totalScans.Add(1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.MaxConcurrent)

	for offset := 0; ; offset += w.cfg.PageSize {
		page, err := w.repos.List(ctx, repos.ListFilter{DigestOnly: true, Limit: w.cfg.PageSize, Offset: offset})
		if err != nil {
			g.Wait()
			return err
		}
		for _, repo := range page {
			g.Go(func() error {
				w.runRepo(gctx, repo)
				return nil
			})
		}
		if len(page) < w.cfg.PageSize {
			break
		}
	}
	return g.Wait()
}

func (w *DigestWorker) runRepo(ctx context.Context, repo *domain.Repository) {
	start, end, ok := digest.PeriodFor(repo.Growth.DigestFrequency, w.now())
	if !ok {
		w.totalSkipped.Add(1)
		return
	}

	if w.locks != nil {
		lock := w.locks.Lock("digest:" + repo.ID + ":" + start.Format("20060102"))
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			w.totalErrors.Add(1)
			logger.Error("digest lock failed", "repository_id", repo.ID, "error", err)
			return
		}
		if !acquired {
			w.totalSkipped.Add(1)
			return
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	job, _, err := w.runner.BuildDigest(ctx, repo, start, end)
	if err != nil {
		w.totalErrors.Add(1)
		logger.Error("digest build failed", "repository_id", repo.ID, "error", err)
		return
	}
	if job.Status != domain.DigestPending {
		w.totalSkipped.Add(1)
		return
	}

	sum, err := w.runner.Dispatch(ctx, repo, job)
	if err != nil {
		w.totalErrors.Add(1)
		logger.Error("digest dispatch failed", "repository_id", repo.ID, "job_id", job.ID, "error", err)
		return
	}
	w.totalDispatched.Add(1)
	logger.Info("digest dispatched", "repository_id", repo.ID, "job_id", job.ID,
		"status", string(sum.Status), "delivered", sum.Delivered, "bounced", sum.Bounced, "failed", sum.Failed)
}
