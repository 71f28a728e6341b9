package worker

import (
	"context"
	"log"
	"time"
)

const (
	// DefaultRecoveryInterval is how often stale jobs are looked for.
	DefaultRecoveryInterval = 5 * time.Minute

	// DefaultStaleAge is how long a job may sit in dispatched before the
	// dispatching process is presumed dead.
	DefaultStaleAge = time.Hour
)

// StaleFailer fails digest jobs stuck in dispatched.
type StaleFailer interface {
	FailStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// DigestRecoveryWorker periodically fails digest jobs whose dispatcher
// crashed between claiming and finishing them.
type DigestRecoveryWorker struct {
	failer   StaleFailer
	interval time.Duration
	staleAge time.Duration
}

// NewDigestRecoveryWorker creates a recovery worker. Zero durations select
// the defaults.
func NewDigestRecoveryWorker(failer StaleFailer, interval, staleAge time.Duration) *DigestRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &DigestRecoveryWorker{failer: failer, interval: interval, staleAge: staleAge}
}

// Start runs the recovery loop. It blocks until ctx is cancelled.
func (r *DigestRecoveryWorker) Start(ctx context.Context) {
	log.Printf("[DigestRecovery] Starting (interval=%s, stale_age=%s)", r.interval, r.staleAge)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DigestRecovery] Stopping")
			return
		case <-ticker.C:
			r.RecoverOnce(ctx)
		}
	}
}

// RecoverOnce runs one pass and returns the number of jobs failed.
func (r *DigestRecoveryWorker) RecoverOnce(ctx context.Context) int {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := r.failer.FailStale(queryCtx, r.staleAge)
	if err != nil {
		log.Printf("[DigestRecovery] error: %v", err)
	}
	if n > 0 {
		log.Printf("[DigestRecovery] failed %d stale digest jobs", n)
	}
	return n
}
