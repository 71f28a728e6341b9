package worker

import (
	"context"
	"log"
	"time"
)

// DefaultSnowballStaleAge is how long a tracker may stay in evaluating
// before its claimant is presumed dead. Evaluation is one gate call, so
// this is far shorter than the digest limit.
const DefaultSnowballStaleAge = 10 * time.Minute

// SnowballRecoverer re-runs abandoned snowball evaluations.
type SnowballRecoverer interface {
	RecoverSnowball(ctx context.Context, maxAge time.Duration) (int, error)
}

// SnowballRecoveryWorker periodically takes back snowball trackers whose
// evaluating process crashed between the claim and the gate's answer.
type SnowballRecoveryWorker struct {
	recoverer SnowballRecoverer
	interval  time.Duration
	staleAge  time.Duration
}

// NewSnowballRecoveryWorker creates a recovery worker. Zero durations select
// the defaults.
func NewSnowballRecoveryWorker(r SnowballRecoverer, interval, staleAge time.Duration) *SnowballRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultSnowballStaleAge
	}
	return &SnowballRecoveryWorker{recoverer: r, interval: interval, staleAge: staleAge}
}

// Start runs the recovery loop. It blocks until ctx is cancelled.
func (w *SnowballRecoveryWorker) Start(ctx context.Context) {
	log.Printf("[SnowballRecovery] Starting (interval=%s, stale_age=%s)", w.interval, w.staleAge)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[SnowballRecovery] Stopping")
			return
		case <-ticker.C:
			w.RecoverOnce(ctx)
		}
	}
}

// RecoverOnce runs one pass and returns the number of trackers taken back.
func (w *SnowballRecoveryWorker) RecoverOnce(ctx context.Context) int {
	passCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := w.recoverer.RecoverSnowball(passCtx, w.staleAge)
	if err != nil {
		log.Printf("[SnowballRecovery] error: %v", err)
	}
	if n > 0 {
		log.Printf("[SnowballRecovery] recovered %d stale trackers", n)
	}
	return n
}
