package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/distlock"
	"github.com/ignite/repogrowth/internal/repository/memory"
	"github.com/ignite/repogrowth/internal/service/digest"
	"github.com/ignite/repogrowth/internal/service/ledger"
	"github.com/ignite/repogrowth/internal/service/repos"
)

type countingDeliverer struct {
	mu    sync.Mutex
	calls map[string]int
}

func (d *countingDeliverer) Deliver(_ context.Context, repo *domain.Repository, job *domain.DigestJob) (domain.DeliveryReport, error) {
	d.mu.Lock()
	d.calls[repo.ID]++
	d.mu.Unlock()
	rep := domain.DeliveryReport{JobID: job.ID}
	for _, a := range job.Recipients {
		rep.Results = append(rep.Results, domain.RecipientResult{Address: a, Outcome: domain.OutcomeDelivered})
	}
	return rep, nil
}

// 2026-03-11 is a Wednesday; the last complete week started 2026-03-02.
var (
	lastWeek = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	today    = time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
)

type env struct {
	repos     *repos.Service
	sched     *digest.Scheduler
	deliverer *countingDeliverer
	weekly    []*domain.Repository
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	before := lastWeek.Add(-24 * time.Hour)
	l := ledger.NewService(memory.NewLedgerStore()).WithClock(func() time.Time { return before })
	d := &countingDeliverer{calls: map[string]int{}}
	sched := digest.NewScheduler(memory.NewDigestStore(), l, l, nil, d, digest.Options{}).
		WithClock(func() time.Time { return today })
	rs := repos.NewService(memory.NewRepoStore(), repos.Defaults{})

	e := &env{repos: rs, sched: sched, deliverer: d}
	for _, name := range []string{"Alpha", "Beta", "Quiet"} {
		freq := domain.DigestWeekly
		if name == "Quiet" {
			freq = domain.DigestNone
		}
		repo, err := rs.Create(ctx, repos.CreateInput{Name: name, OwnerID: "owner", Growth: &domain.GrowthConfig{ForwardThreshold: 3, DigestFrequency: freq}})
		require.NoError(t, err)
		_, err = l.Create(ctx, ledger.Entry{
			RepositoryID: repo.ID, Address: "reader@example.com", Source: domain.SourceManual, AddedBy: "owner", Verified: true,
		})
		require.NoError(t, err)
		if freq == domain.DigestWeekly {
			e.weekly = append(e.weekly, repo)
		}
	}
	return e
}

func (e *env) worker(locks Locker) *DigestWorker {
	w := NewDigestWorker(e.repos, e.sched, locks, DigestWorkerConfig{MaxConcurrent: 2, PageSize: 1})
	w.now = func() time.Time { return today }
	return w
}

func TestDigestWorker_RunOnce(t *testing.T) {
	e := newEnv(t)
	w := e.worker(nil)
	ctx := context.Background()

	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, int64(2), w.Stats()["total_dispatched"])
	for _, repo := range e.weekly {
		assert.Equal(t, 1, e.deliverer.calls[repo.ID])

		jobs, err := e.sched.List(ctx, repo.ID, 0)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, lastWeek, jobs[0].PeriodStart)
		assert.Equal(t, domain.DigestDelivered, jobs[0].Status)
		assert.Equal(t, []string{"reader@example.com"}, jobs[0].Recipients)
	}

	// The same period is never sent twice.
	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, int64(2), w.Stats()["total_dispatched"])
	assert.Equal(t, int64(2), w.Stats()["total_skipped"])
	for _, repo := range e.weekly {
		assert.Equal(t, 1, e.deliverer.calls[repo.ID])
	}
}

func TestDigestWorker_LockHeldElsewhere(t *testing.T) {
	e := newEnv(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locks := distlock.NewFactory(client, nil, time.Minute)
	ctx := context.Background()

	held := locks.Lock("digest:" + e.weekly[0].ID + ":20260302")
	ok, err := held.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	w := e.worker(locks)
	require.NoError(t, w.RunOnce(ctx))
	assert.Zero(t, e.deliverer.calls[e.weekly[0].ID])
	assert.Equal(t, 1, e.deliverer.calls[e.weekly[1].ID])

	require.NoError(t, held.Release(ctx))
	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, 1, e.deliverer.calls[e.weekly[0].ID])
}

func TestDigestWorker_StartStop(t *testing.T) {
	e := newEnv(t)
	w := e.worker(nil)

	w.Start()
	assert.True(t, w.IsRunning())
	require.Eventually(t, func() bool { return w.Stats()["total_dispatched"] == 2 }, time.Second, 5*time.Millisecond)
	w.Stop()
	assert.False(t, w.IsRunning())
}

type fakeFailer struct {
	maxAge time.Duration
	n      int
	err    error
}

func (f *fakeFailer) FailStale(_ context.Context, maxAge time.Duration) (int, error) {
	f.maxAge = maxAge
	return f.n, f.err
}

func TestDigestRecoveryWorker(t *testing.T) {
	f := &fakeFailer{n: 3}
	r := NewDigestRecoveryWorker(f, 0, 0)
	assert.Equal(t, 3, r.RecoverOnce(context.Background()))
	assert.Equal(t, DefaultStaleAge, f.maxAge)

	f.err, f.n = errors.New("db down"), 0
	assert.Zero(t, r.RecoverOnce(context.Background()))
}

type fakeRecoverer struct {
	maxAge time.Duration
	n      int
	err    error
}

func (f *fakeRecoverer) RecoverSnowball(_ context.Context, maxAge time.Duration) (int, error) {
	f.maxAge = maxAge
	return f.n, f.err
}

func TestSnowballRecoveryWorker(t *testing.T) {
	f := &fakeRecoverer{n: 2}
	w := NewSnowballRecoveryWorker(f, 0, 0)
	assert.Equal(t, 2, w.RecoverOnce(context.Background()))
	assert.Equal(t, DefaultSnowballStaleAge, f.maxAge)

	// A failed pass still reports trackers taken back before the error.
	f.err, f.n = errors.New("redis down"), 1
	assert.Equal(t, 1, w.RecoverOnce(context.Background()))
}
