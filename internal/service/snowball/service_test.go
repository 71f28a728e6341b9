package snowball_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/repository/memory"
	"github.com/ignite/repogrowth/internal/service/admission"
	"github.com/ignite/repogrowth/internal/service/gate"
	"github.com/ignite/repogrowth/internal/service/ledger"
	"github.com/ignite/repogrowth/internal/service/snowball"
)

// countingAdmitter records how often the gate path is entered.
type countingAdmitter struct {
	inner *admission.Service
	mu    sync.Mutex
	calls int
}

func (c *countingAdmitter) Admit(ctx context.Context, repo *domain.Repository, req admission.Request) (admission.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Admit(ctx, repo, req)
}

func (c *countingAdmitter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fixture struct {
	svc      *snowball.Service
	ledger   *ledger.Service
	admitter *countingAdmitter
	repo     *domain.Repository
}

func newFixture(t *testing.T, members ...string) *fixture {
	t.Helper()
	l := ledger.NewService(memory.NewLedgerStore())
	g := gate.New(gate.Policy{BaseCSVTrustScore: 0.5, SnowballBaseScore: 0.4, VerifiedReferrerTrust: 0.9})
	adm := &countingAdmitter{inner: admission.NewService(l, g)}
	repo := &domain.Repository{
		ID: "r1", OwnerID: "owner",
		Growth: domain.GrowthConfig{
			SnowballEnabled:  true,
			SnowballEpoch:    1,
			ForwardThreshold: 3,
			QualityThreshold: 0.4,
			BlockedDomains:   []string{"spam.com"},
		},
	}
	for _, m := range members {
		_, err := l.Create(context.Background(), ledger.Entry{RepositoryID: repo.ID, Address: m, Source: domain.SourceManual, AddedBy: "owner"})
		require.NoError(t, err)
	}
	return &fixture{
		svc:      snowball.NewService(memory.NewSnowballStore(), l, adm, g.ReferrerTrust),
		ledger:   l,
		admitter: adm,
		repo:     repo,
	}
}

func (f *fixture) observe(t *testing.T, referrer, referred string) snowball.Result {
	t.Helper()
	res, err := f.svc.Observe(context.Background(), f.repo, referrer, referred, time.Time{})
	require.NoError(t, err)
	return res
}

func members(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("m%d@example.com", i)
	}
	return out
}

func TestObserve_ThresholdExactness(t *testing.T) {
	m := members(4)
	f := newFixture(t, m...)

	r := f.observe(t, m[0], "new@example.com")
	assert.Equal(t, snowball.OutcomeThresholdNotMet, r.Outcome)
	assert.Equal(t, 1, r.Count)

	r = f.observe(t, m[1], "new@example.com")
	assert.Equal(t, snowball.OutcomeThresholdNotMet, r.Outcome)
	assert.Equal(t, 2, r.Count)
	assert.Equal(t, 0, f.admitter.Calls(), "gate is not consulted below threshold")

	_, err := f.ledger.Get(context.Background(), f.repo.ID, "new@example.com")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	r = f.observe(t, m[2], "new@example.com")
	assert.Equal(t, snowball.OutcomeAdmitted, r.Outcome)
	assert.Equal(t, 3, r.Count)
	assert.Equal(t, domain.TrackerAdmitted, r.State)
	assert.Equal(t, 1, f.admitter.Calls())

	row, err := f.ledger.Get(context.Background(), f.repo.ID, "new@example.com")
	require.NoError(t, err)
	assert.True(t, row.Active)
	assert.Equal(t, domain.SourceSnowball, row.Source)
	assert.Equal(t, m[2], row.AddedBy)

	r = f.observe(t, m[3], "new@example.com")
	assert.Equal(t, snowball.OutcomeRecorded, r.Outcome)
	assert.Equal(t, 4, r.Count)
	assert.Equal(t, 1, f.admitter.Calls(), "a 4th referral does not re-trigger the gate")

	evs, err := f.svc.Events(context.Background(), f.repo, "new@example.com", 0)
	require.NoError(t, err)
	assert.Len(t, evs, 4)
}

func TestObserve_DistinctReferrers(t *testing.T) {
	m := members(2)
	f := newFixture(t, m...)

	for i := 0; i < 5; i++ {
		r := f.observe(t, m[0], "dup@example.com")
		assert.Equal(t, 1, r.Count)
	}
	r := f.observe(t, "M0@EXAMPLE.com", "dup@example.com")
	assert.Equal(t, 1, r.Count, "referrer identity uses the dedup key")

	r = f.observe(t, m[1], "DUP@example.com")
	assert.Equal(t, 2, r.Count)
	assert.Equal(t, snowball.OutcomeThresholdNotMet, r.Outcome)
}

func TestObserve_IgnoresNonMembersAndSelf(t *testing.T) {
	m := members(1)
	f := newFixture(t, m...)

	r := f.observe(t, "stranger@example.com", "x@example.com")
	assert.Equal(t, snowball.OutcomeIgnored, r.Outcome)

	r = f.observe(t, m[0], m[0])
	assert.Equal(t, snowball.OutcomeIgnored, r.Outcome)

	require.NoError(t, f.ledger.Deactivate(context.Background(), f.repo.ID, m[0], domain.DeactivateUnsubscribe, m[0]))
	r = f.observe(t, m[0], "x@example.com")
	assert.Equal(t, snowball.OutcomeIgnored, r.Outcome)
}

func TestObserve_DisabledDropsAndReenableRestarts(t *testing.T) {
	m := members(3)
	f := newFixture(t, m...)

	f.observe(t, m[0], "late@example.com")
	f.observe(t, m[1], "late@example.com")

	f.repo.Growth.SnowballEnabled = false
	r := f.observe(t, m[2], "late@example.com")
	assert.Equal(t, snowball.OutcomeDropped, r.Outcome)

	// re-enable starts a new epoch
	f.repo.Growth.SnowballEnabled = true
	f.repo.Growth.SnowballEpoch++
	r = f.observe(t, m[2], "late@example.com")
	assert.Equal(t, snowball.OutcomeThresholdNotMet, r.Outcome)
	assert.Equal(t, 1, r.Count)

	tr, err := f.svc.Tracker(context.Background(), f.repo, "late@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Count)
	assert.Equal(t, 2, tr.Epoch)
}

func TestObserve_BlockedDomainRejectedAtThreshold(t *testing.T) {
	m := members(4)
	f := newFixture(t, m...)

	f.observe(t, m[0], "x@spam.com")
	f.observe(t, m[1], "x@spam.com")
	r := f.observe(t, m[2], "x@spam.com")
	assert.Equal(t, snowball.OutcomeRejected, r.Outcome)
	assert.Equal(t, domain.TrackerRejected, r.State)
	require.NotNil(t, r.Admission)
	assert.Equal(t, gate.ReasonBlockedDomain, r.Admission.Reason)

	r = f.observe(t, m[3], "x@spam.com")
	assert.Equal(t, snowball.OutcomeRecorded, r.Outcome)
	assert.Equal(t, 1, f.admitter.Calls())
}

func TestObserve_LowTrustGoesToReview(t *testing.T) {
	m := members(3)
	f := newFixture(t, m...)
	f.repo.Growth.QualityThreshold = 0.8 // base score 0.4, verified 0.9

	f.observe(t, m[0], "r@example.com")
	f.observe(t, m[1], "r@example.com")
	r := f.observe(t, m[2], "r@example.com")
	assert.Equal(t, snowball.OutcomeReview, r.Outcome)

	row, err := f.ledger.Get(context.Background(), f.repo.ID, "r@example.com")
	require.NoError(t, err)
	assert.True(t, row.PendingReview)
	assert.False(t, row.Active)
}

func TestObserve_VerifiedReferrerMeetsQuality(t *testing.T) {
	m := members(3)
	f := newFixture(t, m...)
	f.repo.Growth.QualityThreshold = 0.8
	require.NoError(t, f.ledger.MarkVerified(context.Background(), f.repo.ID, m[2], "owner"))

	f.observe(t, m[0], "v@example.com")
	f.observe(t, m[1], "v@example.com")
	r := f.observe(t, m[2], "v@example.com")
	assert.Equal(t, snowball.OutcomeAdmitted, r.Outcome)
}

func TestObserve_ConcurrentSingleGateCall(t *testing.T) {
	m := members(10)
	f := newFixture(t, m...)
	f.repo.Growth.ForwardThreshold = 2

	var wg sync.WaitGroup
	for _, ref := range m {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			_, err := f.svc.Observe(context.Background(), f.repo, ref, "hot@example.com", time.Time{})
			assert.NoError(t, err)
		}(ref)
	}
	wg.Wait()

	assert.Equal(t, 1, f.admitter.Calls())
	tr, err := f.svc.Tracker(context.Background(), f.repo, "hot@example.com")
	require.NoError(t, err)
	assert.Equal(t, 10, tr.Count)
	assert.Equal(t, domain.TrackerAdmitted, tr.State)
}

func TestObserve_InvalidAddresses(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Observe(context.Background(), f.repo, "bad", "x@example.com", time.Time{})
	assert.True(t, errors.Is(err, datanorm.ErrInvalidFormat))
	_, err = f.svc.Observe(context.Background(), f.repo, "x@example.com", "user@", time.Time{})
	assert.True(t, errors.Is(err, datanorm.ErrInvalidFormat))
}

type repoTable map[string]*domain.Repository

func (r repoTable) Get(_ context.Context, id string) (*domain.Repository, error) {
	if repo, ok := r[id]; ok {
		return repo, nil
	}
	return nil, errors.New("repository not found")
}

func TestRecoverStale_ReclaimsAbandonedEvaluation(t *testing.T) {
	m := members(3)
	f := newFixture(t, m...)
	store := memory.NewSnowballStore()
	g := gate.New(gate.Policy{BaseCSVTrustScore: 0.5, SnowballBaseScore: 0.4, VerifiedReferrerTrust: 0.9})
	svc := snowball.NewService(store, f.ledger, f.admitter, g.ReferrerTrust)
	ctx := context.Background()
	key := "new@example.com"

	// Two referrals land, then the process that claimed the third dies
	// before reaching the gate.
	for _, from := range m[:2] {
		_, err := svc.Observe(ctx, f.repo, from, key, time.Time{})
		require.NoError(t, err)
	}
	_, _, err := store.Record(ctx, domain.SnowballEvent{
		ID: "ev3", RepositoryID: f.repo.ID, Referrer: m[2], Referred: key,
		Epoch: f.repo.Growth.SnowballEpoch, ObservedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, store.SetState(ctx, f.repo.ID, f.repo.Growth.SnowballEpoch, key, domain.TrackerTracked, domain.TrackerEvaluating))

	r, err := svc.Observe(ctx, f.repo, m[0], key, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, snowball.OutcomeRecorded, r.Outcome, "a live claim is left alone")
	assert.Zero(t, f.admitter.Calls())

	repos := repoTable{f.repo.ID: f.repo}
	n, err := svc.RecoverStale(ctx, repos, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "claim is younger than the stale age")

	n, err = svc.RecoverStale(ctx, repos, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.admitter.Calls())

	tr, err := svc.Tracker(ctx, f.repo, key)
	require.NoError(t, err)
	assert.Equal(t, domain.TrackerAdmitted, tr.State)
	assert.Nil(t, tr.ClaimedAt)

	e, err := f.ledger.Get(ctx, f.repo.ID, key)
	require.NoError(t, err)
	assert.True(t, e.Active)
	assert.Equal(t, domain.SourceSnowball, e.Source)

	n, err = svc.RecoverStale(ctx, repos, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecoverStale_ReleasesWhenSnowballDisabled(t *testing.T) {
	m := members(3)
	f := newFixture(t, m...)
	store := memory.NewSnowballStore()
	g := gate.New(gate.Policy{BaseCSVTrustScore: 0.5, SnowballBaseScore: 0.4, VerifiedReferrerTrust: 0.9})
	svc := snowball.NewService(store, f.ledger, f.admitter, g.ReferrerTrust)
	ctx := context.Background()
	key := "new@example.com"

	for _, from := range m {
		_, _, err := store.Record(ctx, domain.SnowballEvent{
			ID: from, RepositoryID: f.repo.ID, Referrer: from, Referred: key,
			Epoch: f.repo.Growth.SnowballEpoch, ObservedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.SetState(ctx, f.repo.ID, f.repo.Growth.SnowballEpoch, key, domain.TrackerTracked, domain.TrackerEvaluating))

	f.repo.Growth.SnowballEnabled = false
	n, err := svc.RecoverStale(ctx, repoTable{f.repo.ID: f.repo}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.admitter.Calls())

	tr, err := svc.Tracker(ctx, f.repo, key)
	require.NoError(t, err)
	assert.Equal(t, domain.TrackerTracked, tr.State)
}
