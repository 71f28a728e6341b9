package redisstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/snowball"
)

func newStore(t *testing.T, maxEvents int) *SnowballStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSnowballStore(client, maxEvents)
}

func event(referrer, referred string, epoch int) domain.SnowballEvent {
	return domain.SnowballEvent{
		ID:           referrer + "->" + referred,
		RepositoryID: "r1",
		Referrer:     referrer,
		Referred:     referred,
		Epoch:        epoch,
		ObservedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecord_CountsDistinctReferrers(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	tr, isNew, err := s.Record(ctx, event("a@example.com", "new@example.com", 1))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, 1, tr.Count)
	assert.Equal(t, domain.TrackerTracked, tr.State)

	tr, isNew, err = s.Record(ctx, event("a@example.com", "new@example.com", 1))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, 1, tr.Count)

	tr, _, err = s.Record(ctx, event("b@example.com", "new@example.com", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Count)

	evs, err := s.Events(ctx, "r1", "new@example.com", 0)
	require.NoError(t, err)
	assert.Len(t, evs, 3)
	assert.Equal(t, "b@example.com", evs[2].Referrer)
}

func TestRecord_EpochsAreIndependent(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	_, _, err := s.Record(ctx, event("a@example.com", "new@example.com", 1))
	require.NoError(t, err)

	tr, err := s.Tracker(ctx, "r1", 2, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.TrackerUnseen, tr.State)
	assert.Zero(t, tr.Count)

	tr, _, err = s.Record(ctx, event("a@example.com", "new@example.com", 2))
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Count)
}

func TestSetState_CompareAndSet(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	_, _, err := s.Record(ctx, event("a@example.com", "new@example.com", 1))
	require.NoError(t, err)

	require.NoError(t, s.SetState(ctx, "r1", 1, "new@example.com", domain.TrackerTracked, domain.TrackerEvaluating))
	err = s.SetState(ctx, "r1", 1, "new@example.com", domain.TrackerTracked, domain.TrackerEvaluating)
	assert.ErrorIs(t, err, snowball.ErrClaimLost)

	err = s.SetState(ctx, "r1", 1, "missing@example.com", domain.TrackerTracked, domain.TrackerEvaluating)
	assert.ErrorIs(t, err, snowball.ErrClaimLost)

	// A later event must not reset a decided state.
	require.NoError(t, s.SetState(ctx, "r1", 1, "new@example.com", domain.TrackerEvaluating, domain.TrackerAdmitted))
	tr, _, err := s.Record(ctx, event("c@example.com", "new@example.com", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.TrackerAdmitted, tr.State)
	assert.Equal(t, 2, tr.Count)
}

func TestListStale_FollowsClaims(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	for _, ev := range []domain.SnowballEvent{
		event("a@example.com", "one@example.com", 1),
		event("b@example.com", "one@example.com", 1),
		event("a@example.com", "two@example.com", 1),
	} {
		_, _, err := s.Record(ctx, ev)
		require.NoError(t, err)
	}
	require.NoError(t, s.SetState(ctx, "r1", 1, "one@example.com", domain.TrackerTracked, domain.TrackerEvaluating))
	require.NoError(t, s.SetState(ctx, "r1", 1, "two@example.com", domain.TrackerTracked, domain.TrackerEvaluating))

	got, err := s.ListStale(ctx, time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, got, "fresh claims are not stale")

	got, err = s.ListStale(ctx, time.Now().Add(time.Second), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "one@example.com", got[0].Referred)
	assert.Equal(t, 2, got[0].Count)
	require.NotNil(t, got[0].ClaimedAt)

	// Leaving evaluating drops the claim.
	require.NoError(t, s.SetState(ctx, "r1", 1, "two@example.com", domain.TrackerEvaluating, domain.TrackerAdmitted))
	got, err = s.ListStale(ctx, time.Now().Add(time.Second), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "one@example.com", got[0].Referred)
}

func TestRecord_ConcurrentClaimsOneWinner(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.Record(ctx, event(fmt.Sprintf("m%d@example.com", i), "new@example.com", 1))
			if err != nil {
				return
			}
			if s.SetState(ctx, "r1", 1, "new@example.com", domain.TrackerTracked, domain.TrackerEvaluating) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	tr, err := s.Tracker(ctx, "r1", 1, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, 10, tr.Count)
}

func TestEvents_Trimmed(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := s.Record(ctx, event(fmt.Sprintf("m%d@example.com", i), "new@example.com", 1))
		require.NoError(t, err)
	}
	evs, err := s.Events(ctx, "r1", "new@example.com", 0)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, "m2@example.com", evs[0].Referrer)

	evs, err = s.Events(ctx, "r1", "new@example.com", 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "m4@example.com", evs[1].Referrer)
}
