// Package redisstore keeps snowball trackers in Redis. Distinct referrers
// are a set per (repository, epoch, referred) so SADD decides novelty and
// SCARD is the count; the tracker state lives in a hash next to it.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/snowball"
)

const (
	keyPrefix        = "repogrowth:snowball:"
	defaultMaxEvents = 500
)

// claimsKey is a sorted set of trackers in evaluating scored by claim time
// in unix milliseconds.
const claimsKey = keyPrefix + "claims"

var setStateScript = redis.NewScript(`
	if redis.call("hget", KEYS[1], "state") == ARGV[1] then
		redis.call("hset", KEYS[1], "state", ARGV[2], "updated_at", ARGV[3])
		if ARGV[2] == "evaluating" then
			redis.call("zadd", KEYS[2], ARGV[5], ARGV[4])
		else
			redis.call("zrem", KEYS[2], ARGV[4])
		end
		return 1
	end
	return 0
`)

// claim identifies a tracker inside claimsKey.
type claim struct {
	RepositoryID string `json:"r"`
	Epoch        int    `json:"e"`
	Referred     string `json:"a"`
}

// SnowballStore implements snowball.Store on Redis.
type SnowballStore struct {
	client    *redis.Client
	maxEvents int64
}

var _ snowball.Store = (*SnowballStore)(nil)

// NewSnowballStore creates a store keeping at most maxEvents events per
// referred address. maxEvents <= 0 means 500.
func NewSnowballStore(client *redis.Client, maxEvents int) *SnowballStore {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	return &SnowballStore{client: client, maxEvents: int64(maxEvents)}
}

func trackerPrefix(repositoryID string, epoch int, referred string) string {
	return fmt.Sprintf("%s%s:%d:%s", keyPrefix, repositoryID, epoch, referred)
}

func refsKey(repositoryID string, epoch int, referred string) string {
	return trackerPrefix(repositoryID, epoch, referred) + ":refs"
}

func stateKey(repositoryID string, epoch int, referred string) string {
	return trackerPrefix(repositoryID, epoch, referred) + ":tracker"
}

func eventsKey(repositoryID, referred string) string {
	return keyPrefix + "events:" + repositoryID + ":" + referred
}

func (s *SnowballStore) Record(ctx context.Context, ev domain.SnowballEvent) (domain.SnowballTracker, bool, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return domain.SnowballTracker{}, false, fmt.Errorf("encode snowball event: %w", err)
	}
	refs := refsKey(ev.RepositoryID, ev.Epoch, ev.Referred)
	state := stateKey(ev.RepositoryID, ev.Epoch, ev.Referred)
	events := eventsKey(ev.RepositoryID, ev.Referred)
	at := ev.ObservedAt.UTC().Format(time.RFC3339Nano)

	var added *redis.IntCmd
	var count *redis.IntCmd
	var current *redis.StringCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		added = p.SAdd(ctx, refs, ev.Referrer)
		count = p.SCard(ctx, refs)
		p.HSetNX(ctx, state, "state", string(domain.TrackerTracked))
		p.HSet(ctx, state, "updated_at", at)
		current = p.HGet(ctx, state, "state")
		p.RPush(ctx, events, payload)
		p.LTrim(ctx, events, -s.maxEvents, -1)
		return nil
	})
	if err != nil {
		return domain.SnowballTracker{}, false, fmt.Errorf("record snowball event: %w", err)
	}

	t := domain.SnowballTracker{
		RepositoryID: ev.RepositoryID,
		Referred:     ev.Referred,
		Epoch:        ev.Epoch,
		Count:        int(count.Val()),
		State:        domain.TrackerState(current.Val()),
		UpdatedAt:    ev.ObservedAt.UTC(),
	}
	return t, added.Val() == 1, nil
}

func (s *SnowballStore) Tracker(ctx context.Context, repositoryID string, epoch int, referred string) (domain.SnowballTracker, error) {
	t := domain.SnowballTracker{RepositoryID: repositoryID, Referred: referred, Epoch: epoch}

	var count *redis.IntCmd
	var fields *redis.MapStringStringCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		count = p.SCard(ctx, refsKey(repositoryID, epoch, referred))
		fields = p.HGetAll(ctx, stateKey(repositoryID, epoch, referred))
		return nil
	})
	if err != nil {
		return t, fmt.Errorf("get tracker: %w", err)
	}

	h := fields.Val()
	st, ok := h["state"]
	if !ok {
		t.State = domain.TrackerUnseen
		return t, nil
	}
	t.State = domain.TrackerState(st)
	t.Count = int(count.Val())
	if ts, err := time.Parse(time.RFC3339Nano, h["updated_at"]); err == nil {
		t.UpdatedAt = ts
	}
	return t, nil
}

func (s *SnowballStore) SetState(ctx context.Context, repositoryID string, epoch int, referred string, from, to domain.TrackerState) error {
	member, err := json.Marshal(claim{RepositoryID: repositoryID, Epoch: epoch, Referred: referred})
	if err != nil {
		return fmt.Errorf("encode tracker claim: %w", err)
	}
	now := time.Now().UTC()
	n, err := setStateScript.Run(ctx, s.client,
		[]string{stateKey(repositoryID, epoch, referred), claimsKey},
		string(from), string(to), now.Format(time.RFC3339Nano), string(member), now.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("set tracker state: %w", err)
	}
	if n == 0 {
		return snowball.ErrClaimLost
	}
	return nil
}

func (s *SnowballStore) Events(ctx context.Context, repositoryID, referred string, limit int) ([]domain.SnowballEvent, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, eventsKey(repositoryID, referred), start, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snowball events: %w", err)
	}

	out := make([]domain.SnowballEvent, 0, len(raw))
	for _, r := range raw {
		var ev domain.SnowballEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("decode snowball event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *SnowballStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.SnowballTracker, error) {
	if limit <= 0 {
		limit = 100
	}
	claims, err := s.client.ZRangeByScoreWithScores(ctx, claimsKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list tracker claims: %w", err)
	}

	out := make([]domain.SnowballTracker, 0, len(claims))
	for _, z := range claims {
		raw, _ := z.Member.(string)
		var c claim
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode tracker claim: %w", err)
		}
		t, err := s.Tracker(ctx, c.RepositoryID, c.Epoch, c.Referred)
		if err != nil {
			return nil, err
		}
		if t.State != domain.TrackerEvaluating {
			continue
		}
		at := time.UnixMilli(int64(z.Score)).UTC()
		t.ClaimedAt = &at
		out = append(out, t)
	}
	return out, nil
}
