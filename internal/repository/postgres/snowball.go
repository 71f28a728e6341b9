package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/snowball"
)

// SnowballStore implements snowball.Store against PostgreSQL. Distinct
// referrers are rows of snowball_referrers; the tracker count moves only
// when a referrer row is new, inside the same transaction.
type SnowballStore struct{ db *sql.DB }

var _ snowball.Store = (*SnowballStore)(nil)

// NewSnowballStore creates a Postgres-backed snowball store.
func NewSnowballStore(db *sql.DB) *SnowballStore { return &SnowballStore{db: db} }

func (s *SnowballStore) Record(ctx context.Context, ev domain.SnowballEvent) (domain.SnowballTracker, bool, error) {
	t := domain.SnowballTracker{RepositoryID: ev.RepositoryID, Referred: ev.Referred, Epoch: ev.Epoch}
	isNew := false

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snowball_events (id, repository_id, referrer, referred, epoch, observed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, ev.ID, ev.RepositoryID, ev.Referrer, ev.Referred, ev.Epoch, ev.ObservedAt); err != nil {
			return fmt.Errorf("insert snowball event: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO snowball_referrers (repository_id, epoch, referred, referrer)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, ev.RepositoryID, ev.Epoch, ev.Referred, ev.Referrer)
		if err != nil {
			return fmt.Errorf("insert referrer: %w", err)
		}
		n, _ := res.RowsAffected()
		isNew = n > 0
		inc := 0
		if isNew {
			inc = 1
		}

		return tx.QueryRowContext(ctx, `
			INSERT INTO snowball_trackers (repository_id, epoch, referred, count, state, updated_at)
			VALUES ($1, $2, $3, $4, 'tracked', $5)
			ON CONFLICT (repository_id, epoch, referred)
			DO UPDATE SET count = snowball_trackers.count + $4, updated_at = $5
			RETURNING count, state, updated_at
		`, ev.RepositoryID, ev.Epoch, ev.Referred, inc, ev.ObservedAt).Scan(&t.Count, &t.State, &t.UpdatedAt)
	})
	if err != nil {
		return domain.SnowballTracker{}, false, fmt.Errorf("record snowball event: %w", err)
	}
	return t, isNew, nil
}

func (s *SnowballStore) Tracker(ctx context.Context, repositoryID string, epoch int, referred string) (domain.SnowballTracker, error) {
	t := domain.SnowballTracker{RepositoryID: repositoryID, Referred: referred, Epoch: epoch}
	err := s.db.QueryRowContext(ctx, `
		SELECT count, state, updated_at FROM snowball_trackers
		WHERE repository_id = $1 AND epoch = $2 AND referred = $3
	`, repositoryID, epoch, referred).Scan(&t.Count, &t.State, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		t.State = domain.TrackerUnseen
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("get tracker: %w", err)
	}
	return t, nil
}

func (s *SnowballStore) SetState(ctx context.Context, repositoryID string, epoch int, referred string, from, to domain.TrackerState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE snowball_trackers
		SET state = $5, updated_at = NOW(),
		    claimed_at = CASE WHEN $5 = 'evaluating' THEN NOW() END
		WHERE repository_id = $1 AND epoch = $2 AND referred = $3 AND state = $4
	`, repositoryID, epoch, referred, from, to)
	if err != nil {
		return fmt.Errorf("set tracker state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return snowball.ErrClaimLost
	}
	return nil
}

func (s *SnowballStore) Events(ctx context.Context, repositoryID, referred string, limit int) ([]domain.SnowballEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, referrer, referred, epoch, observed_at
		FROM snowball_events
		WHERE repository_id = $1 AND referred = $2
		ORDER BY observed_at DESC
		LIMIT $3
	`, repositoryID, referred, limit)
	if err != nil {
		return nil, fmt.Errorf("list snowball events: %w", err)
	}
	defer rows.Close()

	var out []domain.SnowballEvent
	for rows.Next() {
		var ev domain.SnowballEvent
		if err := rows.Scan(&ev.ID, &ev.RepositoryID, &ev.Referrer, &ev.Referred, &ev.Epoch, &ev.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan snowball event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *SnowballStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.SnowballTracker, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT repository_id, epoch, referred, count, state, updated_at, claimed_at
		FROM snowball_trackers
		WHERE state = 'evaluating' AND claimed_at <= $1
		ORDER BY claimed_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale trackers: %w", err)
	}
	defer rows.Close()

	var out []domain.SnowballTracker
	for rows.Next() {
		var t domain.SnowballTracker
		var claimed sql.NullTime
		if err := rows.Scan(&t.RepositoryID, &t.Epoch, &t.Referred, &t.Count, &t.State, &t.UpdatedAt, &claimed); err != nil {
			return nil, fmt.Errorf("scan tracker: %w", err)
		}
		if claimed.Valid {
			t.ClaimedAt = &claimed.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
