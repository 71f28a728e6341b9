package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/ledger"
)

var (
	emailColumnList = []string{
		"id", "repository_id", "address", "dedup_key", "source", "added_by", "verified",
		"active", "pending_review", "unsubscribed_at", "tags", "added_at", "activated_at", "updated_at",
	}
	emailColumns = strings.Join(emailColumnList, ", ")
)

// LedgerStore implements ledger.Store against PostgreSQL. The unique
// (repository_id, dedup_key) constraint makes InsertIfAbsent atomic, and
// every mutation writes its provenance event in the same transaction.
type LedgerStore struct{ db *sql.DB }

var _ ledger.Store = (*LedgerStore)(nil)

// NewLedgerStore creates a Postgres-backed ledger store.
func NewLedgerStore(db *sql.DB) *LedgerStore { return &LedgerStore{db: db} }

func scanEmail(s scanner) (*domain.RepositoryEmail, error) {
	e := &domain.RepositoryEmail{}
	var unsub, activated sql.NullTime
	var tags []byte
	err := s.Scan(
		&e.ID, &e.RepositoryID, &e.Address, &e.DedupKey, &e.Source, &e.AddedBy, &e.Verified,
		&e.Active, &e.PendingReview, &unsub, &tags, &e.AddedAt, &activated, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.UnsubscribedAt = timePtr(unsub)
	e.ActivatedAt = timePtr(activated)
	if e.Tags, err = parseTags(tags); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *LedgerStore) Get(ctx context.Context, repositoryID, dedupKey string) (*domain.RepositoryEmail, error) {
	e, err := scanEmail(s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM repository_emails WHERE repository_id = $1 AND dedup_key = $2`,
		repositoryID, dedupKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	return e, nil
}

func (s *LedgerStore) InsertIfAbsent(ctx context.Context, e *domain.RepositoryEmail, ev domain.ProvenanceEvent) (bool, error) {
	tags, err := jsonTags(e.Tags)
	if err != nil {
		return false, err
	}
	inserted := false
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO repository_emails (`+emailColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (repository_id, dedup_key) DO NOTHING
		`, e.ID, e.RepositoryID, e.Address, e.DedupKey, e.Source, e.AddedBy, e.Verified,
			e.Active, e.PendingReview, e.UnsubscribedAt, tags, e.AddedAt, e.ActivatedAt, e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert email: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		inserted = true
		return insertEvent(ctx, tx, ev)
	})
	return inserted, err
}

func (s *LedgerStore) Transition(ctx context.Context, t ledger.Transition) error {
	tags, err := jsonTags(t.MergeTags)
	if err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE repository_emails SET
				active = $5, pending_review = $6, verified = verified OR $7,
				unsubscribed_at = $8, activated_at = COALESCE($9, activated_at),
				tags = tags || $10::jsonb, updated_at = $11
			WHERE repository_id = $1 AND dedup_key = $2 AND active = $3 AND pending_review = $4
		`, t.RepositoryID, t.DedupKey, t.From.Active, t.From.PendingReview,
			t.To.Active, t.To.PendingReview, t.Verified,
			t.UnsubscribedAt, t.ActivatedAt, tags, t.At)
		if err != nil {
			return fmt.Errorf("transition email: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return missingOr(ctx, tx, t.RepositoryID, t.DedupKey, ledger.ErrConcurrentConflict)
		}
		return insertEvent(ctx, tx, t.Event)
	})
}

func (s *LedgerStore) MergeTags(ctx context.Context, repositoryID, dedupKey string, tags map[string]string, ev domain.ProvenanceEvent) (bool, error) {
	raw, err := jsonTags(tags)
	if err != nil {
		return false, err
	}
	changed := false
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE repository_emails SET tags = tags || $3::jsonb, updated_at = $4
			WHERE repository_id = $1 AND dedup_key = $2 AND NOT (tags @> $3::jsonb)
		`, repositoryID, dedupKey, raw, ev.At)
		if err != nil {
			return fmt.Errorf("merge tags: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return missingOr(ctx, tx, repositoryID, dedupKey, nil)
		}
		changed = true
		return insertEvent(ctx, tx, ev)
	})
	return changed, err
}

// missingOr returns ledger.ErrNotFound when the row is gone and fallback
// when it still exists.
func missingOr(ctx context.Context, tx *sql.Tx, repositoryID, dedupKey string, fallback error) error {
	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM repository_emails WHERE repository_id = $1 AND dedup_key = $2)`,
		repositoryID, dedupKey).Scan(&exists); err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if !exists {
		return ledger.ErrNotFound
	}
	return fallback
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev domain.ProvenanceEvent) error {
	tags, err := jsonTags(ev.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO provenance_events (id, repository_id, dedup_key, action, source, actor, reason, tags, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.ID, ev.RepositoryID, ev.DedupKey, ev.Action, ev.Source, ev.Actor, ev.Reason, tags, ev.At)
	if err != nil {
		return fmt.Errorf("insert provenance event: %w", err)
	}
	return nil
}

func (s *LedgerStore) List(ctx context.Context, repositoryID string, f domain.EmailFilter) ([]*domain.RepositoryEmail, error) {
	q := psql.Select(emailColumnList...).
		From("repository_emails").
		Where(sq.Eq{"repository_id": repositoryID}).
		OrderBy("dedup_key")

	switch {
	case f.PendingOnly:
		q = q.Where(sq.Eq{"pending_review": true})
	case !f.IncludeInactive:
		q = q.Where(sq.Eq{"active": true})
	}
	if f.VerifiedOnly {
		q = q.Where(sq.Eq{"verified": true})
	}
	if f.Source != "" {
		q = q.Where(sq.Eq{"source": f.Source})
	}
	if f.ActivatedBefore != nil {
		q = q.Where(sq.Lt{"activated_at": *f.ActivatedBefore})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build email query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	var out []*domain.RepositoryEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *LedgerStore) History(ctx context.Context, repositoryID, dedupKey string) ([]domain.ProvenanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, dedup_key, action, source, actor, reason, tags, at
		FROM provenance_events
		WHERE repository_id = $1 AND dedup_key = $2
		ORDER BY seq
	`, repositoryID, dedupKey)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.ProvenanceEvent
	for rows.Next() {
		var ev domain.ProvenanceEvent
		var tags []byte
		if err := rows.Scan(&ev.ID, &ev.RepositoryID, &ev.DedupKey, &ev.Action, &ev.Source,
			&ev.Actor, &ev.Reason, &tags, &ev.At); err != nil {
			return nil, fmt.Errorf("scan provenance event: %w", err)
		}
		if ev.Tags, err = parseTags(tags); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *LedgerStore) Stats(ctx context.Context, repositoryID string) (*domain.EmailStats, error) {
	st := &domain.EmailStats{BySource: make(map[domain.Source]int)}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE active),
		       COUNT(*) FILTER (WHERE NOT active),
		       COUNT(*) FILTER (WHERE verified),
		       COUNT(*) FILTER (WHERE pending_review),
		       COUNT(*) FILTER (WHERE unsubscribed_at IS NOT NULL)
		FROM repository_emails WHERE repository_id = $1
	`, repositoryID).Scan(&st.Total, &st.Active, &st.Inactive, &st.Verified, &st.PendingReview, &st.Unsubscribed)
	if err != nil {
		return nil, fmt.Errorf("email stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*) FROM repository_emails
		WHERE repository_id = $1 GROUP BY source
	`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("email stats by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src domain.Source
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		st.BySource[src] = n
	}
	return st, rows.Err()
}
