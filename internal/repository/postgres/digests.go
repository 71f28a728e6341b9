package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/digest"
)

const digestColumns = `id, repository_id, period_start, period_end, recipients, content,
	status, created_at, dispatched_at, finished_at`

// DigestStore implements digest.Store against PostgreSQL.
type DigestStore struct{ db *sql.DB }

var _ digest.Store = (*DigestStore)(nil)

// NewDigestStore creates a Postgres-backed digest store.
func NewDigestStore(db *sql.DB) *DigestStore { return &DigestStore{db: db} }

func scanJob(s scanner) (*domain.DigestJob, error) {
	j := &domain.DigestJob{}
	var content []byte
	var dispatched, finished sql.NullTime
	err := s.Scan(&j.ID, &j.RepositoryID, &j.PeriodStart, &j.PeriodEnd, pq.Array(&j.Recipients),
		&content, &j.Status, &j.CreatedAt, &dispatched, &finished)
	if err != nil {
		return nil, err
	}
	j.PeriodStart, j.PeriodEnd = j.PeriodStart.UTC(), j.PeriodEnd.UTC()
	j.DispatchedAt = timePtr(dispatched)
	j.FinishedAt = timePtr(finished)
	j.Content = []domain.ContentItem{}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &j.Content); err != nil {
			return nil, fmt.Errorf("decode digest content: %w", err)
		}
	}
	return j, nil
}

// CreateIfAbsent relies on the (repository_id, period_start, period_end)
// unique constraint; a losing writer reads back the winner's job.
func (s *DigestStore) CreateIfAbsent(ctx context.Context, job *domain.DigestJob) (*domain.DigestJob, bool, error) {
	content := job.Content
	if content == nil {
		content = []domain.ContentItem{}
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, false, fmt.Errorf("encode digest content: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO digest_jobs (`+digestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (repository_id, period_start, period_end) DO NOTHING
	`, job.ID, job.RepositoryID, job.PeriodStart, job.PeriodEnd, textArray(job.Recipients),
		raw, job.Status, job.CreatedAt, job.DispatchedAt, job.FinishedAt)
	if err != nil {
		return nil, false, fmt.Errorf("create digest job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return job, true, nil
	}
	existing, err := s.FindByPeriod(ctx, job.RepositoryID, job.PeriodStart, job.PeriodEnd)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *DigestStore) FindByPeriod(ctx context.Context, repositoryID string, start, end time.Time) (*domain.DigestJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `
		SELECT `+digestColumns+` FROM digest_jobs
		WHERE repository_id = $1 AND period_start = $2 AND period_end = $3
	`, repositoryID, start, end))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, digest.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find digest job: %w", err)
	}
	return j, nil
}

func (s *DigestStore) Get(ctx context.Context, id string) (*domain.DigestJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+digestColumns+` FROM digest_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, digest.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get digest job: %w", err)
	}
	return j, nil
}

func (s *DigestStore) SetStatus(ctx context.Context, id string, from, to domain.DigestStatus, at time.Time) error {
	column := "finished_at"
	if to == domain.DigestDispatched {
		column = "dispatched_at"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE digest_jobs SET status = $3, `+column+` = $4 WHERE id = $1 AND status = $2`,
		id, from, to, at)
	if err != nil {
		return fmt.Errorf("set digest status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return digest.ErrStatusConflict
}

func (s *DigestStore) List(ctx context.Context, repositoryID string, limit int) ([]*domain.DigestJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, "list digest jobs", `
		SELECT `+digestColumns+` FROM digest_jobs
		WHERE repository_id = $1
		ORDER BY period_start DESC
		LIMIT $2
	`, repositoryID, limit)
}

func (s *DigestStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.DigestJob, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, "list stale digest jobs", `
		SELECT `+digestColumns+` FROM digest_jobs
		WHERE status = $1 AND dispatched_at < $2
		ORDER BY dispatched_at
		LIMIT $3
	`, domain.DigestDispatched, cutoff, limit)
}

func (s *DigestStore) query(ctx context.Context, op, q string, args ...any) ([]*domain.DigestJob, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*domain.DigestJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan digest job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
