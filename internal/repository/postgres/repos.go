package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/repos"
)

var (
	repoColumnList = []string{
		"id", "name", "owner_id", "moderators", "feed_url", "snowball_enabled",
		"forward_threshold", "quality_threshold", "allowed_domains", "blocked_domains",
		"digest_frequency", "snowball_epoch", "archived_at", "created_at", "updated_at",
	}
	repoColumns = strings.Join(repoColumnList, ", ")
)

// RepoStore implements repos.Store against PostgreSQL.
type RepoStore struct{ db *sql.DB }

var _ repos.Store = (*RepoStore)(nil)

// NewRepoStore creates a Postgres-backed repository store.
func NewRepoStore(db *sql.DB) *RepoStore { return &RepoStore{db: db} }

func scanRepo(s scanner) (*domain.Repository, error) {
	r := &domain.Repository{}
	var archived sql.NullTime
	err := s.Scan(
		&r.ID, &r.Name, &r.OwnerID, pq.Array(&r.Moderators), &r.FeedURL, &r.Growth.SnowballEnabled,
		&r.Growth.ForwardThreshold, &r.Growth.QualityThreshold,
		pq.Array(&r.Growth.AllowedDomains), pq.Array(&r.Growth.BlockedDomains),
		&r.Growth.DigestFrequency, &r.Growth.SnowballEpoch, &archived, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ArchivedAt = timePtr(archived)
	return r, nil
}

func (s *RepoStore) Create(ctx context.Context, r *domain.Repository) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (`+repoColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.ID, r.Name, r.OwnerID, textArray(r.Moderators), r.FeedURL, r.Growth.SnowballEnabled,
		r.Growth.ForwardThreshold, r.Growth.QualityThreshold,
		textArray(r.Growth.AllowedDomains), textArray(r.Growth.BlockedDomains),
		r.Growth.DigestFrequency, r.Growth.SnowballEpoch, r.ArchivedAt, r.CreatedAt, r.UpdatedAt)
	if isUniqueViolation(err) {
		return repos.ErrNameTaken
	}
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

func (s *RepoStore) Get(ctx context.Context, id string) (*domain.Repository, error) {
	r, err := scanRepo(s.db.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repos.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return r, nil
}

func (s *RepoStore) GetByName(ctx context.Context, name string) (*domain.Repository, error) {
	r, err := scanRepo(s.db.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE lower(name) = lower($1)`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repos.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by name: %w", err)
	}
	return r, nil
}

func (s *RepoStore) Update(ctx context.Context, r *domain.Repository) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET
			name = $2, moderators = $3, feed_url = $4, snowball_enabled = $5,
			forward_threshold = $6, quality_threshold = $7, allowed_domains = $8,
			blocked_domains = $9, digest_frequency = $10, snowball_epoch = $11,
			archived_at = $12, updated_at = $13
		WHERE id = $1
	`, r.ID, r.Name, textArray(r.Moderators), r.FeedURL, r.Growth.SnowballEnabled,
		r.Growth.ForwardThreshold, r.Growth.QualityThreshold, textArray(r.Growth.AllowedDomains),
		textArray(r.Growth.BlockedDomains), r.Growth.DigestFrequency, r.Growth.SnowballEpoch,
		r.ArchivedAt, r.UpdatedAt)
	if isUniqueViolation(err) {
		return repos.ErrNameTaken
	}
	if err != nil {
		return fmt.Errorf("update repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repos.ErrNotFound
	}
	return nil
}

func (s *RepoStore) List(ctx context.Context, f repos.ListFilter) ([]*domain.Repository, error) {
	q := psql.Select(repoColumnList...).
		From("repositories").
		OrderBy("lower(name)")
	if !f.IncludeArchived {
		q = q.Where(sq.Eq{"archived_at": nil})
	}
	if f.DigestOnly {
		q = q.Where(sq.NotEq{"digest_frequency": []string{"", string(domain.DigestNone)}})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build repository query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var out []*domain.Repository
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
