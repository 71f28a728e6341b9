package repos

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/logger"
)

// Defaults seeds growth config for new repositories.
type Defaults struct {
	ForwardThreshold int
	QualityThreshold float64
}

// Service implements repository business logic. It is safe for concurrent use.
type Service struct {
	store    Store
	defaults Defaults
	now      func() time.Time
}

// NewService creates a repository service backed by the given store.
func NewService(store Store, defaults Defaults) *Service {
	if defaults.ForwardThreshold <= 0 {
		defaults.ForwardThreshold = 3
	}
	return &Service{store: store, defaults: defaults, now: func() time.Time { return time.Now().UTC() }}
}

// CreateInput is what a user supplies to create a repository.
type CreateInput struct {
	Name       string               `json:"name"`
	OwnerID    string               `json:"owner_id"`
	Moderators []string             `json:"moderators,omitempty"`
	FeedURL    string               `json:"feed_url,omitempty"`
	Growth     *domain.GrowthConfig `json:"growth,omitempty"`
}

// Create validates and stores a new repository.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Repository, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if in.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalid)
	}

	growth := domain.GrowthConfig{
		ForwardThreshold: s.defaults.ForwardThreshold,
		QualityThreshold: s.defaults.QualityThreshold,
		DigestFrequency:  domain.DigestNone,
	}
	if in.Growth != nil {
		growth = *in.Growth
		growth.SnowballEpoch = 0
		if growth.DigestFrequency == "" {
			growth.DigestFrequency = domain.DigestNone
		}
	}
	if err := validateGrowth(growth); err != nil {
		return nil, err
	}
	if growth.SnowballEnabled {
		growth.SnowballEpoch = 1
	}

	now := s.now()
	r := &domain.Repository{
		ID:         uuid.New().String(),
		Name:       name,
		OwnerID:    in.OwnerID,
		Moderators: dedupe(in.Moderators),
		FeedURL:    strings.TrimSpace(in.FeedURL),
		Growth:     normalizeGrowth(growth),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	logger.Info("repos: created", "repository_id", r.ID, "name", r.Name, "owner_id", r.OwnerID)
	return r, nil
}

// Get returns a repository by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Repository, error) {
	return s.store.Get(ctx, id)
}

// GetByName returns a repository by its case-insensitive name.
func (s *Service) GetByName(ctx context.Context, name string) (*domain.Repository, error) {
	return s.store.GetByName(ctx, strings.TrimSpace(name))
}

// List returns repositories matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*domain.Repository, error) {
	return s.store.List(ctx, f)
}

// UpdateGrowth replaces the growth config. Turning snowball tracking on
// starts a new epoch, so counts from before it was switched off are never
// reused.
func (s *Service) UpdateGrowth(ctx context.Context, id, actor string, g domain.GrowthConfig) (*domain.Repository, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsArchived() {
		return nil, ErrArchived
	}
	if !r.IsTrusted(actor) {
		return nil, ErrNotAuthorized
	}
	if g.DigestFrequency == "" {
		g.DigestFrequency = domain.DigestNone
	}
	if err := validateGrowth(g); err != nil {
		return nil, err
	}

	g.SnowballEpoch = r.Growth.SnowballEpoch
	if g.SnowballEnabled && !r.Growth.SnowballEnabled {
		g.SnowballEpoch++
	}
	r.Growth = normalizeGrowth(g)
	r.UpdatedAt = s.now()

	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}
	logger.Info("repos: growth updated", "repository_id", r.ID, "actor", actor,
		"snowball_enabled", r.Growth.SnowballEnabled, "snowball_epoch", r.Growth.SnowballEpoch)
	return r, nil
}

// SetModerators replaces the moderator list. Owner only.
func (s *Service) SetModerators(ctx context.Context, id, actor string, moderators []string) (*domain.Repository, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != r.OwnerID {
		return nil, ErrNotAuthorized
	}
	r.Moderators = dedupe(moderators)
	r.UpdatedAt = s.now()
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Archive soft-archives a repository. Archiving twice is a no-op.
func (s *Service) Archive(ctx context.Context, id, actor string) (*domain.Repository, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != r.OwnerID {
		return nil, ErrNotAuthorized
	}
	if r.IsArchived() {
		return r, nil
	}
	now := s.now()
	r.ArchivedAt = &now
	r.UpdatedAt = now
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}
	logger.Info("repos: archived", "repository_id", r.ID, "actor", actor)
	return r, nil
}

func validateGrowth(g domain.GrowthConfig) error {
	if g.ForwardThreshold < 1 {
		return fmt.Errorf("%w: forward_threshold must be at least 1", ErrInvalid)
	}
	if g.QualityThreshold < 0 || g.QualityThreshold > 1 {
		return fmt.Errorf("%w: quality_threshold must be within [0, 1]", ErrInvalid)
	}
	if !g.DigestFrequency.Valid() {
		return fmt.Errorf("%w: unknown digest_frequency %q", ErrInvalid, g.DigestFrequency)
	}
	return nil
}

func normalizeGrowth(g domain.GrowthConfig) domain.GrowthConfig {
	g.AllowedDomains = normalizeDomains(g.AllowedDomains)
	g.BlockedDomains = normalizeDomains(g.BlockedDomains)
	return g
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimLeft(d, "@.")
		if d != "" {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
