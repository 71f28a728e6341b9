package repos_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/repository/memory"
	"github.com/ignite/repogrowth/internal/service/repos"
)

func newService() *repos.Service {
	return repos.NewService(memory.NewRepoStore(), repos.Defaults{ForwardThreshold: 3, QualityThreshold: 0.5})
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	r, err := svc.Create(ctx, repos.CreateInput{Name: " Go Weekly ", OwnerID: "u1", Moderators: []string{"u2", "u2", ""}})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "Go Weekly", r.Name)
	assert.Equal(t, []string{"u2"}, r.Moderators)
	assert.Equal(t, 3, r.Growth.ForwardThreshold)
	assert.Equal(t, domain.DigestNone, r.Growth.DigestFrequency)

	got, err := svc.GetByName(ctx, "go weekly")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = svc.Create(ctx, repos.CreateInput{Name: "GO WEEKLY", OwnerID: "u3"})
	assert.True(t, errors.Is(err, repos.ErrNameTaken))
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.Create(ctx, repos.CreateInput{OwnerID: "u1"})
	assert.True(t, errors.Is(err, repos.ErrInvalid))

	_, err = svc.Create(ctx, repos.CreateInput{Name: "x", OwnerID: "u1", Growth: &domain.GrowthConfig{ForwardThreshold: 0}})
	assert.True(t, errors.Is(err, repos.ErrInvalid))

	_, err = svc.Create(ctx, repos.CreateInput{Name: "x", OwnerID: "u1", Growth: &domain.GrowthConfig{ForwardThreshold: 1, QualityThreshold: 2}})
	assert.True(t, errors.Is(err, repos.ErrInvalid))
}

func TestUpdateGrowth_EpochBumpsOnReenable(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	r, err := svc.Create(ctx, repos.CreateInput{Name: "Rust", OwnerID: "u1", Growth: &domain.GrowthConfig{
		SnowballEnabled: true, ForwardThreshold: 2, BlockedDomains: []string{" @Spam.com", "spam.com"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Growth.SnowballEpoch)
	assert.Equal(t, []string{"spam.com"}, r.Growth.BlockedDomains)

	g := r.Growth
	g.SnowballEnabled = false
	r, err = svc.UpdateGrowth(ctx, r.ID, "u1", g)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Growth.SnowballEpoch)

	g.SnowballEnabled = true
	r, err = svc.UpdateGrowth(ctx, r.ID, "u1", g)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Growth.SnowballEpoch)

	// staying enabled keeps the epoch
	g.ForwardThreshold = 5
	r, err = svc.UpdateGrowth(ctx, r.ID, "u1", g)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Growth.SnowballEpoch)
	assert.Equal(t, 5, r.Growth.ForwardThreshold)
}

func TestUpdateGrowth_Authorization(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	r, err := svc.Create(ctx, repos.CreateInput{Name: "Zig", OwnerID: "u1", Moderators: []string{"m1"}})
	require.NoError(t, err)

	_, err = svc.UpdateGrowth(ctx, r.ID, "intruder", r.Growth)
	assert.True(t, errors.Is(err, repos.ErrNotAuthorized))

	_, err = svc.UpdateGrowth(ctx, r.ID, "m1", r.Growth)
	assert.NoError(t, err)
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	r, err := svc.Create(ctx, repos.CreateInput{Name: "Elixir", OwnerID: "u1", Moderators: []string{"m1"}})
	require.NoError(t, err)

	_, err = svc.Archive(ctx, r.ID, "m1")
	assert.True(t, errors.Is(err, repos.ErrNotAuthorized), "only the owner archives")

	r, err = svc.Archive(ctx, r.ID, "u1")
	require.NoError(t, err)
	assert.True(t, r.IsArchived())

	_, err = svc.UpdateGrowth(ctx, r.ID, "u1", r.Growth)
	assert.True(t, errors.Is(err, repos.ErrArchived))

	list, err := svc.List(ctx, repos.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = svc.List(ctx, repos.ListFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetNotFound(t *testing.T) {
	_, err := newService().Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, repos.ErrNotFound))
}
