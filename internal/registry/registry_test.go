package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepo counts GetService calls reaching the store.
type countingRepo struct {
	*SQLRepository
	gets int
}

func (c *countingRepo) GetService(ctx context.Context, id string) (*Service, error) {
	c.gets++
	return c.SQLRepository.GetService(ctx, id)
}

func TestRegistryCachesReads(t *testing.T) {
	repo, _ := setupRepo(t)
	counting := &countingRepo{SQLRepository: repo}
	reg := NewRegistry(counting, time.Minute, time.Minute)
	ctx := context.Background()

	svc := &Service{Name: "auth"}
	require.NoError(t, reg.AddService(ctx, svc))

	for i := 0; i < 3; i++ {
		got, err := reg.GetService(ctx, svc.ID)
		require.NoError(t, err)
		assert.Equal(t, "auth", got.Name)
	}
	assert.Equal(t, 1, counting.gets)
}

func TestRegistryReturnsCopies(t *testing.T) {
	repo, _ := setupRepo(t)
	reg := NewRegistry(repo, time.Minute, time.Minute)
	ctx := context.Background()

	svc := &Service{Name: "auth"}
	require.NoError(t, reg.AddService(ctx, svc))

	first, err := reg.GetService(ctx, svc.ID)
	require.NoError(t, err)
	first.Name = "mutated"

	second, err := reg.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, "auth", second.Name)
}

func TestRegistryInvalidatesOnMutation(t *testing.T) {
	repo, _ := setupRepo(t)
	reg := NewRegistry(repo, time.Minute, time.Minute)
	ctx := context.Background()

	env := &Environment{Name: "staging"}
	require.NoError(t, reg.AddEnvironment(ctx, env))
	_, err := reg.GetEnvironment(ctx, env.ID)
	require.NoError(t, err)

	env.Name = "qa"
	require.NoError(t, reg.UpdateEnvironment(ctx, env))
	got, err := reg.GetEnvironment(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, "qa", got.Name)

	require.NoError(t, reg.DeleteEnvironment(ctx, env.ID))
	_, err = reg.GetEnvironment(ctx, env.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	m := &Maintainer{Name: "ana", Team: "core"}
	require.NoError(t, reg.AddMaintainer(ctx, m))
	_, err = reg.GetMaintainer(ctx, "ana")
	require.NoError(t, err)
	m.Team = "platform"
	require.NoError(t, reg.UpdateMaintainer(ctx, m))
	gotM, err := reg.GetMaintainer(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, "platform", gotM.Team)
}

func TestRegistryDoesNotCacheMisses(t *testing.T) {
	repo, _ := setupRepo(t)
	reg := NewRegistry(repo, time.Minute, time.Minute)
	ctx := context.Background()

	_, err := reg.GetMaintainer(ctx, "late")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, reg.AddMaintainer(ctx, &Maintainer{Name: "late"}))
	_, err = reg.GetMaintainer(ctx, "late")
	assert.NoError(t, err)
}

func TestRegistryPassesThroughAssociations(t *testing.T) {
	repo, _ := setupRepo(t)
	reg := NewRegistry(repo, 0, 0)
	ctx := context.Background()

	svcID, envID := seedDeployment(t, repo, Metadata{"k": "v"})
	meta, err := reg.ListMetadata(ctx, svcID, envID)
	require.NoError(t, err)
	assert.Equal(t, Metadata{"k": "v"}, meta)

	var _ Repository = reg
}
