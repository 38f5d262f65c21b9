package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
	_ "github.com/nerrad567/vineyard-core/migrations"
)

// setupTestDB opens a bootstrapped SQLite store in a temp directory.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Dialect:     "sqlite",
		Path:        filepath.Join(t.TempDir(), "registry.db"),
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	_, err = db.Bootstrap(context.Background())
	require.NoError(t, err)
	return db
}

func setupRepo(t *testing.T) (*SQLRepository, *database.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewSQLRepository(db), db
}

func count(t *testing.T, db *database.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

// seedDeployment creates a service, an environment and a deployment with
// metadata, returning the service and environment IDs.
func seedDeployment(t *testing.T, repo *SQLRepository, meta Metadata) (string, string) {
	t.Helper()
	ctx := context.Background()

	svc := &Service{Name: "billing"}
	require.NoError(t, repo.AddService(ctx, svc))
	env := &Environment{Name: "staging"}
	require.NoError(t, repo.AddEnvironment(ctx, env))
	require.NoError(t, repo.Deploy(ctx, &Deployment{ServiceID: svc.ID, EnvironmentID: env.ID, Version: "1.0"}, meta))
	return svc.ID, env.ID
}

func TestServiceRoundTrip(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	svc := &Service{ID: "999", Name: "auth", Description: "d"}
	require.NoError(t, repo.AddService(ctx, svc))
	assert.NotEmpty(t, svc.ID)
	assert.NotEqual(t, "999", svc.ID, "supplied id is ignored")

	got, err := repo.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, "auth", got.Name)
	assert.Equal(t, "d", got.Description)

	require.NoError(t, repo.DeleteService(ctx, svc.ID))

	_, err = repo.GetService(ctx, svc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetDistinguishesAbsentFromEmpty(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	svc := &Service{Name: "empty"}
	require.NoError(t, repo.AddService(ctx, svc))

	got, err := repo.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Description)

	for _, id := range []string{"12345", "not-a-number", ""} {
		_, err := repo.GetService(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, "id %q", id)
	}
}

func TestUpdateRequiresExistingRow(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	err := repo.UpdateService(ctx, &Service{ID: "42", Name: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.UpdateEnvironment(ctx, &Environment{ID: "42", Name: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.UpdateMaintainer(ctx, &Maintainer{Name: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	env := &Environment{Name: "prod", Scope: "eu"}
	require.NoError(t, repo.AddEnvironment(ctx, env))
	env.Description = "production"
	require.NoError(t, repo.UpdateEnvironment(ctx, env))

	got, err := repo.GetEnvironment(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, *env, *got)
}

func TestValidationRejectsBeforeStore(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	assert.ErrorIs(t, repo.AddService(ctx, &Service{}), ErrInvalid)
	assert.ErrorIs(t, repo.AddMaintainer(ctx, &Maintainer{Name: "  "}), ErrInvalid)
	assert.ErrorIs(t, repo.AddEndpoint(ctx, &Endpoint{}), ErrInvalid)
	assert.Zero(t, count(t, db, "SELECT COUNT(*) FROM service"))
}

func TestDuplicateMaintainerIsPersistenceError(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AddMaintainer(ctx, &Maintainer{Name: "ana", Email: "ana@example.com"}))

	err := repo.AddMaintainer(ctx, &Maintainer{Name: "ana", Team: "other"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := repo.GetMaintainer(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", got.Email)
	assert.Empty(t, got.Team)
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM maintainer"))
}

func TestListReturnsCopies(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, repo.AddService(ctx, &Service{Name: name}))
	}

	services, err := repo.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 3)
	assert.Equal(t, "a", services[0].Name)

	services[0].Name = "mutated"
	again, err := repo.ListServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Name)
}

func TestDeleteServiceCascades(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	svcID, envID := seedDeployment(t, repo, Metadata{"owner": "team-a", "tier": "gold"})
	assert.Equal(t, 2, count(t, db, "SELECT COUNT(*) FROM service_environment_meta"))

	require.NoError(t, repo.DeleteService(ctx, svcID))

	assert.Zero(t, count(t, db, "SELECT COUNT(*) FROM service_environment_meta"))
	assert.Zero(t, count(t, db, "SELECT COUNT(*) FROM service_environment"))

	// The environment is a peer, not a child.
	_, err := repo.GetEnvironment(ctx, envID)
	assert.NoError(t, err)

	assert.ErrorIs(t, repo.DeleteService(ctx, svcID), ErrNotFound)
}

func TestDeleteEnvironmentCascades(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	svcID, envID := seedDeployment(t, repo, Metadata{"owner": "team-a"})
	require.NoError(t, repo.AddMaintainer(ctx, &Maintainer{Name: "ana"}))
	require.NoError(t, repo.AssignMaintainer(ctx, envID, "ana", "owner"))

	require.NoError(t, repo.DeleteEnvironment(ctx, envID))

	assert.Zero(t, count(t, db, "SELECT COUNT(*) FROM service_environment_meta"))
	assert.Zero(t, count(t, db, "SELECT COUNT(*) FROM service_environment"))
	assert.Zero(t, count(t, db, "SELECT COUNT(*) FROM environment_maintainer"))

	_, err := repo.GetService(ctx, svcID)
	assert.NoError(t, err)
	_, err = repo.GetMaintainer(ctx, "ana")
	assert.NoError(t, err)
}

func TestDeleteCascadeFailureIsConflict(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	svcID, _ := seedDeployment(t, repo, Metadata{"owner": "team-a"})

	// A trigger makes the second cascade step fail after the first ran.
	_, err := db.ExecContext(ctx, `CREATE TRIGGER block_deployment_delete
		BEFORE DELETE ON service_environment
		BEGIN SELECT RAISE(ABORT, 'deployment is pinned'); END`)
	require.NoError(t, err)

	err = repo.DeleteService(ctx, svcID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	// Prior state intact, including the metadata deleted by step one.
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM service_environment_meta"))
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM service_environment"))
	_, err = repo.GetService(ctx, svcID)
	assert.NoError(t, err)
}

func TestDeleteRefusedWhileRegistrationPublishes(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	svcID, envID := seedDeployment(t, repo, Metadata{MetaAPIRef: "a1", "owner": "team-a"})

	err := repo.DeleteService(ctx, svcID)
	assert.ErrorIs(t, err, ErrConflict)
	err = repo.DeleteEnvironment(ctx, envID)
	assert.ErrorIs(t, err, ErrConflict)

	assert.Equal(t, 2, count(t, db, "SELECT COUNT(*) FROM service_environment_meta"))
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM service_environment"))

	// Once the registration is gone the plain cascade applies again.
	require.NoError(t, repo.DeleteMetadata(ctx, svcID, envID, MetaAPIRef))
	require.NoError(t, repo.DeleteEnvironment(ctx, envID))
	require.NoError(t, repo.DeleteService(ctx, svcID))
	assert.Zero(t, count(t, db, "SELECT COUNT(*) FROM service_environment"))
}

func TestMaintainerAssignments(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	env := &Environment{Name: "prod"}
	require.NoError(t, repo.AddEnvironment(ctx, env))
	require.NoError(t, repo.AddMaintainer(ctx, &Maintainer{Name: "ana"}))
	require.NoError(t, repo.AddMaintainer(ctx, &Maintainer{Name: "bo"}))

	assert.ErrorIs(t, repo.AssignMaintainer(ctx, env.ID, "nobody", "owner"), ErrNotFound)
	assert.ErrorIs(t, repo.AssignMaintainer(ctx, "77", "ana", "owner"), ErrNotFound)

	require.NoError(t, repo.AssignMaintainer(ctx, env.ID, "bo", "oncall"))
	require.NoError(t, repo.AssignMaintainer(ctx, env.ID, "ana", "owner"))
	require.NoError(t, repo.AssignMaintainer(ctx, env.ID, "ana", "lead"))

	list, err := repo.ListEnvironmentMaintainers(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, []EnvironmentMaintainer{
		{EnvironmentID: env.ID, MaintainerName: "ana", Role: "lead"},
		{EnvironmentID: env.ID, MaintainerName: "bo", Role: "oncall"},
	}, list)

	require.NoError(t, repo.DeleteMaintainer(ctx, "bo"))
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM environment_maintainer"))

	require.NoError(t, repo.UnassignMaintainer(ctx, env.ID, "ana"))
	assert.ErrorIs(t, repo.UnassignMaintainer(ctx, env.ID, "ana"), ErrNotFound)

	_, err = repo.ListEnvironmentMaintainers(ctx, "404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDataFormatsAndEndpoints(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	in := &DataFormat{Name: "json", Schema: `{"type":"object"}`}
	require.NoError(t, repo.AddDataFormat(ctx, in))
	out := &DataFormat{Name: "xml", Sample: "<a/>"}
	require.NoError(t, repo.AddDataFormat(ctx, out))

	ep := &Endpoint{Location: "http://billing:8080", InputFormat: in.ID, OutputFormat: out.ID}
	require.NoError(t, repo.AddEndpoint(ctx, ep))

	err := repo.AddEndpoint(ctx, &Endpoint{Location: "http://dangling", InputFormat: "999"})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM endpoint"))

	svcID, envID := seedDeployment(t, repo, nil)
	dep, err := repo.GetDeployment(ctx, svcID, envID)
	require.NoError(t, err)
	dep.Endpoint = ep.Location
	dep.Gateway = ep.Location
	require.NoError(t, repo.UpdateDeployment(ctx, dep))

	// Deleting a format nulls the references instead of orphaning them.
	require.NoError(t, repo.DeleteDataFormat(ctx, in.ID))
	got, err := repo.GetEndpoint(ctx, ep.Location)
	require.NoError(t, err)
	assert.Empty(t, got.InputFormat)
	assert.Equal(t, out.ID, got.OutputFormat)

	require.NoError(t, repo.DeleteEndpoint(ctx, ep.Location))
	dep, err = repo.GetDeployment(ctx, svcID, envID)
	require.NoError(t, err)
	assert.Empty(t, dep.Endpoint)
	assert.Empty(t, dep.Gateway)

	formats, err := repo.ListDataFormats(ctx)
	require.NoError(t, err)
	require.Len(t, formats, 1)
	assert.Equal(t, "xml", formats[0].Name)

	_, err = repo.GetEndpoint(ctx, ep.Location)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeployments(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	svcID, envID := seedDeployment(t, repo, Metadata{"api.id": "abc"})

	dep, err := repo.GetDeployment(ctx, svcID, envID)
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, dep.State, "state defaults to REGISTERED")
	assert.Equal(t, "1.0", dep.Version)

	err = repo.Deploy(ctx, &Deployment{ServiceID: svcID, EnvironmentID: envID}, nil)
	assert.ErrorIs(t, err, ErrDuplicate)

	err = repo.Deploy(ctx, &Deployment{ServiceID: svcID, EnvironmentID: "404"}, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.Deploy(ctx, &Deployment{ServiceID: svcID, EnvironmentID: envID, State: "PAUSED"}, nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, repo.SetDeploymentState(ctx, svcID, envID, StateEnabled))
	assert.ErrorIs(t, repo.SetDeploymentState(ctx, svcID, envID, ""), ErrInvalidState)

	all, err := repo.ListAllDeployments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StateEnabled, all[0].State)

	byService, err := repo.ListDeployments(ctx, svcID)
	require.NoError(t, err)
	assert.Equal(t, all, byService)

	found, err := repo.FindDeploymentsByMetadata(ctx, "api.id", "abc")
	require.NoError(t, err)
	assert.Equal(t, all, found)

	require.NoError(t, repo.Undeploy(ctx, svcID, envID))
	assert.Zero(t, count(t, db, "SELECT COUNT(*) FROM service_environment_meta"))
	assert.ErrorIs(t, repo.Undeploy(ctx, svcID, envID), ErrNotFound)
	_, err = repo.GetDeployment(ctx, svcID, envID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeployWithBadMetadataLeavesNoRow(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	svc := &Service{Name: "billing"}
	require.NoError(t, repo.AddService(ctx, svc))
	env := &Environment{Name: "staging"}
	require.NoError(t, repo.AddEnvironment(ctx, env))

	err := repo.Deploy(ctx, &Deployment{ServiceID: svc.ID, EnvironmentID: env.ID}, Metadata{"": "x"})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Zero(t, count(t, db, "SELECT COUNT(*) FROM service_environment"))
}

func TestMetadata(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	svcID, envID := seedDeployment(t, repo, nil)

	meta, err := repo.ListMetadata(ctx, svcID, envID)
	require.NoError(t, err)
	assert.NotNil(t, meta)
	assert.Empty(t, meta)

	require.NoError(t, repo.SetMetadata(ctx, svcID, envID, "owner", "a"))
	require.NoError(t, repo.SetMetadata(ctx, svcID, envID, "owner", "b"))
	v, err := repo.GetMetadata(ctx, svcID, envID, "owner")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, err = repo.GetMetadata(ctx, svcID, envID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.SetMetadata(ctx, svcID, "404", "k", "v"), ErrNotFound)

	require.NoError(t, repo.DeleteMetadata(ctx, svcID, envID, "owner"))
	assert.ErrorIs(t, repo.DeleteMetadata(ctx, svcID, envID, "owner"), ErrNotFound)

	_, err = repo.ListMetadata(ctx, svcID, "404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutateMetadata(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	svcID, envID := seedDeployment(t, repo, Metadata{"keep": "1", "drop": "2", "change": "3"})

	err := repo.MutateMetadata(ctx, svcID, envID, func(m Metadata) error {
		delete(m, "drop")
		m["change"] = "33"
		m["add"] = "4"
		return nil
	})
	require.NoError(t, err)

	meta, err := repo.ListMetadata(ctx, svcID, envID)
	require.NoError(t, err)
	assert.Equal(t, Metadata{"keep": "1", "change": "33", "add": "4"}, meta)

	boom := errors.New("boom")
	err = repo.MutateMetadata(ctx, svcID, envID, func(m Metadata) error {
		m["keep"] = "overwritten"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	meta, err = repo.ListMetadata(ctx, svcID, envID)
	require.NoError(t, err)
	assert.Equal(t, "1", meta["keep"])
}

func TestPolicies(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	p := &catalog.Policy{Definition: "rate=10"}
	require.NoError(t, repo.AddPolicy(ctx, p))
	require.NotEmpty(t, p.ID)

	p.Definition = "rate=20"
	require.NoError(t, repo.UpdatePolicy(ctx, p))

	got, err := repo.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "rate=20", got.Definition)

	assert.ErrorIs(t, repo.UpdatePolicy(ctx, &catalog.Policy{ID: "nope"}), ErrNotFound)

	list, err := repo.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.DeletePolicy(ctx, p.ID))
	_, err = repo.GetPolicy(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
