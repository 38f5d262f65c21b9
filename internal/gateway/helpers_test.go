package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
	"github.com/nerrad567/vineyard-core/internal/registry"
	_ "github.com/nerrad567/vineyard-core/migrations"
)

// journal records handler calls across handlers in call order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.calls)
}

// fakeHandler keeps published resource IDs in memory.
type fakeHandler struct {
	typ     string
	journal *journal

	mu            sync.Mutex
	live          map[string]bool
	failPublish   map[string]error
	failUnpublish map[string]error
	block         bool
	chains        map[string][]string // by api/registration
	chainErr      error
}

func newFakeHandler(typ string, j *journal) *fakeHandler {
	if j == nil {
		j = &journal{}
	}
	return &fakeHandler{
		typ:           typ,
		journal:       j,
		live:          map[string]bool{},
		failPublish:   map[string]error{},
		failUnpublish: map[string]error{},
		chains:        map[string][]string{},
	}
}

func (h *fakeHandler) Type() string { return h.typ }

func (h *fakeHandler) Publish(ctx context.Context, _ *catalog.API, res *catalog.Resource) error {
	h.mu.Lock()
	block := h.block
	err := h.failPublish[res.ID]
	h.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	h.journal.add("publish %s", res.ID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.live[res.ID] = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHandler) Unpublish(_ context.Context, resourceID string) error {
	h.journal.add("unpublish %s", resourceID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failUnpublish[resourceID]; err != nil {
		return err
	}
	delete(h.live, resourceID)
	return nil
}

func (h *fakeHandler) ConfigureChain(_ context.Context, apiID, registrationID string, chain []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.chainErr != nil {
		return h.chainErr
	}
	if len(chain) == 0 {
		delete(h.chains, apiID+"/"+registrationID)
		return nil
	}
	h.chains[apiID+"/"+registrationID] = slices.Clone(chain)
	return nil
}

// chainOf returns the chain the handler holds for one registration.
func (h *fakeHandler) chainOf(apiID, registrationID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.chains[apiID+"/"+registrationID]
}

func (h *fakeHandler) liveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

func (h *fakeHandler) isLive(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live[id]
}

// plainHandler does not implement ChainConfigurer.
type plainHandler struct {
	typ string
}

func (h plainHandler) Type() string { return h.typ }
func (h plainHandler) Publish(context.Context, *catalog.API, *catalog.Resource) error {
	return nil
}
func (h plainHandler) Unpublish(context.Context, string) error { return nil }

// staticLoader serves APIs from a map.
type staticLoader map[string]*catalog.API

func (s staticLoader) GetAPI(_ context.Context, id string) (*catalog.API, error) {
	api, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: api %q", registry.ErrNotFound, id)
	}
	return api.DeepCopy(), nil
}

// apiOf builds an API with one resource per type; resource IDs are r0, r1...
func apiOf(id string, types ...string) *catalog.API {
	api := &catalog.API{ID: id, Name: id, Context: "/" + id}
	for i, typ := range types {
		api.Resources = append(api.Resources, catalog.Resource{
			ID:         fmt.Sprintf("r%d", i),
			APIID:      id,
			Type:       typ,
			Attributes: map[string]string{"n": fmt.Sprint(i)},
		})
	}
	return api
}

// env bundles a bootstrapped store and a lifecycle wired to it.
type env struct {
	db        *database.DB
	reg       *registry.Registry
	dispatch  *Dispatcher
	lifecycle *Lifecycle
	journal   *journal
	svcID     string
	envID     string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := database.Open(database.Config{
		Dialect:     "sqlite",
		Path:        filepath.Join(t.TempDir(), "gateway.db"),
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	_, err = db.Bootstrap(context.Background())
	require.NoError(t, err)

	reg := registry.NewRegistry(registry.NewSQLRepository(db), time.Minute, time.Minute)
	dispatch := NewDispatcher(reg)

	ctx := context.Background()
	svc := &registry.Service{Name: "billing"}
	require.NoError(t, reg.AddService(ctx, svc))
	stage := &registry.Environment{Name: "staging"}
	require.NoError(t, reg.AddEnvironment(ctx, stage))

	return &env{
		db:        db,
		reg:       reg,
		dispatch:  dispatch,
		lifecycle: NewLifecycle(reg, dispatch),
		journal:   &journal{},
		svcID:     svc.ID,
		envID:     stage.ID,
	}
}

// addAPI stores an API with one free-form resource per type.
func (e *env) addAPI(t *testing.T, path string, types ...string) *catalog.API {
	t.Helper()
	api := &catalog.API{Name: path, Context: "/" + path}
	for _, typ := range types {
		_, err := api.AddResource(catalog.Resource{Type: typ})
		require.NoError(t, err)
	}
	require.NoError(t, e.reg.AddAPI(context.Background(), api))
	return api
}

func (e *env) handler(typ string) *fakeHandler {
	h := newFakeHandler(typ, e.journal)
	e.dispatch.Register(h)
	return h
}

func (e *env) addEnvironment(t *testing.T, name string) string {
	t.Helper()
	stage := &registry.Environment{Name: name}
	require.NoError(t, e.reg.AddEnvironment(context.Background(), stage))
	return stage.ID
}

func (e *env) metaRows(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM service_environment_meta").Scan(&n))
	return n
}

// failingDeploy makes Deploy fail after dispatch succeeded.
type failingDeploy struct {
	Store
}

var errDeployFailed = errors.New("disk full")

func (failingDeploy) Deploy(context.Context, *registry.Deployment, registry.Metadata) error {
	return fmt.Errorf("%w: %w", registry.ErrPersistence, errDeployFailed)
}
