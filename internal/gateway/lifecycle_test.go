package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/vineyard-core/internal/registry"
)

type recordingSink struct {
	mu          sync.Mutex
	calls       []time.Duration
	transitions []string
}

func (s *recordingSink) WriteCall(_ context.Context, _ string, elapsed time.Duration, _ bool) {
	s.mu.Lock()
	s.calls = append(s.calls, elapsed)
	s.mu.Unlock()
}

func (s *recordingSink) WriteTransition(_ context.Context, _, from, to string) {
	s.mu.Lock()
	s.transitions = append(s.transitions, from+">"+to)
	s.mu.Unlock()
}

func (e *env) register(t *testing.T, apiID, envID string) string {
	t.Helper()
	id, err := e.lifecycle.Register(context.Background(), RegisterRequest{
		APIID:         apiID,
		ServiceID:     e.svcID,
		EnvironmentID: envID,
		Version:       "1.0.0",
	})
	require.NoError(t, err)
	return id
}

func TestRegisterThenStatus(t *testing.T) {
	e := newEnv(t)
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc", "grpc")

	id := e.register(t, api.ID, e.envID)
	assert.Equal(t, RegistrationID(e.svcID, e.envID), id)

	state, err := e.lifecycle.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, registry.StateRegistered, state)
	assert.Equal(t, 2, h.liveCount())

	dep, err := e.reg.GetDeployment(context.Background(), e.svcID, e.envID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", dep.Version)

	apiID, err := e.reg.GetMetadata(context.Background(), e.svcID, e.envID, MetaAPIID)
	require.NoError(t, err)
	assert.Equal(t, api.ID, apiID)
}

func TestRegisterDispatchFailureStoresNothing(t *testing.T) {
	e := newEnv(t)
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc", "soap")

	_, err := e.lifecycle.Register(context.Background(), RegisterRequest{
		APIID: api.ID, ServiceID: e.svcID, EnvironmentID: e.envID,
	})
	require.ErrorIs(t, err, ErrNoHandler)

	_, err = e.lifecycle.Status(context.Background(), RegistrationID(e.svcID, e.envID))
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Zero(t, h.liveCount())
	assert.Zero(t, e.metaRows(t))
}

func TestRegisterRejectsDuplicatesAndMissingParts(t *testing.T) {
	e := newEnv(t)
	e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	e.register(t, api.ID, e.envID)
	ctx := context.Background()

	_, err := e.lifecycle.Register(ctx, RegisterRequest{APIID: api.ID, ServiceID: e.svcID, EnvironmentID: e.envID})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = e.lifecycle.Register(ctx, RegisterRequest{APIID: api.ID, ServiceID: "999", EnvironmentID: e.envID})
	assert.ErrorIs(t, err, registry.ErrNotFound)

	other := e.addEnvironment(t, "prod")
	_, err = e.lifecycle.Register(ctx, RegisterRequest{APIID: "no-such-api", ServiceID: e.svcID, EnvironmentID: other})
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = e.lifecycle.Register(ctx, RegisterRequest{APIID: api.ID, ServiceID: e.svcID})
	assert.ErrorIs(t, err, ErrInvalidRegistration)

	_, err = e.lifecycle.Register(ctx, RegisterRequest{APIID: api.ID, ServiceID: "1:2", EnvironmentID: other})
	assert.ErrorIs(t, err, ErrInvalidRegistration)
}

func TestRegisterUndoesPublishWhenStoreFails(t *testing.T) {
	e := newEnv(t)
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	lc := NewLifecycle(failingDeploy{Store: e.reg}, e.dispatch)

	_, err := lc.Register(context.Background(), RegisterRequest{
		APIID: api.ID, ServiceID: e.svcID, EnvironmentID: e.envID,
	})
	require.ErrorIs(t, err, errDeployFailed)
	assert.ErrorIs(t, err, registry.ErrPersistence)
	assert.Zero(t, h.liveCount())

	entries := e.journal.entries()
	require.Len(t, entries, 2)
	assert.Contains(t, entries[1], "unpublish")
}

func TestEnableDisableKeepMetrics(t *testing.T) {
	e := newEnv(t)
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	id := e.register(t, api.ID, e.envID)
	ctx := context.Background()

	require.NoError(t, e.lifecycle.Enable(ctx, id))
	require.NoError(t, e.lifecycle.Enable(ctx, id))
	require.NoError(t, e.lifecycle.RecordCall(ctx, id, 12*time.Millisecond, false))

	require.NoError(t, e.lifecycle.Disable(ctx, id))
	require.NoError(t, e.lifecycle.Disable(ctx, id))
	state, err := e.lifecycle.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, registry.StateDisabled, state)
	assert.Equal(t, 1, h.liveCount())

	m, err := e.lifecycle.Metrics(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1", m[MetricCalls])

	require.NoError(t, e.lifecycle.Enable(ctx, id))
	state, err = e.lifecycle.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, registry.StateEnabled, state)
}

func TestDisableFromRegistered(t *testing.T) {
	e := newEnv(t)
	e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	id := e.register(t, api.ID, e.envID)

	require.NoError(t, e.lifecycle.Disable(context.Background(), id))
	state, err := e.lifecycle.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, registry.StateDisabled, state)
}

func TestInvalidTransition(t *testing.T) {
	e := newEnv(t)
	e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	id := e.register(t, api.ID, e.envID)
	ctx := context.Background()

	require.NoError(t, e.reg.SetDeploymentState(ctx, e.svcID, e.envID, registry.StateRemoved))
	assert.ErrorIs(t, e.lifecycle.Enable(ctx, id), ErrInvalidTransition)
	assert.ErrorIs(t, e.lifecycle.Disable(ctx, id), ErrInvalidTransition)
}

func TestUnknownRegistration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, id := range []string{"1:42", "garbage", ":1", "1:", "1:2:3"} {
		assert.ErrorIs(t, e.lifecycle.Enable(ctx, id), registry.ErrNotFound, id)
		_, err := e.lifecycle.Status(ctx, id)
		assert.ErrorIs(t, err, registry.ErrNotFound, id)
		_, err = e.lifecycle.Remove(ctx, id)
		assert.ErrorIs(t, err, registry.ErrNotFound, id)
		_, err = e.lifecycle.Metrics(ctx, id)
		assert.ErrorIs(t, err, registry.ErrNotFound, id)
	}
}

func TestRemoveTearsDownAndPurges(t *testing.T) {
	e := newEnv(t)
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc", "grpc")
	id := e.register(t, api.ID, e.envID)
	ctx := context.Background()
	require.NoError(t, e.lifecycle.Enable(ctx, id))
	require.NoError(t, e.lifecycle.RecordCall(ctx, id, time.Millisecond, false))
	require.NoError(t, e.lifecycle.AddProcessing(ctx, id, "header:X-A=1"))

	result, err := e.lifecycle.Remove(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, registry.StateRemoved, result.State)
	assert.Equal(t, id, result.ID)
	assert.NoError(t, result.Warning())
	assert.Equal(t, 2, result.Teardown.Attempted)
	assert.Zero(t, h.liveCount())

	_, err = e.lifecycle.Status(ctx, id)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	_, err = e.lifecycle.Metrics(ctx, id)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Zero(t, e.metaRows(t))

	_, err = e.lifecycle.Remove(ctx, id)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRemoveReportsPartialTeardown(t *testing.T) {
	e := newEnv(t)
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc", "grpc")
	id := e.register(t, api.ID, e.envID)
	h.failUnpublish[api.Resources[0].ID] = errors.New("backend gone")

	result, err := e.lifecycle.Remove(context.Background(), id)
	require.NoError(t, err)

	warn := result.Warning()
	require.ErrorIs(t, warn, ErrPartialTeardown)
	var partial *UnpublishPartialFailure
	require.ErrorAs(t, warn, &partial)
	assert.Equal(t, api.ID, partial.APIID)
	assert.Equal(t, 2, partial.Attempted)
	require.Len(t, result.Failures(), 1)
	assert.Equal(t, api.Resources[0].ID, result.Failures()[0].ResourceID)
	assert.False(t, h.isLive(api.Resources[1].ID))

	_, err = e.lifecycle.Status(context.Background(), id)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestSharedAPIPublishedOnce(t *testing.T) {
	e := newEnv(t)
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	prod := e.addEnvironment(t, "prod")
	ctx := context.Background()

	first := e.register(t, api.ID, e.envID)
	second := e.register(t, api.ID, prod)
	assert.Equal(t, []string{"publish " + api.Resources[0].ID}, e.journal.entries())

	result, err := e.lifecycle.Remove(ctx, first)
	require.NoError(t, err)
	assert.Zero(t, result.Teardown.Attempted)
	assert.Equal(t, 1, h.liveCount())

	result, err = e.lifecycle.Remove(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Teardown.Attempted)
	assert.Zero(t, h.liveCount())
}

func TestRecordCallAccumulates(t *testing.T) {
	e := newEnv(t)
	e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	id := e.register(t, api.ID, e.envID)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.lifecycle.now = func() time.Time { return at }
	sink := &recordingSink{}
	e.lifecycle.SetSink(sink)

	m, err := e.lifecycle.Metrics(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0", m[MetricCalls])
	assert.Equal(t, "0.000", m[MetricAverageResponseMs])

	require.NoError(t, e.lifecycle.RecordCall(ctx, id, 10*time.Millisecond, false))
	require.NoError(t, e.lifecycle.RecordCall(ctx, id, 30*time.Millisecond, true))

	m, err = e.lifecycle.Metrics(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		MetricCalls:             "2",
		MetricErrors:            "1",
		MetricTotalResponseMs:   "40.000",
		MetricAverageResponseMs: "20.000",
		MetricLastCall:          at.Format(time.RFC3339Nano),
	}, m)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 30 * time.Millisecond}, sink.calls)

	assert.ErrorIs(t, e.lifecycle.RecordCall(ctx, "1:99", time.Millisecond, false), registry.ErrNotFound)
}

func TestProcessingChainOrder(t *testing.T) {
	e := newEnv(t)
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	id := e.register(t, api.ID, e.envID)
	ctx := context.Background()

	defs := make([]string, 12)
	for i := range defs {
		defs[i] = "header:X-Step=" + string(rune('a'+i))
		require.NoError(t, e.lifecycle.AddProcessing(ctx, id, defs[i]))
	}

	chain, err := e.lifecycle.Processing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, defs, chain)
	assert.Equal(t, defs, h.chainOf(api.ID, id))
}

func TestProcessingRejectedByHandler(t *testing.T) {
	e := newEnv(t)
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	id := e.register(t, api.ID, e.envID)
	ctx := context.Background()

	require.NoError(t, e.lifecycle.AddProcessing(ctx, id, "header:X-A=1"))
	h.chainErr = errors.New("unknown step")
	assert.ErrorContains(t, e.lifecycle.AddProcessing(ctx, id, "bogus"), "unknown step")

	chain, err := e.lifecycle.Processing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"header:X-A=1"}, chain)
}

func TestAdmitFollowsState(t *testing.T) {
	e := newEnv(t)
	e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	id := e.register(t, api.ID, e.envID)
	ctx := context.Background()

	_, err := e.lifecycle.Admit(ctx, api.ID)
	assert.ErrorIs(t, err, ErrNotAdmitted)

	require.NoError(t, e.lifecycle.Enable(ctx, id))
	got, err := e.lifecycle.Admit(ctx, api.ID)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	require.NoError(t, e.lifecycle.Disable(ctx, id))
	_, err = e.lifecycle.Admit(ctx, api.ID)
	assert.ErrorIs(t, err, ErrNotAdmitted)
}

func TestDispatchTimeout(t *testing.T) {
	e := newEnv(t)
	h := e.handler("grpc")
	h.block = true
	api := e.addAPI(t, "billing", "grpc")
	e.lifecycle.SetDispatchTimeout(50 * time.Millisecond)

	_, err := e.lifecycle.Register(context.Background(), RegisterRequest{
		APIID: api.ID, ServiceID: e.svcID, EnvironmentID: e.envID,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = e.lifecycle.Status(context.Background(), RegistrationID(e.svcID, e.envID))
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestTransitionsRecorded(t *testing.T) {
	e := newEnv(t)
	e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	e.lifecycle.SetMetrics(m)
	sink := &recordingSink{}
	e.lifecycle.SetSink(sink)
	ctx := context.Background()

	id := e.register(t, api.ID, e.envID)
	require.NoError(t, e.lifecycle.Enable(ctx, id))
	require.NoError(t, e.lifecycle.Enable(ctx, id))
	_, err = e.lifecycle.Remove(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, []string{"NONE>REGISTERED", "REGISTERED>ENABLED", "ENABLED>REMOVED"}, sink.transitions)
	assert.InDelta(t, 1, testutil.ToFloat64(m.transitions.WithLabelValues("REGISTERED", "ENABLED")), 0)
}

func TestConcurrentTransitionsSettle(t *testing.T) {
	e := newEnv(t)
	e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	id := e.register(t, api.ID, e.envID)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(enable bool) {
			defer wg.Done()
			if enable {
				assert.NoError(t, e.lifecycle.Enable(ctx, id))
			} else {
				assert.NoError(t, e.lifecycle.Disable(ctx, id))
			}
		}(i%2 == 0)
	}
	wg.Wait()

	state, err := e.lifecycle.Status(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, []registry.DeploymentState{registry.StateEnabled, registry.StateDisabled}, state)
}

func TestParseRegistrationID(t *testing.T) {
	svc, env, err := ParseRegistrationID("3:7")
	require.NoError(t, err)
	assert.Equal(t, "3", svc)
	assert.Equal(t, "7", env)

	_, _, err = ParseRegistrationID("37")
	assert.ErrorIs(t, err, ErrInvalidRegistration)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRestoreRepublishes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc", "grpc")
	id := e.register(t, api.ID, e.envID)
	require.NoError(t, e.lifecycle.AddProcessing(ctx, id, "header:X-Env=staging"))
	prod := e.register(t, api.ID, e.addEnvironment(t, "prod"))

	// A restarted gateway: same store, handlers with nothing published.
	dispatch := NewDispatcher(e.reg)
	h := newFakeHandler("grpc", e.journal)
	dispatch.Register(h)
	restarted := NewLifecycle(e.reg, dispatch)

	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a shared api is published once")
	assert.Equal(t, 2, h.liveCount())
	assert.Equal(t, []string{"header:X-Env=staging"}, h.chainOf(api.ID, id))
	assert.Empty(t, h.chainOf(api.ID, prod))
}

func TestRestoreContinuesPastFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.handler("grpc")
	e.handler("soap")
	broken := e.addAPI(t, "orders", "soap")
	fine := e.addAPI(t, "billing", "grpc")
	e.register(t, broken.ID, e.envID)
	e.register(t, fine.ID, e.addEnvironment(t, "prod"))

	dispatch := NewDispatcher(e.reg)
	h := newFakeHandler("grpc", e.journal)
	dispatch.Register(h)

	n, err := NewLifecycle(e.reg, dispatch).Restore(ctx)
	require.ErrorIs(t, err, ErrNoHandler)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.liveCount())
}

func TestRestoreEmptyStore(t *testing.T) {
	e := newEnv(t)
	n, err := e.lifecycle.Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSharedAPIKeepsChainsPerRegistration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	a := e.register(t, api.ID, e.envID)
	b := e.register(t, api.ID, e.addEnvironment(t, "prod"))

	require.NoError(t, e.lifecycle.AddProcessing(ctx, a, "header:X-A=1"))
	require.NoError(t, e.lifecycle.AddProcessing(ctx, b, "header:X-B=1"))
	assert.Equal(t, []string{"header:X-A=1"}, h.chainOf(api.ID, a))
	assert.Equal(t, []string{"header:X-B=1"}, h.chainOf(api.ID, b))

	result, err := e.lifecycle.Remove(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, result.Failures())
	assert.Empty(t, h.chainOf(api.ID, b), "removed registration's chain is withdrawn")
	assert.Equal(t, []string{"header:X-A=1"}, h.chainOf(api.ID, a))
	assert.Equal(t, 1, h.liveCount(), "api stays published for the survivor")
}

func TestRemoveReportsChainWithdrawalFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	a := e.register(t, api.ID, e.envID)
	b := e.register(t, api.ID, e.addEnvironment(t, "prod"))
	require.NoError(t, e.lifecycle.AddProcessing(ctx, b, "header:X-B=1"))

	h.mu.Lock()
	h.chainErr = errors.New("broker away")
	h.mu.Unlock()

	result, err := e.lifecycle.Remove(ctx, b)
	require.NoError(t, err, "a chain that cannot be withdrawn does not block removal")
	require.Len(t, result.Failures(), 1)
	assert.ErrorContains(t, result.Failures()[0].Err, "broker away")

	_, err = e.lifecycle.Status(ctx, b)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	state, err := e.lifecycle.Status(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, registry.StateRegistered, state)
}

func TestCatalogDeletesWaitForRemove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h := e.handler("grpc")
	api := e.addAPI(t, "billing", "grpc")
	id := e.register(t, api.ID, e.envID)

	assert.ErrorIs(t, e.reg.DeleteAPI(ctx, api.ID), registry.ErrConflict)
	assert.ErrorIs(t, e.reg.DeleteService(ctx, e.svcID), registry.ErrConflict)
	assert.ErrorIs(t, e.reg.DeleteEnvironment(ctx, e.envID), registry.ErrConflict)

	// Nothing was torn down by the refused deletes.
	assert.Equal(t, 1, h.liveCount())
	state, err := e.lifecycle.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, registry.StateRegistered, state)

	_, err = e.lifecycle.Remove(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, h.liveCount())

	require.NoError(t, e.reg.DeleteAPI(ctx, api.ID))
	require.NoError(t, e.reg.DeleteEnvironment(ctx, e.envID))
	require.NoError(t, e.reg.DeleteService(ctx, e.svcID))
}
