package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/vineyard-core/internal/registry"
)

func TestPublishDelegatesByType(t *testing.T) {
	j := &journal{}
	d := NewDispatcher(nil)
	grpc := newFakeHandler("grpc", j)
	soap := newFakeHandler("soap", j)
	d.Register(grpc)
	d.Register(soap)

	require.NoError(t, d.Publish(context.Background(), apiOf("a1", "grpc", "soap", "grpc")))

	assert.True(t, grpc.isLive("r0"))
	assert.True(t, soap.isLive("r1"))
	assert.True(t, grpc.isLive("r2"))
	assert.Equal(t, []string{"publish r0", "publish r1", "publish r2"}, j.entries())
}

func TestPublishWithoutHandlerRollsBack(t *testing.T) {
	j := &journal{}
	d := NewDispatcher(nil)
	grpc := newFakeHandler("grpc", j)
	d.Register(grpc)

	err := d.Publish(context.Background(), apiOf("a1", "grpc", "grpc", "soap"))
	require.Error(t, err)

	var nh *NoHandlerError
	require.ErrorAs(t, err, &nh)
	assert.Equal(t, "soap", nh.Type)
	assert.ErrorIs(t, err, ErrNoHandler)
	assert.Zero(t, grpc.liveCount())
	assert.Equal(t, []string{"publish r0", "publish r1", "unpublish r1", "unpublish r0"}, j.entries())
}

func TestResolveAmbiguousRegardlessOfOrder(t *testing.T) {
	for _, order := range [][]string{{"first", "second"}, {"second", "first"}} {
		d := NewDispatcher(nil)
		for range order {
			d.Register(newFakeHandler("grpc", nil))
		}
		_, err := d.Resolve("grpc")

		var amb *AmbiguousHandlerError
		require.ErrorAs(t, err, &amb)
		assert.Equal(t, 2, amb.Count)
		assert.ErrorIs(t, err, ErrAmbiguousHandler)
	}
}

func TestDeregisterResolvesAmbiguity(t *testing.T) {
	d := NewDispatcher(nil)
	keep := newFakeHandler("grpc", nil)
	d.Register(keep)
	extra := d.Register(newFakeHandler("grpc", nil))

	_, err := d.Resolve("grpc")
	require.ErrorIs(t, err, ErrAmbiguousHandler)

	assert.True(t, d.Deregister(extra))
	assert.False(t, d.Deregister(extra))

	h, err := d.Resolve("grpc")
	require.NoError(t, err)
	assert.Same(t, keep, h)
}

func TestPublishRollsBackInReverseOrder(t *testing.T) {
	j := &journal{}
	d := NewDispatcher(nil)
	h := newFakeHandler("grpc", j)
	h.failPublish["r3"] = errors.New("backend refused")
	d.Register(h)

	err := d.Publish(context.Background(), apiOf("a1", "grpc", "grpc", "grpc", "grpc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend refused")
	assert.NotErrorIs(t, err, ErrPartialTeardown)

	assert.Equal(t, []string{
		"publish r0", "publish r1", "publish r2", "publish r3",
		"unpublish r2", "unpublish r1", "unpublish r0",
	}, j.entries())
	assert.Zero(t, h.liveCount())
}

func TestPublishJoinsRollbackFailures(t *testing.T) {
	d := NewDispatcher(nil)
	h := newFakeHandler("grpc", nil)
	cause := errors.New("backend refused")
	h.failPublish["r1"] = cause
	h.failUnpublish["r0"] = errors.New("backend gone")
	d.Register(h)

	err := d.Publish(context.Background(), apiOf("a1", "grpc", "grpc"))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrPartialTeardown)

	var partial *UnpublishPartialFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Attempted)
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, "r0", partial.Failures[0].ResourceID)
}

func TestPublishCancelledContext(t *testing.T) {
	d := NewDispatcher(nil)
	h := newFakeHandler("grpc", nil)
	d.Register(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Publish(ctx, apiOf("a1", "grpc"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.liveCount())
}

func TestUnpublishContinuesPastFailures(t *testing.T) {
	j := &journal{}
	d := NewDispatcher(nil)
	h := newFakeHandler("grpc", j)
	d.Register(h)
	api := apiOf("a1", "grpc", "grpc", "soap")
	require.NoError(t, d.Publish(context.Background(), apiOf("a1", "grpc", "grpc")))
	h.failUnpublish["r0"] = errors.New("backend gone")

	report := d.Unpublish(context.Background(), api)

	assert.Equal(t, "a1", report.APIID)
	assert.Equal(t, 3, report.Attempted)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, "r0", report.Failures[0].ResourceID)
	assert.Equal(t, "r2", report.Failures[1].ResourceID)
	assert.ErrorIs(t, report.Failures[1].Err, ErrNoHandler)
	assert.False(t, h.isLive("r1"))

	err := report.Err()
	assert.ErrorIs(t, err, ErrPartialTeardown)
	assert.Contains(t, err.Error(), "2 of 3")
}

func TestUnpublishCleanReportHasNoError(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(newFakeHandler("grpc", nil))

	report := d.Unpublish(context.Background(), apiOf("a1", "grpc"))
	assert.NoError(t, report.Err())
	assert.Empty(t, report.Failures)
}

func TestDeleteLoadsStoredAPI(t *testing.T) {
	d := NewDispatcher(staticLoader{"a1": apiOf("a1", "grpc", "grpc")})
	h := newFakeHandler("grpc", nil)
	d.Register(h)
	require.NoError(t, d.Publish(context.Background(), apiOf("a1", "grpc", "grpc")))

	report, err := d.Delete(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Zero(t, h.liveCount())

	_, err = d.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestObserversSeeHandlerChanges(t *testing.T) {
	d := NewDispatcher(nil)
	var events []HandlerEvent
	d.Observe(func(ev HandlerEvent) { events = append(events, ev) })

	id := d.Register(newFakeHandler("grpc", nil))
	d.Deregister(id)
	d.Deregister(id)

	require.Len(t, events, 2)
	assert.Equal(t, HandlerEvent{Kind: HandlerAdded, ID: id, Type: "grpc"}, events[0])
	assert.Equal(t, HandlerEvent{Kind: HandlerRemoved, ID: id, Type: "grpc"}, events[1])
	assert.Equal(t, "added", HandlerAdded.String())
	assert.Equal(t, "removed", HandlerRemoved.String())
}

func TestConfigureChainSkipsPlainHandlers(t *testing.T) {
	d := NewDispatcher(nil)
	grpc := newFakeHandler("grpc", nil)
	d.Register(grpc)
	d.Register(plainHandler{typ: "soap"})

	chain := []string{"header:X-Trace=1"}
	require.NoError(t, d.ConfigureChain(context.Background(), apiOf("a1", "grpc", "soap"), "1:2", chain))
	assert.Equal(t, chain, grpc.chainOf("a1", "1:2"))
	assert.Empty(t, grpc.chainOf("a1", "1:3"))

	grpc.chainErr = errors.New("bad definition")
	err := d.ConfigureChain(context.Background(), apiOf("a1", "grpc"), "1:2", chain)
	assert.ErrorContains(t, err, "bad definition")

	err = d.ConfigureChain(context.Background(), apiOf("a1", "jms"), "1:2", chain)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestDispatcherMetrics(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	d := NewDispatcher(nil)
	d.SetMetrics(m)
	h := newFakeHandler("grpc", nil)
	h.failPublish["r1"] = errors.New("backend refused")
	d.Register(h)
	assert.InDelta(t, 1, testutil.ToFloat64(m.handlers), 0)

	require.Error(t, d.Publish(context.Background(), apiOf("a1", "grpc", "grpc")))
	require.Error(t, d.Publish(context.Background(), apiOf("a2", "soap")))

	assert.InDelta(t, 1, testutil.ToFloat64(m.publishes.WithLabelValues("grpc", outcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.publishes.WithLabelValues("grpc", outcomeError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.publishes.WithLabelValues("grpc", outcomeRolledBack)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.publishes.WithLabelValues("soap", outcomeNoHandler)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.unpublishes.WithLabelValues("grpc", outcomeOK)), 0)
}

func TestNewMetricsRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestConcurrentResolveAndRegister(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(newFakeHandler("grpc", nil))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := d.Register(newFakeHandler("soap", nil))
			d.Deregister(id)
		}()
		go func() {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				_, err := d.Resolve("grpc")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	_, err := d.Resolve("soap")
	assert.ErrorIs(t, err, ErrNoHandler)
}
