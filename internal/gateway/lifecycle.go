package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/registry"
)

// Metadata keys written on a registration.
const (
	// MetaAPIID holds the ID of the API a registration publishes.
	MetaAPIID = registry.MetaAPIRef

	metricPrefix     = "metric."
	processingPrefix = "processing."
)

// Keys of the map returned by Lifecycle.Metrics.
const (
	MetricCalls             = "calls"
	MetricErrors            = "errors"
	MetricTotalResponseMs   = "total_response_ms"
	MetricAverageResponseMs = "average_response_ms"
	MetricLastCall          = "last_call"
)

// Store is the part of the registry the lifecycle service needs.
type Store interface {
	APILoader
	GetService(ctx context.Context, id string) (*registry.Service, error)
	GetEnvironment(ctx context.Context, id string) (*registry.Environment, error)
	Deploy(ctx context.Context, d *registry.Deployment, meta registry.Metadata) error
	GetDeployment(ctx context.Context, serviceID, environmentID string) (*registry.Deployment, error)
	ListAllDeployments(ctx context.Context) ([]registry.Deployment, error)
	SetDeploymentState(ctx context.Context, serviceID, environmentID string, state registry.DeploymentState) error
	Undeploy(ctx context.Context, serviceID, environmentID string) error
	GetMetadata(ctx context.Context, serviceID, environmentID, key string) (string, error)
	ListMetadata(ctx context.Context, serviceID, environmentID string) (registry.Metadata, error)
	MutateMetadata(ctx context.Context, serviceID, environmentID string, fn func(registry.Metadata) error) error
	FindDeploymentsByMetadata(ctx context.Context, key, value string) ([]registry.Deployment, error)
}

// Publisher is the part of the dispatcher the lifecycle service needs.
type Publisher interface {
	Publish(ctx context.Context, api *catalog.API) error
	Unpublish(ctx context.Context, api *catalog.API) TeardownReport
	Delete(ctx context.Context, apiID string) (TeardownReport, error)
	ConfigureChain(ctx context.Context, api *catalog.API, registrationID string, chain []string) error
}

// RegisterRequest asks for an API to be served by a service in an
// environment.
type RegisterRequest struct {
	APIID         string
	ServiceID     string
	EnvironmentID string
	Version       string
	Endpoint      string
	Gateway       string
}

// RemoveResult reports a completed removal. Teardown holds the backend
// teardown outcome; the registration is gone regardless of its failures.
type RemoveResult struct {
	ID       string
	State    registry.DeploymentState
	Teardown TeardownReport
}

// Failures lists the resources whose teardown failed.
func (r RemoveResult) Failures() []UnpublishFailure {
	return r.Teardown.Failures
}

// Warning returns the teardown failures as an *UnpublishPartialFailure, or nil.
func (r RemoveResult) Warning() error {
	return r.Teardown.Err()
}

// RegistrationID formats the ID of the registration of a service in an
// environment.
func RegistrationID(serviceID, environmentID string) string {
	return serviceID + ":" + environmentID
}

// ParseRegistrationID splits a registration ID. A malformed ID can never
// have existed, so the error also matches registry.ErrNotFound.
func ParseRegistrationID(id string) (serviceID, environmentID string, err error) {
	serviceID, environmentID, ok := strings.Cut(id, ":")
	if !ok || serviceID == "" || environmentID == "" || strings.Contains(environmentID, ":") {
		return "", "", fmt.Errorf("%w: %w: %q", registry.ErrNotFound, ErrInvalidRegistration, id)
	}
	return serviceID, environmentID, nil
}

// Lifecycle drives the registration state machine:
//
//	REGISTERED -> ENABLED <-> DISABLED -> REMOVED
//
// Calls on the same registration are serialized; so are Register and
// Remove calls on the same API, which decide whether the API needs
// publishing or teardown. A new state is persisted only after dispatch
// has returned.
type Lifecycle struct {
	store    Store
	dispatch Publisher
	locks    *keyLock
	timeout  time.Duration

	metrics *Metrics
	sink    MetricSink
	logger  Logger
	now     func() time.Time
}

// NewLifecycle creates the lifecycle service.
func NewLifecycle(store Store, dispatch Publisher) *Lifecycle {
	return &Lifecycle{
		store:    store,
		dispatch: dispatch,
		locks:    newKeyLock(),
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the lifecycle service.
func (l *Lifecycle) SetLogger(logger Logger) {
	l.logger = logger
}

// SetMetrics attaches Prometheus collectors.
func (l *Lifecycle) SetMetrics(m *Metrics) {
	l.metrics = m
}

// SetSink attaches a long-term metric sink.
func (l *Lifecycle) SetSink(sink MetricSink) {
	l.sink = sink
}

// SetDispatchTimeout bounds dispatch calls made on a context without a
// deadline. Zero disables the bound.
func (l *Lifecycle) SetDispatchTimeout(d time.Duration) {
	l.timeout = d
}

func (l *Lifecycle) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || l.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.timeout)
}

// Register publishes the API and records the registration in state
// REGISTERED. If publishing fails nothing is stored; if storing fails the
// publish is undone. An API already published by another registration is
// not published again.
func (l *Lifecycle) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if req.APIID == "" || req.ServiceID == "" || req.EnvironmentID == "" {
		return "", fmt.Errorf("%w: api, service and environment are required", ErrInvalidRegistration)
	}
	if strings.Contains(req.ServiceID, ":") || strings.Contains(req.EnvironmentID, ":") {
		return "", fmt.Errorf("%w: ids must not contain ':'", ErrInvalidRegistration)
	}
	id := RegistrationID(req.ServiceID, req.EnvironmentID)

	defer l.locks.Lock("api:" + req.APIID)()
	defer l.locks.Lock(id)()

	switch _, err := l.store.GetDeployment(ctx, req.ServiceID, req.EnvironmentID); {
	case err == nil:
		return "", fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	case !errors.Is(err, registry.ErrNotFound):
		return "", err
	}
	if _, err := l.store.GetService(ctx, req.ServiceID); err != nil {
		return "", err
	}
	if _, err := l.store.GetEnvironment(ctx, req.EnvironmentID); err != nil {
		return "", err
	}
	api, err := l.store.GetAPI(ctx, req.APIID)
	if err != nil {
		return "", err
	}

	peers, err := l.store.FindDeploymentsByMetadata(ctx, MetaAPIID, req.APIID)
	if err != nil {
		return "", err
	}
	publish := len(peers) == 0

	if publish {
		dctx, cancel := l.withTimeout(ctx)
		err := l.dispatch.Publish(dctx, api)
		cancel()
		if err != nil {
			l.logger.Warn("registration rejected", "id", id, "api", req.APIID, "error", err)
			return "", err
		}
	}

	dep := &registry.Deployment{
		ServiceID:     req.ServiceID,
		EnvironmentID: req.EnvironmentID,
		State:         registry.StateRegistered,
		Version:       req.Version,
		Endpoint:      req.Endpoint,
		Gateway:       req.Gateway,
	}
	meta := registry.Metadata{MetaAPIID: req.APIID}
	meta[metricPrefix+MetricCalls] = "0"
	meta[metricPrefix+MetricErrors] = "0"
	meta[metricPrefix+MetricTotalResponseMs] = formatMs(0)
	if err := l.store.Deploy(ctx, dep, meta); err != nil {
		if publish {
			report := l.dispatch.Unpublish(context.WithoutCancel(ctx), api)
			if terr := report.Err(); terr != nil {
				l.logger.Error("compensating teardown failed", "id", id, "api", req.APIID, "error", terr)
				err = errors.Join(err, terr)
			}
		}
		return "", err
	}

	l.transitioned(ctx, id, "", registry.StateRegistered)
	return id, nil
}

// Enable allows traffic to a registration. Enabling an enabled
// registration is a no-op.
func (l *Lifecycle) Enable(ctx context.Context, id string) error {
	return l.transition(ctx, id, registry.StateEnabled, registry.StateRegistered, registry.StateDisabled)
}

// Disable stops traffic to a registration. Resources stay published and
// metrics are kept. Disabling a disabled registration is a no-op.
func (l *Lifecycle) Disable(ctx context.Context, id string) error {
	return l.transition(ctx, id, registry.StateDisabled, registry.StateRegistered, registry.StateEnabled)
}

func (l *Lifecycle) transition(ctx context.Context, id string, to registry.DeploymentState, from ...registry.DeploymentState) error {
	svc, env, err := ParseRegistrationID(id)
	if err != nil {
		return err
	}
	defer l.locks.Lock(id)()

	dep, err := l.store.GetDeployment(ctx, svc, env)
	if err != nil {
		return err
	}
	if dep.State == to {
		return nil
	}
	if !slices.Contains(from, dep.State) {
		return fmt.Errorf("%w: %s from %s to %s", ErrInvalidTransition, id, dep.State, to)
	}
	if err := l.store.SetDeploymentState(ctx, svc, env, to); err != nil {
		return err
	}
	l.transitioned(ctx, id, dep.State, to)
	return nil
}

// Remove tears the API down through the dispatcher, then deletes the
// registration with its metadata and metrics. Teardown failures do not
// block the deletion; they are logged and returned in the result. An API
// still used by another registration is left published.
func (l *Lifecycle) Remove(ctx context.Context, id string) (RemoveResult, error) {
	svc, env, err := ParseRegistrationID(id)
	if err != nil {
		return RemoveResult{}, err
	}

	// Read the API ID before locking so that locks are always taken API
	// first, registration second.
	if _, err := l.store.GetDeployment(ctx, svc, env); err != nil {
		return RemoveResult{}, err
	}
	apiID, err := l.store.GetMetadata(ctx, svc, env, MetaAPIID)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return RemoveResult{}, err
	}
	if apiID != "" {
		defer l.locks.Lock("api:" + apiID)()
	}
	defer l.locks.Lock(id)()

	dep, err := l.store.GetDeployment(ctx, svc, env)
	if err != nil {
		return RemoveResult{}, err
	}

	result := RemoveResult{ID: id, State: registry.StateRemoved}
	if apiID != "" {
		teardown, err := l.needsTeardown(ctx, apiID, id)
		if err != nil {
			return RemoveResult{}, err
		}
		chainErr := l.dropChain(ctx, svc, env, id, apiID)
		if teardown {
			result.Teardown = l.teardown(ctx, id, apiID)
		}
		if chainErr != nil {
			l.logger.Warn("processing chain not dropped", "id", id, "api", apiID, "error", chainErr)
			result.Teardown.Failures = append(result.Teardown.Failures, UnpublishFailure{Err: chainErr})
		}
	}

	if err := l.store.Undeploy(ctx, svc, env); err != nil {
		return RemoveResult{}, err
	}
	l.transitioned(ctx, id, dep.State, registry.StateRemoved)
	return result, nil
}

// needsTeardown reports whether id is the last registration of apiID.
func (l *Lifecycle) needsTeardown(ctx context.Context, apiID, id string) (bool, error) {
	peers, err := l.store.FindDeploymentsByMetadata(ctx, MetaAPIID, apiID)
	if err != nil {
		return false, err
	}
	for _, p := range peers {
		if RegistrationID(p.ServiceID, p.EnvironmentID) != id {
			return false, nil
		}
	}
	return true, nil
}

// dropChain withdraws the processing chain of a registration from the
// handlers so that peers sharing the API no longer serve it.
func (l *Lifecycle) dropChain(ctx context.Context, svc, env, id, apiID string) error {
	meta, err := l.store.ListMetadata(ctx, svc, env)
	if err != nil {
		return err
	}
	if len(processingChain(meta)) == 0 {
		return nil
	}
	api, err := l.store.GetAPI(ctx, apiID)
	if err != nil {
		return err
	}
	dctx, cancel := l.withTimeout(ctx)
	defer cancel()
	return l.dispatch.ConfigureChain(dctx, api, id, nil)
}

func (l *Lifecycle) teardown(ctx context.Context, id, apiID string) TeardownReport {
	dctx, cancel := l.withTimeout(ctx)
	defer cancel()

	report, err := l.dispatch.Delete(dctx, apiID)
	if err != nil {
		l.logger.Warn("api teardown skipped", "id", id, "api", apiID, "error", err)
		report.Failures = append(report.Failures, UnpublishFailure{Err: err})
		return report
	}
	if terr := report.Err(); terr != nil {
		l.logger.Warn("api teardown incomplete", "id", id, "api", apiID, "error", terr)
	}
	return report
}

// Status returns the current state of a registration.
func (l *Lifecycle) Status(ctx context.Context, id string) (registry.DeploymentState, error) {
	svc, env, err := ParseRegistrationID(id)
	if err != nil {
		return "", err
	}
	dep, err := l.store.GetDeployment(ctx, svc, env)
	if err != nil {
		return "", err
	}
	return dep.State, nil
}

// Metrics returns the accumulated call metrics of a registration.
func (l *Lifecycle) Metrics(ctx context.Context, id string) (map[string]string, error) {
	svc, env, err := ParseRegistrationID(id)
	if err != nil {
		return nil, err
	}
	meta, err := l.store.ListMetadata(ctx, svc, env)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for k, v := range meta {
		if name, ok := strings.CutPrefix(k, metricPrefix); ok {
			out[name] = v
		}
	}
	calls := parseCount(out[MetricCalls])
	total := parseMs(out[MetricTotalResponseMs])
	avg := 0.0
	if calls > 0 {
		avg = total / float64(calls)
	}
	out[MetricAverageResponseMs] = formatMs(avg)
	return out, nil
}

// RecordCall adds one served call to a registration's metrics. It is
// called by the traffic-serving boundary.
func (l *Lifecycle) RecordCall(ctx context.Context, id string, elapsed time.Duration, failed bool) error {
	svc, env, err := ParseRegistrationID(id)
	if err != nil {
		return err
	}
	defer l.locks.Lock(id)()

	now := l.now().UTC()
	err = l.store.MutateMetadata(ctx, svc, env, func(m registry.Metadata) error {
		calls := parseCount(m[metricPrefix+MetricCalls])
		errs := parseCount(m[metricPrefix+MetricErrors])
		total := parseMs(m[metricPrefix+MetricTotalResponseMs])

		calls++
		if failed {
			errs++
		}
		total += float64(elapsed.Microseconds()) / 1000

		m[metricPrefix+MetricCalls] = strconv.FormatInt(calls, 10)
		m[metricPrefix+MetricErrors] = strconv.FormatInt(errs, 10)
		m[metricPrefix+MetricTotalResponseMs] = formatMs(total)
		m[metricPrefix+MetricLastCall] = now.Format(time.RFC3339Nano)
		return nil
	})
	if err != nil {
		return err
	}

	l.metrics.recordCall(failed)
	if l.sink != nil {
		l.sink.WriteCall(ctx, id, elapsed, failed)
	}
	return nil
}

// AddProcessing appends an opaque processing definition to a registration
// and hands the whole chain to the handlers of the API. A handler error
// leaves the chain unchanged.
func (l *Lifecycle) AddProcessing(ctx context.Context, id, definition string) error {
	svc, env, err := ParseRegistrationID(id)
	if err != nil {
		return err
	}
	defer l.locks.Lock(id)()

	var api *catalog.API
	apiID, err := l.store.GetMetadata(ctx, svc, env, MetaAPIID)
	switch {
	case err == nil:
		if api, err = l.store.GetAPI(ctx, apiID); err != nil {
			return err
		}
	case !errors.Is(err, registry.ErrNotFound):
		return err
	}

	// The store reports fn's error as a persistence failure; hand the
	// handler's own error back instead.
	var rejected error
	err = l.store.MutateMetadata(ctx, svc, env, func(m registry.Metadata) error {
		chain := processingChain(m)
		m[fmt.Sprintf("%s%04d", processingPrefix, len(chain))] = definition
		if api == nil {
			return nil
		}
		dctx, cancel := l.withTimeout(ctx)
		defer cancel()
		rejected = l.dispatch.ConfigureChain(dctx, api, id, append(chain, definition))
		return rejected
	})
	if rejected != nil {
		return rejected
	}
	return err
}

// Processing returns the processing chain of a registration in insertion
// order.
func (l *Lifecycle) Processing(ctx context.Context, id string) ([]string, error) {
	svc, env, err := ParseRegistrationID(id)
	if err != nil {
		return nil, err
	}
	meta, err := l.store.ListMetadata(ctx, svc, env)
	if err != nil {
		return nil, err
	}
	return processingChain(meta), nil
}

// Admit returns the enabled registration serving apiID. Traffic for an API
// whose registrations are all registered or disabled is refused with
// ErrNotAdmitted.
func (l *Lifecycle) Admit(ctx context.Context, apiID string) (string, error) {
	deps, err := l.store.FindDeploymentsByMetadata(ctx, MetaAPIID, apiID)
	if err != nil {
		return "", err
	}
	for _, d := range deps {
		if d.State == registry.StateEnabled {
			return RegistrationID(d.ServiceID, d.EnvironmentID), nil
		}
	}
	return "", fmt.Errorf("%w: api %s", ErrNotAdmitted, apiID)
}

// Restore republishes every API that has a registration and hands each
// registration's processing chain back to its handlers. Handlers keep no
// state of their own, so a starting gateway calls this once before serving
// traffic. Failures are collected; the remaining APIs are still restored.
// It returns the number of APIs published.
func (l *Lifecycle) Restore(ctx context.Context) (int, error) {
	deps, err := l.store.ListAllDeployments(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	apis := make(map[string]*catalog.API)
	restored := 0
	for _, d := range deps {
		id := RegistrationID(d.ServiceID, d.EnvironmentID)
		meta, err := l.store.ListMetadata(ctx, d.ServiceID, d.EnvironmentID)
		if err != nil {
			errs = append(errs, fmt.Errorf("restoring %s: %w", id, err))
			continue
		}
		apiID := meta[MetaAPIID]
		if apiID == "" {
			continue
		}

		api, seen := apis[apiID]
		if !seen {
			api, err = l.store.GetAPI(ctx, apiID)
			if err == nil {
				dctx, cancel := l.withTimeout(ctx)
				err = l.dispatch.Publish(dctx, api)
				cancel()
			}
			if err != nil {
				apis[apiID] = nil
				errs = append(errs, fmt.Errorf("restoring api %s for %s: %w", apiID, id, err))
				continue
			}
			apis[apiID] = api
			restored++
		}
		if api == nil {
			continue
		}

		if chain := processingChain(meta); len(chain) > 0 {
			dctx, cancel := l.withTimeout(ctx)
			err := l.dispatch.ConfigureChain(dctx, api, id, chain)
			cancel()
			if err != nil {
				errs = append(errs, fmt.Errorf("restoring chain of %s: %w", id, err))
			}
		}
	}

	l.logger.Info("registrations restored", "apis", restored, "registrations", len(deps), "failures", len(errs))
	return restored, errors.Join(errs...)
}

func (l *Lifecycle) transitioned(ctx context.Context, id string, from, to registry.DeploymentState) {
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "NONE"
	}
	l.metrics.recordTransition(fromLabel, string(to))
	if l.sink != nil {
		l.sink.WriteTransition(ctx, id, fromLabel, string(to))
	}
	l.logger.Info("registration state changed", "id", id, "from", fromLabel, "to", string(to))
}

// processingChain extracts processing definitions ordered by index.
func processingChain(m registry.Metadata) []string {
	type step struct {
		idx int
		def string
	}
	var steps []step
	for k, v := range m {
		suffix, ok := strings.CutPrefix(k, processingPrefix)
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		steps = append(steps, step{idx: idx, def: v})
	}
	slices.SortFunc(steps, func(a, b step) int { return a.idx - b.idx })

	chain := make([]string, 0, len(steps))
	for _, s := range steps {
		chain = append(chain, s.def)
	}
	return chain
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// parseCount and parseMs read stored metrics; absent or garbled values
// count as zero.
func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseMs(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
