package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/vineyard-core/internal/catalog"
)

// APILoader loads a stored API with its resources.
type APILoader interface {
	GetAPI(ctx context.Context, id string) (*catalog.API, error)
}

// Dispatcher maps resource types to the one handler that publishes them.
//
// Handler registration and removal take the write lock; lookups share the
// read lock and run concurrently. Handler calls are made without holding
// any lock, so a slow handler never blocks registration.
type Dispatcher struct {
	apis APILoader

	mu        sync.RWMutex
	handlers  map[HandlerID]Handler
	nextID    HandlerID
	observers []Observer

	metrics *Metrics
	logger  Logger
}

// NewDispatcher creates a dispatcher that loads APIs through apis.
func NewDispatcher(apis APILoader) *Dispatcher {
	return &Dispatcher{
		apis:     apis,
		handlers: make(map[HandlerID]Handler),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetMetrics attaches Prometheus collectors.
func (d *Dispatcher) SetMetrics(m *Metrics) {
	d.metrics = m
}

// Observe adds an observer for handler events.
func (d *Dispatcher) Observe(o Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// Register adds a handler and returns the ID needed to remove it.
// Registering a second handler for a type is allowed, but every lookup of
// that type then fails with AmbiguousHandlerError until one is removed.
func (d *Dispatcher) Register(h Handler) HandlerID {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[id] = h
	count := len(d.handlers)
	observers := d.observers
	d.mu.Unlock()

	d.metrics.setHandlers(count)
	d.logger.Info("handler registered", "id", id, "type", h.Type())
	notify(observers, HandlerEvent{Kind: HandlerAdded, ID: id, Type: h.Type()})
	return id
}

// Deregister removes a handler. It reports whether the ID was known.
func (d *Dispatcher) Deregister(id HandlerID) bool {
	d.mu.Lock()
	h, ok := d.handlers[id]
	if ok {
		delete(d.handlers, id)
	}
	count := len(d.handlers)
	observers := d.observers
	d.mu.Unlock()

	if !ok {
		return false
	}
	d.metrics.setHandlers(count)
	d.logger.Info("handler deregistered", "id", id, "type", h.Type())
	notify(observers, HandlerEvent{Kind: HandlerRemoved, ID: id, Type: h.Type()})
	return true
}

func notify(observers []Observer, ev HandlerEvent) {
	for _, o := range observers {
		o(ev)
	}
}

// Resolve returns the single handler for typ. No handler yields
// *NoHandlerError; more than one yields *AmbiguousHandlerError, whatever
// the registration order.
func (d *Dispatcher) Resolve(typ string) (Handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var found Handler
	count := 0
	for _, h := range d.handlers {
		if h.Type() == typ {
			found = h
			count++
		}
	}

	switch count {
	case 0:
		return nil, &NoHandlerError{Type: typ}
	case 1:
		return found, nil
	default:
		return nil, &AmbiguousHandlerError{Type: typ, Count: count}
	}
}

// published pairs a resource with the handler that accepted it.
type published struct {
	res     *catalog.Resource
	handler Handler
}

// Publish hands every resource of api to its handler in declaration order.
//
// It is all-or-nothing: when a lookup or a handler fails, the resources
// already published by this call are unpublished in reverse order and the
// original error is returned, joined with any rollback failures.
func (d *Dispatcher) Publish(ctx context.Context, api *catalog.API) error {
	done := make([]published, 0, len(api.Resources))

	for i := range api.Resources {
		res := &api.Resources[i]

		err := ctx.Err()
		var h Handler
		if err == nil {
			h, err = d.Resolve(res.Type)
		}
		if err == nil {
			err = h.Publish(ctx, api, res)
			if err != nil {
				err = fmt.Errorf("publishing resource %s (%s): %w", res.ID, res.Type, err)
			}
		}
		if err != nil {
			d.metrics.recordPublish(res.Type, publishOutcome(err))
			d.logger.Warn("publish failed, rolling back",
				"api", api.ID, "resource", res.ID, "type", res.Type, "published", len(done), "error", err)
			return errors.Join(err, d.rollback(ctx, api.ID, done))
		}

		d.metrics.recordPublish(res.Type, outcomeOK)
		done = append(done, published{res: res, handler: h})
	}

	d.logger.Info("api published", "api", api.ID, "resources", len(done))
	return nil
}

// rollback unpublishes in reverse order. The caller's context may already
// be cancelled, so the teardown runs on a context that keeps its values
// but not its cancellation.
func (d *Dispatcher) rollback(ctx context.Context, apiID string, done []published) error {
	if len(done) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var failures []UnpublishFailure
	for i := len(done) - 1; i >= 0; i-- {
		p := done[i]
		err := p.handler.Unpublish(ctx, p.res.ID)
		d.metrics.recordUnpublish(p.res.Type, err)
		d.metrics.recordPublish(p.res.Type, outcomeRolledBack)
		if err != nil {
			failures = append(failures, UnpublishFailure{ResourceID: p.res.ID, Type: p.res.Type, Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &UnpublishPartialFailure{APIID: apiID, Attempted: len(done), Failures: failures}
}

func publishOutcome(err error) string {
	switch {
	case errors.Is(err, ErrNoHandler):
		return outcomeNoHandler
	case errors.Is(err, ErrAmbiguousHandler):
		return outcomeAmbiguous
	default:
		return outcomeError
	}
}

// TeardownReport is the result of unpublishing an API.
type TeardownReport struct {
	APIID     string
	Attempted int
	Failures  []UnpublishFailure
}

// Err returns an *UnpublishPartialFailure when any resource failed.
func (r TeardownReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &UnpublishPartialFailure{APIID: r.APIID, Attempted: r.Attempted, Failures: r.Failures}
}

// Unpublish removes every resource of api from its handler. Failures,
// including missing or ambiguous handlers, are recorded and the remaining
// resources are still attempted.
func (d *Dispatcher) Unpublish(ctx context.Context, api *catalog.API) TeardownReport {
	report := TeardownReport{APIID: api.ID, Attempted: len(api.Resources)}

	for i := range api.Resources {
		res := &api.Resources[i]
		h, err := d.Resolve(res.Type)
		if err == nil {
			err = h.Unpublish(ctx, res.ID)
		}
		d.metrics.recordUnpublish(res.Type, err)
		if err != nil {
			d.logger.Warn("unpublish failed", "api", api.ID, "resource", res.ID, "type", res.Type, "error", err)
			report.Failures = append(report.Failures, UnpublishFailure{ResourceID: res.ID, Type: res.Type, Err: err})
		}
	}
	return report
}

// Delete loads the stored API and unpublishes its resources. The error is
// non-nil only when the API cannot be loaded; per-resource failures are in
// the report.
func (d *Dispatcher) Delete(ctx context.Context, apiID string) (TeardownReport, error) {
	api, err := d.apis.GetAPI(ctx, apiID)
	if err != nil {
		return TeardownReport{APIID: apiID}, fmt.Errorf("loading api %s: %w", apiID, err)
	}
	return d.Unpublish(ctx, api), nil
}

// ConfigureChain passes the chain of one registration to every
// ChainConfigurer handling a resource type of api.
func (d *Dispatcher) ConfigureChain(ctx context.Context, api *catalog.API, registrationID string, chain []string) error {
	for _, typ := range api.Types() {
		h, err := d.Resolve(typ)
		if err != nil {
			return err
		}
		cc, ok := h.(ChainConfigurer)
		if !ok {
			continue
		}
		if err := cc.ConfigureChain(ctx, api.ID, registrationID, chain); err != nil {
			return fmt.Errorf("configuring %s chain of %s for api %s: %w", typ, registrationID, api.ID, err)
		}
	}
	return nil
}
