package registry

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Default cache timings.
const (
	DefaultCacheTTL             = 5 * time.Minute
	DefaultCacheCleanupInterval = 10 * time.Minute
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the registry service façade. It wraps a Repository and serves
// service, environment and maintainer lookups through a TTL cache.
//
// Every mutation of a cached entity evicts it, so a Get following a
// successful Update or Delete never sees the old row. Cached values are
// stored by value and each Get returns a fresh copy.
//
// Operations not overridden here go straight to the Repository.
// All public methods are safe for concurrent use.
type Registry struct {
	Repository
	cache  *gocache.Cache
	logger Logger
}

// NewRegistry creates a registry over repo. A non-positive ttl uses
// DefaultCacheTTL.
func NewRegistry(repo Repository, ttl, cleanup time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if cleanup <= 0 {
		cleanup = DefaultCacheCleanupInterval
	}
	return &Registry{
		Repository: repo,
		cache:      gocache.New(ttl, cleanup),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// FlushCache drops every cached entry.
func (r *Registry) FlushCache() {
	r.cache.Flush()
}

// cached returns a copy of the value under key, loading and storing it on
// a miss. Errors are never cached.
func cached[T any](r *Registry, key string, load func() (*T, error)) (*T, error) {
	if v, ok := r.cache.Get(key); ok {
		if entry, ok := v.(T); ok {
			r.logger.Debug("registry cache hit", "key", key)
			return &entry, nil
		}
		r.logger.Error("registry cache holds wrong type", "key", key)
		r.cache.Delete(key)
	}

	loaded, err := load()
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, *loaded)
	cp := *loaded
	return &cp, nil
}

func serviceKey(id string) string     { return "service:" + id }
func environmentKey(id string) string { return "environment:" + id }
func maintainerKey(name string) string {
	return "maintainer:" + name
}

// GetService returns a service, from cache when possible.
func (r *Registry) GetService(ctx context.Context, id string) (*Service, error) {
	return cached(r, serviceKey(id), func() (*Service, error) {
		return r.Repository.GetService(ctx, id)
	})
}

// AddService stores a new service.
func (r *Registry) AddService(ctx context.Context, s *Service) error {
	if err := r.Repository.AddService(ctx, s); err != nil {
		return err
	}
	r.logger.Info("service added", "id", s.ID, "name", s.Name)
	return nil
}

// UpdateService updates a service and evicts its cache entry.
func (r *Registry) UpdateService(ctx context.Context, s *Service) error {
	defer r.cache.Delete(serviceKey(s.ID))
	return r.Repository.UpdateService(ctx, s)
}

// DeleteService deletes a service with its deployments.
func (r *Registry) DeleteService(ctx context.Context, id string) error {
	defer r.cache.Delete(serviceKey(id))
	if err := r.Repository.DeleteService(ctx, id); err != nil {
		return err
	}
	r.logger.Info("service deleted", "id", id)
	return nil
}

// GetEnvironment returns an environment, from cache when possible.
func (r *Registry) GetEnvironment(ctx context.Context, id string) (*Environment, error) {
	return cached(r, environmentKey(id), func() (*Environment, error) {
		return r.Repository.GetEnvironment(ctx, id)
	})
}

// AddEnvironment stores a new environment.
func (r *Registry) AddEnvironment(ctx context.Context, e *Environment) error {
	if err := r.Repository.AddEnvironment(ctx, e); err != nil {
		return err
	}
	r.logger.Info("environment added", "id", e.ID, "name", e.Name)
	return nil
}

// UpdateEnvironment updates an environment and evicts its cache entry.
func (r *Registry) UpdateEnvironment(ctx context.Context, e *Environment) error {
	defer r.cache.Delete(environmentKey(e.ID))
	return r.Repository.UpdateEnvironment(ctx, e)
}

// DeleteEnvironment deletes an environment with its deployments and
// maintainer assignments.
func (r *Registry) DeleteEnvironment(ctx context.Context, id string) error {
	defer r.cache.Delete(environmentKey(id))
	if err := r.Repository.DeleteEnvironment(ctx, id); err != nil {
		return err
	}
	r.logger.Info("environment deleted", "id", id)
	return nil
}

// GetMaintainer returns a maintainer, from cache when possible.
func (r *Registry) GetMaintainer(ctx context.Context, name string) (*Maintainer, error) {
	return cached(r, maintainerKey(name), func() (*Maintainer, error) {
		return r.Repository.GetMaintainer(ctx, name)
	})
}

// UpdateMaintainer updates a maintainer and evicts its cache entry.
func (r *Registry) UpdateMaintainer(ctx context.Context, m *Maintainer) error {
	defer r.cache.Delete(maintainerKey(m.Name))
	return r.Repository.UpdateMaintainer(ctx, m)
}

// DeleteMaintainer deletes a maintainer and its assignments.
func (r *Registry) DeleteMaintainer(ctx context.Context, name string) error {
	defer r.cache.Delete(maintainerKey(name))
	if err := r.Repository.DeleteMaintainer(ctx, name); err != nil {
		return err
	}
	r.logger.Info("maintainer deleted", "name", name)
	return nil
}
