package gateway

import (
	"context"

	"github.com/nerrad567/vineyard-core/internal/catalog"
)

// Handler publishes and unpublishes resources of one type.
//
// Type must return the same value for the handler's whole lifetime.
// Publish and Unpublish may block; callers bound them with the context.
type Handler interface {
	Type() string
	Publish(ctx context.Context, api *catalog.API, res *catalog.Resource) error
	Unpublish(ctx context.Context, resourceID string) error
}

// ChainConfigurer is implemented by handlers that accept processing chain
// definitions. Chains belong to a registration of an API: several
// registrations sharing one API each have their own. The chain is opaque to
// the gateway and always passed in full, in insertion order; an empty chain
// drops the registration's chain.
type ChainConfigurer interface {
	ConfigureChain(ctx context.Context, apiID, registrationID string, chain []string) error
}

// HandlerID identifies one handler registration.
type HandlerID uint64

// HandlerEventKind tells observers what changed.
type HandlerEventKind int

// Handler events.
const (
	HandlerAdded HandlerEventKind = iota + 1
	HandlerRemoved
)

func (k HandlerEventKind) String() string {
	switch k {
	case HandlerAdded:
		return "added"
	case HandlerRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// HandlerEvent is delivered to observers after the handler set changed.
type HandlerEvent struct {
	Kind HandlerEventKind
	ID   HandlerID
	Type string
}

// Observer receives handler events. It is called synchronously, outside
// the dispatcher's lock.
type Observer func(HandlerEvent)

// Logger defines the logging interface used by the gateway.
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
