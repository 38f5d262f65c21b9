package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/gateway"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/mqtt"
)

// Domain errors for the messaging package.
var (
	// ErrInvalidDestination is returned for a resource without usable
	// messaging attributes.
	ErrInvalidDestination = errors.New("messaging: invalid destination")

	// ErrDestinationConflict is returned when another resource already
	// listens on the same destination.
	ErrDestinationConflict = errors.New("messaging: destination already published")

	// ErrForwardFailed is returned when the endpoint rejects a message.
	ErrForwardFailed = errors.New("messaging: forward failed")
)

// forwardTimeout bounds one endpoint delivery.
const forwardTimeout = 10 * time.Second

// Broker is the part of the MQTT client the backend needs.
// *mqtt.Client satisfies it.
type Broker interface {
	Topics() mqtt.Topics
	QoS() byte
	PublishRetained(topic string, payload []byte) error
	ClearRetained(topic string) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Gate admits traffic for an API and records served calls.
// *gateway.Lifecycle satisfies it.
type Gate interface {
	Admit(ctx context.Context, apiID string) (string, error)
	RecordCall(ctx context.Context, id string, elapsed time.Duration, failed bool) error
}

// Logger defines the logging interface used by the backend.
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

// Announcement is the retained payload describing a published resource.
type Announcement struct {
	APIID           string    `json:"api_id"`
	APIName         string    `json:"api_name"`
	Context         string    `json:"context"`
	ResourceID      string    `json:"resource_id"`
	Destination     string    `json:"destination"`
	DestinationType string    `json:"destination_type"`
	Selector        string    `json:"selector,omitempty"`
	InboundTopic    string    `json:"inbound_topic"`
	PublishedAt     time.Time `json:"published_at"`
}

// chainMessage is the retained payload of a registration's processing
// chain.
type chainMessage struct {
	APIID        string   `json:"api_id"`
	Registration string   `json:"registration"`
	Chain        []string `json:"chain"`
}

type destination struct {
	resourceID string
	apiID      string
	inbound    string
	announce   string
	endpoint   string
}

// Handler publishes jms resources through an MQTT broker. It implements
// gateway.Handler and gateway.ChainConfigurer.
//
// All methods are safe for concurrent use.
type Handler struct {
	broker Broker
	gate   Gate
	client *http.Client
	logger Logger
	now    func() time.Time

	mu        sync.Mutex
	published map[string]*destination
}

// New creates a backend on broker admitting traffic through gate.
func New(broker Broker, gate Gate) *Handler {
	return &Handler{
		broker:    broker,
		gate:      gate,
		client:    &http.Client{Timeout: forwardTimeout},
		logger:    noopLogger{},
		now:       time.Now,
		published: make(map[string]*destination),
	}
}

// SetLogger sets the logger for the backend.
func (h *Handler) SetLogger(logger Logger) {
	h.logger = logger
}

// SetHTTPClient replaces the client used to forward messages.
func (h *Handler) SetHTTPClient(c *http.Client) {
	h.client = c
}

// Type returns catalog.TypeJms.
func (h *Handler) Type() string {
	return catalog.TypeJms
}

// Publish subscribes to the resource's destination and announces it.
// If the announcement fails the subscription is dropped again.
func (h *Handler) Publish(ctx context.Context, api *catalog.API, res *catalog.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kind, err := validate(res)
	if err != nil {
		return err
	}

	topics := h.broker.Topics()
	dest := &destination{
		resourceID: res.ID,
		apiID:      api.ID,
		inbound:    topics.Destination(kind, res.Messaging.Destination),
		announce:   topics.Resource(api.ID, res.ID),
		endpoint:   res.Messaging.Endpoint,
	}

	payload, err := json.Marshal(Announcement{
		APIID:           api.ID,
		APIName:         api.Name,
		Context:         api.Context,
		ResourceID:      res.ID,
		Destination:     res.Messaging.Destination,
		DestinationType: kind,
		Selector:        res.Messaging.Selector,
		InboundTopic:    dest.inbound,
		PublishedAt:     h.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding announcement: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, other := range h.published {
		if id != res.ID && other.inbound == dest.inbound {
			return fmt.Errorf("%w: %s (resource %s)", ErrDestinationConflict, dest.inbound, id)
		}
	}

	if err := h.broker.Subscribe(dest.inbound, h.broker.QoS(), h.onMessage(dest)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", dest.inbound, err)
	}
	if err := h.broker.PublishRetained(dest.announce, payload); err != nil {
		if uerr := h.broker.Unsubscribe(dest.inbound); uerr != nil {
			h.logger.Warn("dropping subscription after failed announcement", "topic", dest.inbound, "error", uerr)
		}
		return fmt.Errorf("announcing %s: %w", res.ID, err)
	}

	if prev, ok := h.published[res.ID]; ok && prev.inbound != dest.inbound {
		if err := h.broker.Unsubscribe(prev.inbound); err != nil {
			h.logger.Warn("dropping replaced subscription", "topic", prev.inbound, "error", err)
		}
	}
	h.published[res.ID] = dest

	h.logger.Info("destination published",
		"resource_id", res.ID,
		"api_id", api.ID,
		"inbound", dest.inbound,
	)
	return nil
}

// Unpublish clears the announcement and drops the subscription. The
// resource is forgotten even when the broker reports errors; unknown
// resources are ignored.
func (h *Handler) Unpublish(ctx context.Context, resourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	dest, ok := h.published[resourceID]
	if !ok {
		return nil
	}
	delete(h.published, resourceID)

	var errs []error
	if err := h.broker.ClearRetained(dest.announce); err != nil {
		errs = append(errs, fmt.Errorf("clearing %s: %w", dest.announce, err))
	}
	if err := h.broker.Unsubscribe(dest.inbound); err != nil {
		errs = append(errs, fmt.Errorf("unsubscribing %s: %w", dest.inbound, err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	h.logger.Info("destination unpublished", "resource_id", resourceID, "inbound", dest.inbound)
	return nil
}

// ConfigureChain publishes a registration's processing chain as a
// retained message for downstream consumers. An empty chain clears it.
func (h *Handler) ConfigureChain(ctx context.Context, apiID, registrationID string, chain []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := h.broker.Topics().Processing(apiID, registrationID)
	if len(chain) == 0 {
		if err := h.broker.ClearRetained(topic); err != nil {
			return fmt.Errorf("clearing chain of %s: %w", registrationID, err)
		}
		return nil
	}

	payload, err := json.Marshal(chainMessage{
		APIID:        apiID,
		Registration: registrationID,
		Chain:        slices.Clone(chain),
	})
	if err != nil {
		return fmt.Errorf("encoding chain: %w", err)
	}
	if err := h.broker.PublishRetained(topic, payload); err != nil {
		return fmt.Errorf("publishing chain of %s: %w", registrationID, err)
	}
	return nil
}

// Destinations returns the inbound topics currently subscribed, sorted.
func (h *Handler) Destinations() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.published))
	for _, d := range h.published {
		out = append(out, d.inbound)
	}
	slices.Sort(out)
	return out
}

// onMessage handles one inbound message for dest.
func (h *Handler) onMessage(dest *destination) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		start := h.now()
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()

		id, err := h.gate.Admit(ctx, dest.apiID)
		if err != nil {
			return fmt.Errorf("dropping message on %s: %w", topic, err)
		}

		var ferr error
		if dest.endpoint != "" {
			ferr = h.forward(ctx, dest, payload)
		}
		if err := h.gate.RecordCall(ctx, id, h.now().Sub(start), ferr != nil); err != nil {
			h.logger.Warn("recording call", "id", id, "error", err)
		}
		return ferr
	}
}

func (h *Handler) forward(ctx context.Context, dest *destination, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrForwardFailed, err)
	}
	contentType := "application/octet-stream"
	if json.Valid(payload) {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Vineyard-Resource", dest.resourceID)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrForwardFailed, err)
	}
	defer resp.Body.Close()
	//nolint:errcheck // drain so the connection is reused
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s answered %d", ErrForwardFailed, dest.endpoint, resp.StatusCode)
	}
	return nil
}

// validate checks the messaging attributes and returns the destination kind.
func validate(res *catalog.Resource) (string, error) {
	m := res.Messaging
	if m == nil {
		return "", fmt.Errorf("%w: resource %s has no messaging attributes", ErrInvalidDestination, res.ID)
	}
	if m.Destination == "" || strings.ContainsAny(m.Destination, "/+#") {
		return "", fmt.Errorf("%w: resource %s: destination %q must be a single topic level", ErrInvalidDestination, res.ID, m.Destination)
	}

	kind := strings.ToLower(m.DestinationType)
	switch kind {
	case "":
		kind = catalog.DestinationQueue
	case catalog.DestinationQueue, catalog.DestinationTopic:
	default:
		return "", fmt.Errorf("%w: resource %s: destination type %q", ErrInvalidDestination, res.ID, m.DestinationType)
	}

	if m.Endpoint != "" {
		u, err := url.Parse(m.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("%w: resource %s: endpoint must be an absolute http(s) URL", ErrInvalidDestination, res.ID)
		}
	}
	return kind, nil
}

var (
	_ gateway.Handler         = (*Handler)(nil)
	_ gateway.ChainConfigurer = (*Handler)(nil)
	_ Broker                  = (*mqtt.Client)(nil)
)
