package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/gateway"
)

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

// Route describes one published route.
type Route struct {
	ResourceID string `json:"resource_id"`
	APIID      string `json:"api_id"`
	Method     string `json:"method"`
	Pattern    string `json:"pattern"`
	Upstream   string `json:"upstream,omitempty"`
}

type route struct {
	resourceID string
	apiID      string
	context    string
	method     string // empty matches every method
	pattern    string
	attrs      catalog.RestAttributes
	upstream   *url.URL
}

func (r *route) methodLabel() string {
	if r.method == "" {
		return "*"
	}
	return r.method
}

// Handler publishes rest resources and serves their traffic. It implements
// gateway.Handler, gateway.ChainConfigurer and http.Handler.
//
// All methods are safe for concurrent use.
type Handler struct {
	gate   Gate
	logger Logger
	now    func() time.Time

	mu     sync.Mutex
	routes map[string]*route
	// headers holds processing headers by API, then by registration.
	headers map[string]map[string][]header

	router atomic.Pointer[chi.Mux]
}

// New creates a backend admitting traffic through gate.
func New(gate Gate) *Handler {
	h := &Handler{
		gate:    gate,
		logger:  noopLogger{},
		now:     time.Now,
		routes:  make(map[string]*route),
		headers: make(map[string]map[string][]header),
	}
	h.mu.Lock()
	//nolint:errcheck // an empty table always builds
	h.rebuild()
	h.mu.Unlock()
	return h
}

// SetLogger sets the logger for the backend.
func (h *Handler) SetLogger(logger Logger) {
	h.logger = logger
}

// Type returns catalog.TypeRest.
func (h *Handler) Type() string {
	return catalog.TypeRest
}

// Publish adds or replaces the route of res.
func (h *Handler) Publish(ctx context.Context, api *catalog.API, res *catalog.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rt, err := newRoute(api, res)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, other := range h.routes {
		if id == rt.resourceID || other.pattern != rt.pattern {
			continue
		}
		if other.method == rt.method || other.method == "" || rt.method == "" {
			return fmt.Errorf("%w: %s %s (resource %s)", ErrRouteConflict, rt.methodLabel(), rt.pattern, id)
		}
	}

	prev, had := h.routes[rt.resourceID]
	h.routes[rt.resourceID] = rt
	if err := h.rebuild(); err != nil {
		if had {
			h.routes[rt.resourceID] = prev
		} else {
			delete(h.routes, rt.resourceID)
		}
		return err
	}

	h.logger.Info("route published",
		"resource_id", rt.resourceID,
		"api_id", rt.apiID,
		"method", rt.methodLabel(),
		"pattern", rt.pattern,
	)
	return nil
}

// Unpublish removes the route of a resource. Unknown resources are ignored.
func (h *Handler) Unpublish(ctx context.Context, resourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rt, ok := h.routes[resourceID]
	if !ok {
		return nil
	}
	delete(h.routes, resourceID)
	if err := h.rebuild(); err != nil {
		h.routes[resourceID] = rt
		return err
	}

	if !h.servesAPI(rt.apiID) {
		delete(h.headers, rt.apiID)
	}
	h.logger.Info("route unpublished", "resource_id", resourceID, "pattern", rt.pattern)
	return nil
}

// ConfigureChain replaces the header definitions applied to traffic the
// given registration of an API serves. A malformed definition rejects the
// whole chain.
func (h *Handler) ConfigureChain(ctx context.Context, apiID, registrationID string, chain []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hs, err := parseChain(chain)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	prev, had := h.headers[apiID][registrationID]
	h.setHeaders(apiID, registrationID, hs)
	if err := h.rebuild(); err != nil {
		if had {
			h.setHeaders(apiID, registrationID, prev)
		} else {
			h.setHeaders(apiID, registrationID, nil)
		}
		return err
	}
	h.logger.Debug("processing chain configured",
		"api_id", apiID,
		"registration", registrationID,
		"headers", len(hs),
	)
	return nil
}

// setHeaders stores or, for an empty list, drops one registration's
// headers. Callers hold h.mu.
func (h *Handler) setHeaders(apiID, registrationID string, hs []header) {
	if len(hs) == 0 {
		delete(h.headers[apiID], registrationID)
		if len(h.headers[apiID]) == 0 {
			delete(h.headers, apiID)
		}
		return
	}
	if h.headers[apiID] == nil {
		h.headers[apiID] = make(map[string][]header)
	}
	h.headers[apiID][registrationID] = hs
}

// Routes returns the published routes ordered by pattern, then method.
func (h *Handler) Routes() []Route {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Route, 0, len(h.routes))
	for _, rt := range h.routes {
		r := Route{
			ResourceID: rt.resourceID,
			APIID:      rt.apiID,
			Method:     rt.methodLabel(),
			Pattern:    rt.pattern,
		}
		if rt.upstream != nil {
			r.Upstream = rt.upstream.String()
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Route) int {
		if c := strings.Compare(a.Pattern, b.Pattern); c != 0 {
			return c
		}
		return strings.Compare(a.Method, b.Method)
	})
	return out
}

// ServeHTTP routes a request through the current table. The table always
// routes on the full path, even when mounted inside another chi router.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Context().Value(chi.RouteCtxKey) != nil {
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, nil))
	}
	h.router.Load().ServeHTTP(w, r)
}

func (h *Handler) servesAPI(apiID string) bool {
	for _, rt := range h.routes {
		if rt.apiID == apiID {
			return true
		}
	}
	return false
}

// rebuild swaps in a router built from the current table. chi panics on
// malformed patterns and unknown methods; the panic becomes ErrInvalidRoute
// and the old router stays. Callers hold h.mu.
func (h *Handler) rebuild() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidRoute, p)
		}
	}()

	r := chi.NewRouter()
	r.Use(h.recoveryMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "no route for "+r.URL.Path)
	})

	for _, id := range slices.Sorted(maps.Keys(h.routes)) {
		rt := h.routes[id]
		served := h.serve(rt, maps.Clone(h.headers[rt.apiID]))
		if rt.method == "" {
			r.Handle(rt.pattern, served)
		} else {
			r.Method(rt.method, rt.pattern, served)
		}
	}

	h.router.Store(r)
	return nil
}

// serve admits the request, answers it with the headers of the admitted
// registration and records the call.
func (h *Handler) serve(rt *route, chains map[string][]header) http.Handler {
	var upstream http.Handler
	if rt.upstream != nil {
		upstream = h.newProxy(rt)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := h.now()

		id, err := h.gate.Admit(r.Context(), rt.apiID)
		if err != nil {
			if errors.Is(err, gateway.ErrNotAdmitted) {
				writeError(w, http.StatusServiceUnavailable, codeUnavailable, "api is not enabled")
				return
			}
			h.logger.Error("admitting request", "api_id", rt.apiID, "error", err)
			writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
			return
		}

		headers := chains[id]
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		switch {
		case !accepts(rt.attrs.Accept, r):
			writeError(sw, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected "+rt.attrs.Accept)
		case upstream != nil:
			upstream.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), headersKey{}, headers)))
		default:
			respond(sw, rt, headers)
		}

		// The call is recorded even if the client has gone away.
		ctx := context.WithoutCancel(r.Context())
		if err := h.gate.RecordCall(ctx, id, h.now().Sub(start), sw.status >= http.StatusInternalServerError); err != nil {
			h.logger.Warn("recording call", "id", id, "error", err)
		}
	})
}

func respond(w http.ResponseWriter, rt *route, headers []header) {
	contentType := rt.attrs.MediaType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	applyHeaders(w.Header(), headers)
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // best-effort write; the client may be gone
	io.WriteString(w, rt.attrs.Response)
}

// accepts checks the request body's media type against the route's accept
// attribute. Requests without a body always pass.
func accepts(accept string, r *http.Request) bool {
	if accept == "" || r.ContentLength == 0 {
		return true
	}
	got, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	want, _, err := mime.ParseMediaType(accept)
	if err != nil {
		return false
	}
	return strings.EqualFold(got, want)
}

func newRoute(api *catalog.API, res *catalog.Resource) (*route, error) {
	if res.Rest == nil {
		return nil, fmt.Errorf("%w: resource %s has no rest attributes", ErrInvalidRoute, res.ID)
	}

	method := strings.ToUpper(strings.TrimSpace(res.Rest.Method))
	if method == "*" || method == "ANY" {
		method = ""
	}

	rt := &route{
		resourceID: res.ID,
		apiID:      api.ID,
		context:    strings.TrimRight(api.Context, "/"),
		method:     method,
		pattern:    path.Join(api.Context, "/"+res.Rest.Path),
		attrs:      *res.Rest,
	}

	if res.Rest.Endpoint != "" {
		u, err := url.Parse(res.Rest.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: endpoint of %s: %w", ErrInvalidRoute, res.ID, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: endpoint of %s must be an absolute http(s) URL", ErrInvalidRoute, res.ID)
		}
		rt.upstream = u
	}
	return rt, nil
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Flush lets streamed upstream responses through.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// recoveryMiddleware catches panics in route handlers and returns a 500 response.
func (h *Handler) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				h.logger.Error("panic recovered in route",
					"error", p,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
