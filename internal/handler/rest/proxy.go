package rest

import (
	"net/http"
	"net/http/httputil"
	"strings"
)

// headersKey carries the admitted registration's headers from serve to
// the proxied response.
type headersKey struct{}

// newProxy forwards requests to the route's endpoint. The API context is
// stripped; the rest of the request path is appended to the endpoint path.
func (h *Handler) newProxy(rt *route) *httputil.ReverseProxy {
	target := rt.upstream
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = joinUpstream(target.Path, strings.TrimPrefix(pr.In.URL.Path, rt.context))
			pr.Out.URL.RawPath = ""
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			headers, _ := resp.Request.Context().Value(headersKey{}).([]header)
			applyHeaders(resp.Header, headers)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Warn("upstream request failed",
				"resource_id", rt.resourceID,
				"upstream", target.String(),
				"path", r.URL.Path,
				"error", err,
			)
			writeError(w, http.StatusBadGateway, codeBadGateway, "upstream unavailable")
		},
	}
}

func joinUpstream(base, rel string) string {
	rel = strings.TrimLeft(rel, "/")
	switch {
	case rel == "" && base == "":
		return "/"
	case rel == "":
		return base
	default:
		return strings.TrimRight(base, "/") + "/" + rel
	}
}
