package rest

import (
	"fmt"
	"net/http"
	"strings"
)

const headerPrefix = "header:"

type header struct {
	name  string
	value string
}

// parseChain reads "header:Name=Value" definitions in order. Later
// definitions of the same header win.
func parseChain(chain []string) ([]header, error) {
	var out []header
	for i, def := range chain {
		spec, ok := strings.CutPrefix(def, headerPrefix)
		if !ok {
			continue
		}
		name, value, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t\r\n:") || strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("%w: step %d: %q", ErrInvalidDefinition, i, def)
		}
		out = append(out, header{
			name:  http.CanonicalHeaderKey(name),
			value: strings.TrimSpace(value),
		})
	}
	return out, nil
}

func applyHeaders(dst http.Header, headers []header) {
	for _, h := range headers {
		dst.Set(h.name, h.value)
	}
}
