package httpkit

import (
	"net/http"
	"strconv"
	"strings"
)

// DefaultAllowedHeaders are the request headers browser clients of the
// proxy send.
var DefaultAllowedHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

type CORSOptions struct {
	// AllowedOrigin is sent verbatim; defaults to "*".
	AllowedOrigin  string
	AllowedHeaders []string
	AllowedMethods []string
	ExposedHeaders []string
	MaxAgeSeconds  int
}

// CORS sets the CORS headers on every response, before the wrapped handler
// runs, and answers preflight requests with 204.
func CORS(opt CORSOptions) func(http.Handler) http.Handler {
	if opt.AllowedOrigin == "" {
		opt.AllowedOrigin = "*"
	}
	if len(opt.AllowedHeaders) == 0 {
		opt.AllowedHeaders = DefaultAllowedHeaders
	}

	allowedHeaders := strings.Join(normalizeList(opt.AllowedHeaders), ", ")
	allowedMethods := strings.Join(normalizeList(opt.AllowedMethods), ", ")
	exposedHeaders := strings.Join(normalizeList(opt.ExposedHeaders), ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", opt.AllowedOrigin)
			h.Set("Access-Control-Allow-Headers", allowedHeaders)
			if allowedMethods != "" {
				h.Set("Access-Control-Allow-Methods", allowedMethods)
			}
			if exposedHeaders != "" {
				h.Set("Access-Control-Expose-Headers", exposedHeaders)
			}

			if r.Method == http.MethodOptions {
				if opt.MaxAgeSeconds > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(opt.MaxAgeSeconds))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
