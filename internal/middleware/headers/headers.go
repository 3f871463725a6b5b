// Package headers implements the response header policy applied to all
// routed endpoints: CORS with an origin allow-list, cache suppression, and a
// response timestamp.
package headers

import (
	"net/http"
	"strings"
	"time"

	"github.com/wudi/agentrouter/internal/errors"
	"github.com/wudi/agentrouter/internal/middleware"
)

// allowHeaders is the fixed list advertised on CORS responses.
const allowHeaders = "Origin, Content-Type, X-CSRF-Token, X-Requested-With, Accept, Accept-Version, Content-Length, Content-MD5, Date, X-Api-Version, X-Client-Id, Authorization"

const allowMethods = "GET, POST, DELETE, PATCH, OPTIONS"

// Handler holds the compiled header policy.
type Handler struct {
	allowAllOrigins bool
	allowOrigins    []string
}

// New creates a Handler from the comma-separated allow-list. "*" allows any
// origin.
func New(allowOrigin string) *Handler {
	h := &Handler{}
	if allowOrigin == "*" {
		h.allowAllOrigins = true
		return h
	}
	for _, o := range strings.Split(allowOrigin, ",") {
		h.allowOrigins = append(h.allowOrigins, strings.TrimSpace(o))
	}
	return h
}

func (h *Handler) isOriginAllowed(origin string) bool {
	if h.allowAllOrigins {
		return true
	}
	for _, allowed := range h.allowOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// CORS returns a middleware enforcing the origin allow-list. Disallowed
// origins get 403; preflight requests are answered with 204 and no body.
func (h *Handler) CORS() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !h.isOriginAllowed(origin) {
				errors.ErrOriginNotAllowed.WriteJSON(w)
				return
			}

			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", allowMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NoCache returns a middleware that suppresses client-side caching.
func (h *Handler) NoCache() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "private, no-cache, no-store, must-revalidate")
			w.Header().Set("Expires", "-1")
			w.Header().Set("Pragma", "no-cache")
			next.ServeHTTP(w, r)
		})
	}
}

// Timestamp returns a middleware stamping responses with X-Timestamp in
// RFC 3339. The header is written when the wrapped handler first writes, so
// the stamp reflects completion time rather than arrival time.
func (h *Handler) Timestamp() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&timestampWriter{ResponseWriter: w}, r)
		})
	}
}

type timestampWriter struct {
	http.ResponseWriter
	stamped bool
}

func (tw *timestampWriter) stamp() {
	if !tw.stamped {
		tw.Header().Set("X-Timestamp", time.Now().Format(time.RFC3339))
		tw.stamped = true
	}
}

func (tw *timestampWriter) WriteHeader(code int) {
	tw.stamp()
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timestampWriter) Write(b []byte) (int, error) {
	tw.stamp()
	return tw.ResponseWriter.Write(b)
}
