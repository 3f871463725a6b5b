package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/wudi/agentrouter/internal/errors"
	"github.com/wudi/agentrouter/internal/logging"
)

// Recovery creates a panic recovery middleware. A panicking handler yields a
// 500 JSON error instead of tearing down the connection.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logging.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					errors.ErrInternalServer.WithDetails(fmt.Sprintf("panic: %v", err)).WriteJSON(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
