package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/logging"
)

// Recovery turns a panicking handler into a 500 response and logs the panic with its stack
func Recovery(logger *zap.Logger) Middleware {
	logger = logging.OrNop(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("panic recovered",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("path", r.URL.Path),
					zap.Error(panicError{value: rec}),
					zap.StackSkip("stack", 1),
				)

				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// panicError wraps a panic value as an error
type panicError struct {
	value interface{}
}

func (e panicError) Error() string {
	if err, ok := e.value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.value)
}
