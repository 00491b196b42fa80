package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mind-engage/learncore/internal/logger"
	"github.com/mind-engage/learncore/internal/rbac"
)

// RequestLogger logs one line per request at a level chosen by status.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				kv := []interface{}{
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"dur_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				}
				if sub := rbac.IdentityFromContext(r.Context()).Subject; sub != "" {
					kv = append(kv, "sub", sub)
				}
				switch {
				case status >= 500:
					log.Error("http request", kv...)
				case status >= 400:
					log.Info("http request", kv...)
				default:
					log.Debug("http request", kv...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
