package observability

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware logs each request at debug level, or warn for 5xx
// responses
func LoggingMiddleware(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			entry := log.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"status":      rw.statusCode,
				"duration":    time.Since(start),
			})
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Warn("ops request failed")
				return
			}
			entry.Debug("ops request")
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response
func RecoveryMiddleware(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(logrus.Fields{
						"panic": rec,
						"path":  r.URL.Path,
						"stack": string(debug.Stack()),
					}).Error("ops handler panic")
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
