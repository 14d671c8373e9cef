package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

type ctxKey struct{}

// statusRecorder remembers the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}

	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}

	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// instrument assigns a request id, logs one line per request and records
// metrics. The route label is the matched mux pattern, which the mux sets
// on the request it was handed.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(HeaderRequestID, id)

		entry := h.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
		})

		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, entry))
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}

		elapsed := time.Since(start)

		if h.metrics != nil {
			h.metrics.ObserveRequest(r.Method, route, rec.status, elapsed)
		}

		entry.WithFields(logrus.Fields{
			"route":    route,
			"status":   rec.status,
			"duration": elapsed,
		}).Info("Handled request")
	})
}

// requestLogger returns the request-scoped entry set by instrument, or
// fallback when there is none.
func requestLogger(r *http.Request, fallback logrus.FieldLogger) logrus.FieldLogger {
	if entry, ok := r.Context().Value(ctxKey{}).(*logrus.Entry); ok {
		return entry
	}

	return fallback
}
