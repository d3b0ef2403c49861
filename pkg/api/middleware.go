package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/metrics"
)

// statusRecorder captures the status a handler wrote so the middleware can
// label its metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request metrics and a debug log line.
// The method label is the logical operation name, not the HTTP verb, so
// dashboards read "exec" rather than "POST".
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		elapsed := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(name).Observe(elapsed.Seconds())

		log.Logger.Debug().
			Str("component", "api.server").
			Str("op", name).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request handled")
	}
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON error envelope for every non-2xx response
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
