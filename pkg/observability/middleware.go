package observability

import (
	"cmp"
	"net/http"
	"strconv"
	"time"
)

// EventsPath is the path of the event channel.
const EventsPath = "/v1/streams/events"

// MetricsMiddleware records request counts and latencies per matched
// route, and tracks connected event channel subscribers.
//
// The route label is the ServeMux pattern, so it stays bounded whatever
// session or stream ids appear in paths. Requests no pattern matched are
// labelled "unmatched".
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events := r.URL.Path == EventsPath
		if events {
			EventSubscribers.Inc()
			defer EventSubscribers.Dec()
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		route := cmp.Or(r.Pattern, "unmatched")
		RequestsTotal.WithLabelValues(r.Method, statusClass(sw.code()), route).Inc()
		if !events {
			RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// statusWriter remembers the first status written.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) code() int {
	return cmp.Or(w.status, http.StatusOK)
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Flush keeps the event channel streaming through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
