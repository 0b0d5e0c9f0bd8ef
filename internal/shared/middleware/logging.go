package middleware

import (
	"log"
	"net/http"
	"time"
)

// statusWriter records the status code a handler wrote so logging and
// tracing can report it after the handler returned. A zero status means
// the handler never called WriteHeader, which net/http treats as 200.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w}
}

func (w *statusWriter) Status() int {
	return w.status
}

// StatusOrOK resolves the implicit-200 case.
func (w *statusWriter) StatusOrOK() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Logging writes one line per finished request. The wizard endpoints are
// polled while a consent window is open, so the line stays terse.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)

		log.Printf("%s %s %d %s", r.Method, r.URL.Path, sw.StatusOrOK(), time.Since(start).Round(time.Millisecond))
	})
}
