package util

import (
	"log/slog"
	"net/http"
	"time"
)

type countingResponseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *countingResponseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

// WithRequestLog emits one structured line per request. Contract uploads and
// synchronous analysis calls can run for minutes, so the duration is logged
// in milliseconds, and the response size is included because export and
// clause listings dominate egress.
func WithRequestLog(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		cw := &countingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)
		if cw.status == 0 {
			cw.status = http.StatusOK
		}
		slog.Info("http request",
			"service", service,
			"method", r.Method,
			"path", r.URL.Path,
			"status", cw.status,
			"bytes_out", cw.written,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(r),
		)
	})
}
