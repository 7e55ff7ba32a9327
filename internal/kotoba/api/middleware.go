package api

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/bdobrica/Kotoba/common/trace"
)

// TraceHeader carries the request's trace id in both directions.
const TraceHeader = "X-Trace-Id"

// traceRequests attaches a trace id to every request, echoes it in the
// response and writes one access log line when the request completes.
func traceRequests(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(TraceHeader); id != "" {
				ctx = trace.WithTraceID(ctx, id)
			}
			ctx, id := trace.Ensure(ctx)
			w.Header().Set(TraceHeader, id)

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			trace.Logger(ctx, logger).Info("api: request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}
