package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"example.com/spaserve/internal/logger"
	"example.com/spaserve/internal/server"
)

// RequestIDHeader carries the per-request identifier in responses.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDFromContext returns the identifier assigned by RequestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestIDMiddleware tags each request with a fresh UUID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// loggingResponseWriter records the status and body size of a response.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (l *loggingResponseWriter) WriteHeader(statusCode int) {
	if l.status == 0 {
		l.status = statusCode
	}
	l.ResponseWriter.WriteHeader(statusCode)
}

func (l *loggingResponseWriter) Write(b []byte) (int, error) {
	if l.status == 0 {
		l.status = http.StatusOK
	}
	n, err := l.ResponseWriter.Write(b)
	l.size += int64(n)
	return n, err
}

// ReadFrom keeps the underlying writer's sendfile path for file bodies.
func (l *loggingResponseWriter) ReadFrom(src io.Reader) (int64, error) {
	if l.status == 0 {
		l.status = http.StatusOK
	}
	var n int64
	var err error
	if rf, ok := l.ResponseWriter.(io.ReaderFrom); ok {
		n, err = rf.ReadFrom(src)
	} else {
		n, err = io.Copy(l.ResponseWriter, src)
	}
	l.size += n
	return n, err
}

// Status returns the status sent so far, or 0 before the header is written.
func (l *loggingResponseWriter) Status() int { return l.status }

func (l *loggingResponseWriter) Unwrap() http.ResponseWriter { return l.ResponseWriter }

// AccessLogMiddleware writes one access log entry per request.
func AccessLogMiddleware(lg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lw := &loggingResponseWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(lw, r)

			status := lw.status
			if status == 0 {
				status = http.StatusOK
			}
			lg.Access(r, RequestIDFromContext(r.Context()), status, lw.size, time.Since(start))
		})
	}
}

type statusReporter interface {
	Status() int
}

// RecoverMiddleware turns a handler panic into a logged 500 response.
func RecoverMiddleware(lg *logger.Logger) func(http.Handler) http.Handler {
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
				lg.Error("Handler panicked", logger.LogFields{
					"panic":      fmt.Sprint(rec),
					"uri":        r.RequestURI,
					"request_id": RequestIDFromContext(r.Context()),
					"stack":      string(debug.Stack()),
				})
				if sr, ok := w.(statusReporter); ok && sr.Status() != 0 {
					return
				}
				server.WriteErrorResponse(w, r, http.StatusInternalServerError, "", lg)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
