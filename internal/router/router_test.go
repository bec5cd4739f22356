package router

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/spaserve/internal/logger"
)

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		io.WriteString(w, "path="+r.URL.Path)
	})
}

// accessEntries decodes the JSON lines written by the test logger that carry a status field.
func accessEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), "line %q", line)
		if _, ok := m["status"]; ok {
			out = append(out, m)
		}
	}
	return out
}

func TestRouter_GetAndHead(t *testing.T) {
	r := New(echoHandler(), nil)

	for _, target := range []string{"/", "/a/b/c", "/x?y=1"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "GET %s", target)
		assert.True(t, strings.HasPrefix(rec.Body.String(), "path=/"), "GET %s body %q", target, rec.Body.String())

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "HEAD %s", target)
		assert.Zero(t, rec.Body.Len())
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	called := false
	r := New(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }), nil)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, "/index.html", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, AllowedMethods, rec.Header().Get("Allow"), method)
	}
	assert.False(t, called)
}

func TestRouter_RequestID(t *testing.T) {
	var seen string
	r := New(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen = RequestIDFromContext(req.Context())
	}), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	id := rec.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	assert.Equal(t, id, seen)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEqual(t, id, rec2.Header().Get(RequestIDHeader))
}

func TestRouter_AccessLog(t *testing.T) {
	var buf bytes.Buffer
	r := New(echoHandler(), logger.NewTestLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/app/route?q=1", nil)
	req.Header.Set("User-Agent", "router-test")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	entries := accessEntries(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "GET", e["method"])
	assert.Equal(t, "/app/route?q=1", e["uri"])
	assert.EqualValues(t, 200, e["status"])
	assert.EqualValues(t, len("path=/app/route"), e["resp_bytes"])
	assert.Equal(t, "router-test", e["user_agent"])
	assert.Equal(t, rec.Header().Get(RequestIDHeader), e["request_id"])
}

func TestRouter_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	r := New(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), logger.NewTestLogger(&buf))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Handler panicked")
	assert.Contains(t, buf.String(), "boom")

	entries := accessEntries(t, &buf)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 500, entries[0]["status"])
}

func TestRouter_PanicAfterHeadersKeepsStatus(t *testing.T) {
	r := New(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		panic("late")
	}), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_AbortHandlerPropagates(t *testing.T) {
	r := New(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}), nil)

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	lw := &loggingResponseWriter{ResponseWriter: rec}
	assert.Zero(t, lw.Status())

	n, err := lw.Write([]byte("Hello, "))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, http.StatusOK, lw.Status())

	m, err := lw.ReadFrom(strings.NewReader("World!"))
	require.NoError(t, err)
	assert.EqualValues(t, 6, m)
	assert.EqualValues(t, 13, lw.size)
	assert.Equal(t, "Hello, World!", rec.Body.String())
	assert.Same(t, http.ResponseWriter(rec), lw.Unwrap())

	lw2 := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder()}
	lw2.WriteHeader(http.StatusNotFound)
	lw2.WriteHeader(http.StatusOK)
	assert.Equal(t, http.StatusNotFound, lw2.Status())
}
