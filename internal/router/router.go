// Package router wires the request pipeline: request IDs, access logging,
// panic recovery and method filtering in front of the file handler.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"example.com/spaserve/internal/logger"
	"example.com/spaserve/internal/server"
)

// AllowedMethods is sent in the Allow header of 405 responses.
const AllowedMethods = "GET, HEAD"

// New returns a router that sends every GET and HEAD request to h.
// Other methods are answered with 405.
func New(h http.Handler, lg *logger.Logger) chi.Router {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(AccessLogMiddleware(lg))
	r.Use(RecoverMiddleware(lg))

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Allow", AllowedMethods)
		server.WriteErrorResponse(w, req, http.StatusMethodNotAllowed, "", lg)
	})

	r.Get("/*", h.ServeHTTP)
	r.Head("/*", h.ServeHTTP)
	// chi only routes paths starting with "/".
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", AllowedMethods)
			server.WriteErrorResponse(w, req, http.StatusMethodNotAllowed, "", lg)
			return
		}
		h.ServeHTTP(w, req)
	})
	return r
}
