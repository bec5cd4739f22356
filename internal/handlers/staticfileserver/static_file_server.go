package staticfileserver

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"example.com/spaserve/internal/config"
	"example.com/spaserve/internal/fsys"
	"example.com/spaserve/internal/logger"
	"example.com/spaserve/internal/resolver"
	"example.com/spaserve/internal/server"
	"example.com/spaserve/internal/workdir"
)

const (
	handlerName = "StaticFileServer"
)

// RootFunc returns the serving root for one request.
type RootFunc func() (fsys.Root, error)

// StaticFileServer answers GET and HEAD requests from the serving root,
// falling back to index documents for client-side routes.
type StaticFileServer struct {
	extraHeaders   map[string]string
	listingEnabled bool
	log            *logger.Logger
	resolver       *resolver.Resolver
	root           RootFunc
}

// Option customizes a StaticFileServer.
type Option func(*StaticFileServer)

// WithRoot serves from a fixed root instead of the working directory.
func WithRoot(root fsys.Root) Option {
	return func(s *StaticFileServer) {
		s.root = func() (fsys.Root, error) { return root, nil }
	}
}

// WithRootFunc replaces how the serving root is obtained per request.
func WithRootFunc(fn RootFunc) Option {
	return func(s *StaticFileServer) { s.root = fn }
}

// New creates the handler. By default the serving root is the process
// working directory, re-read (and recovered if deleted) on every request.
func New(cfg *config.Config, lg *logger.Logger, wd *workdir.Recoverer, opts ...Option) (*StaticFileServer, error) {
	if cfg == nil || cfg.Server == nil || cfg.Static == nil {
		return nil, fmt.Errorf("%s: server and static configuration are required", handlerName)
	}
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	if wd == nil {
		wd = workdir.New(lg)
	}

	listing := true
	if cfg.Static.ServeDirectoryListing != nil {
		listing = *cfg.Static.ServeDirectoryListing
	}

	s := &StaticFileServer{
		extraHeaders:   cfg.Server.ExtraHeaders,
		listingEnabled: listing,
		log:            lg,
		resolver: resolver.New(resolver.Options{
			IndexFiles: cfg.Static.IndexFiles,
			MimeTypes:  cfg.Static.MimeTypes,
		}, lg),
		root: func() (fsys.Root, error) {
			dir, err := wd.Current()
			if err != nil {
				return nil, err
			}
			return fsys.NewDirRoot(dir), nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ServeHTTP resolves the request target and writes the single response it decides on.
func (s *StaticFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	root, err := s.root()
	if err != nil {
		s.log.Error("Unable to determine serving root", logger.LogFields{
			"handler": handlerName,
			"error":   err.Error(),
		})
		s.applyExtraHeaders(w.Header())
		server.WriteErrorResponse(w, r, http.StatusInternalServerError, "Unable to retrieve file", s.log)
		return
	}

	requestPath := r.RequestURI
	if requestPath == "" {
		requestPath = r.URL.RequestURI()
	}

	out := s.resolver.Resolve(root, requestPath)
	defer out.Close()

	s.log.Debug("Resolved request", logger.LogFields{
		"handler":      handlerName,
		"request_path": requestPath,
		"outcome":      out.Kind.String(),
		"path":         out.Path,
	})

	switch out.Kind {
	case resolver.KindServeFile:
		s.serveFile(w, r, &out)
	case resolver.KindRedirect:
		s.applyExtraHeaders(w.Header())
		w.Header().Set("Location", out.Location)
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusMovedPermanently)
	case resolver.KindListDirectory:
		s.serveListing(w, r, root, &out)
	case resolver.KindNotFound:
		s.applyExtraHeaders(w.Header())
		server.WriteErrorResponse(w, r, http.StatusNotFound, out.Message, s.log)
	default:
		s.applyExtraHeaders(w.Header())
		server.WriteErrorResponse(w, r, http.StatusInternalServerError, out.Message, s.log)
	}
}

func (s *StaticFileServer) serveFile(w http.ResponseWriter, r *http.Request, out *resolver.Outcome) {
	h := w.Header()
	h.Set("Content-Type", out.ContentType)
	s.applyExtraHeaders(h)
	h.Set("Content-Length", strconv.FormatInt(out.Size, 10))
	h.Set("Last-Modified", out.LastModified)
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if n, err := io.Copy(w, out.File); err != nil {
		// Headers are gone; the client sees a short body.
		s.log.Debug("Error copying file to response", logger.LogFields{
			"handler": handlerName,
			"path":    out.Path,
			"written": n,
			"error":   err.Error(),
		})
	}
}

func (s *StaticFileServer) serveListing(w http.ResponseWriter, r *http.Request, root fsys.Root, out *resolver.Outcome) {
	s.applyExtraHeaders(w.Header())
	webPath := fsys.RequestPathComponent(out.RequestPath)

	if !s.listingEnabled {
		server.WriteErrorResponse(w, r, http.StatusNotFound,
			fmt.Sprintf("%s does not exist, and no index document available", webPath), s.log)
		return
	}

	body, err := fsys.RenderListing(root, out.Path, webPath)
	if err != nil {
		s.log.Warn("Unable to list directory", logger.LogFields{
			"handler": handlerName,
			"path":    out.Path,
			"error":   err.Error(),
		})
		server.WriteErrorResponse(w, r, http.StatusNotFound, "No permission to list directory", s.log)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	w.Write(body)
}

func (s *StaticFileServer) applyExtraHeaders(h http.Header) {
	for name, value := range s.extraHeaders {
		h.Set(name, value)
	}
}
