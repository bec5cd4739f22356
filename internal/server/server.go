package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"example.com/spaserve/internal/config"
	"example.com/spaserve/internal/logger"
	"example.com/spaserve/internal/util"
)

// Server manages the listening socket, the HTTP/1.x connection loop, log
// reopening and graceful shutdown.
type Server struct {
	cfg     *config.Config
	log     *logger.Logger
	handler http.Handler

	mu       sync.RWMutex
	listener net.Listener
	httpSrv  *http.Server

	// inheritedListener is swapped in tests.
	inheritedListener func() (net.Listener, error)
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, lg *logger.Logger, handler http.Handler) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Server == nil {
		return nil, fmt.Errorf("server configuration section (server) is missing")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	return &Server{
		cfg:               cfg,
		log:               lg,
		handler:           handler,
		inheritedListener: util.InheritedListener,
	}, nil
}

// Listen opens the server socket: an inherited one when the process was
// socket-activated, otherwise a fresh SO_REUSEADDR listener on the
// configured address. A positive max_connections caps concurrent connections.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	ln, err := s.inheritedListener()
	switch {
	case err == nil:
		s.log.Info("Using inherited listener", logger.LogFields{"address": ln.Addr().String()})
	case errors.Is(err, util.ErrNoInheritedListener):
		address := s.cfg.Server.ListenAddress()
		ln, err = util.Listen(ctx, address)
		if err != nil {
			if util.IsAddrInUse(err) {
				return nil, fmt.Errorf("address %s is already in use: %w", address, err)
			}
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to adopt inherited listener: %w", err)
	}

	if n := s.maxConnections(); n > 0 {
		ln = netutil.LimitListener(ln, n)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return ln, nil
}

func (s *Server) maxConnections() int {
	if s.cfg.Server.MaxConnections == nil {
		return 0
	}
	return *s.cfg.Server.MaxConnections
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.GracefulShutdownTimeout == nil || s.cfg.Server.GracefulShutdownTimeout.Duration <= 0 {
		return config.DefaultGracefulShutdownTimeout
	}
	return s.cfg.Server.GracefulShutdownTimeout.Duration
}

// Addr returns the address the server is listening on, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.mu.Lock()
	s.listener = ln
	s.httpSrv = srv
	s.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	timeout := s.shutdownTimeout()
	s.log.Info("Shutting down", logger.LogFields{"timeout": timeout.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Graceful shutdown timed out, closing remaining connections", logger.LogFields{"error": err.Error()})
		srv.Close()
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

// Start listens and serves until SIGINT or SIGTERM. SIGHUP reopens log files.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if err := s.log.ReopenLogFiles(); err != nil {
					s.log.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
				} else {
					s.log.Info("Reopened log files", nil)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	s.log.Info("Server listening", logger.LogFields{
		"address":         ln.Addr().String(),
		"max_connections": s.maxConnections(),
	})
	return s.Serve(ctx, ln)
}
