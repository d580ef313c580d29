// Package server owns the listening socket and the request dispatch
// path of the exthub server. Extensions register prefix-mounted
// handlers through the Server; incoming requests are matched to the
// mount with the longest matching prefix after passing the auth gate
// for their namespace.
package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/exthublabs/exthub/internal/api"
	"github.com/exthublabs/exthub/internal/auth"
	"github.com/exthublabs/exthub/internal/mount"
	"github.com/exthublabs/exthub/pkg/config"
)

// Server is the embeddable extension HTTP server. It owns one OS
// listening socket at a time; Start while running performs an implicit
// stop-then-start, disconnecting all existing connections.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *mount.Registry
	auth     *auth.Store
	handlers *api.Handlers

	mu      sync.Mutex
	httpSrv *http.Server
	port    int
}

// New creates a server with an empty mount registry and all auth
// gates disabled
func New(cfg *config.Config, logger *zap.Logger) *Server {
	registry := mount.NewRegistry()
	store := auth.NewStore()
	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		auth:     store,
		handlers: api.NewHandlers(registry, store, logger),
	}
}

// Start opens the listening socket on the given port and returns the
// externally reachable URL. A running server is stopped first, which
// hard-closes all existing connections. Port 0 picks an ephemeral
// port; the recorded port is always the one actually bound.
func (s *Server) Start(port int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv != nil {
		s.logger.Info("Restarting: stopping previous listener")
		s.stopLocked()
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// No WriteTimeout: a slow or suspended handler stalls only its own
	// connection, never the listener.
	srv := &http.Server{
		Handler:           s.buildEngine(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.httpSrv = srv
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.logger.Info("Server listening",
		zap.String("address", ln.Addr().String()))

	return s.urlLocked(), nil
}

// Stop force-closes all active connections and the listening socket,
// reporting whether a server had been running. Idempotent.
func (s *Server) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Server) stopLocked() bool {
	if s.httpSrv == nil {
		return false
	}
	// Close, not Shutdown: restart favors immediacy over graceful drain
	if err := s.httpSrv.Close(); err != nil {
		s.logger.Warn("Error closing server", zap.Error(err))
	}
	s.httpSrv = nil
	s.port = 0
	s.logger.Info("Server stopped")
	return true
}

// IsRunning reports whether the listening socket is open
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpSrv != nil
}

// Port returns the bound port, 0 when stopped
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// URL returns the reachable base URL, empty when stopped
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlLocked()
}

func (s *Server) urlLocked() string {
	if s.port == 0 {
		return ""
	}
	host := s.cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, s.port)
}

// Mount registers an extension handler under a URL prefix. Registering
// an existing name replaces the prior registration.
func (s *Server) Mount(m mount.Mount) error {
	if err := s.registry.Register(m); err != nil {
		return err
	}
	s.logger.Info("Mounted extension",
		zap.String("name", m.Name),
		zap.String("prefix", mount.NormalizePrefix(m.Prefix)))
	return nil
}

// MountAPI registers an extension handler inside the /api namespace,
// auto-prefixing the supplied prefix
func (s *Server) MountAPI(m mount.Mount) error {
	m.Prefix = api.APINamespace + mount.NormalizePrefix(m.Prefix)
	return s.Mount(m)
}

// Unmount removes the named mount, reporting whether it existed. Safe
// to call when already absent.
func (s *Server) Unmount(name string) bool {
	existed := s.registry.Unregister(name)
	if existed {
		s.logger.Info("Unmounted extension", zap.String("name", name))
	}
	return existed
}

// Mounts returns metadata for all registered mounts
func (s *Server) Mounts() []mount.Info {
	return s.registry.List()
}

// SetSessionAuth configures the Basic-auth credential protecting the
// general surface
func (s *Server) SetSessionAuth(username, password string) {
	s.auth.SetSession(username, password)
	s.logger.Info("Session auth configured", zap.String("username", username))
}

// ClearSessionAuth disables session auth
func (s *Server) ClearSessionAuth() {
	s.auth.ClearSession()
	s.logger.Info("Session auth cleared")
}

// SetFullToken configures the full-access API token; empty clears it
func (s *Server) SetFullToken(token string) {
	s.auth.SetFullToken(token)
	s.logger.Info("Full API token updated", zap.Bool("enabled", token != ""))
}

// SetReadToken configures the read-only API token; empty clears it
func (s *Server) SetReadToken(token string) {
	s.auth.SetReadToken(token)
	s.logger.Info("Read API token updated", zap.Bool("enabled", token != ""))
}

// SetDashboard replaces the dashboard document served at the root
func (s *Server) SetDashboard(html string) {
	s.handlers.SetDashboard(html)
}
