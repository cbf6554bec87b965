// Package server exposes the ambassador's wire surface: session
// registration, tool listing and invocation, heartbeats, the OAuth
// connect flow and health. JSON over HTTPS with a strict TLS floor; every
// response carries the standard security headers.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mcpambassador/server/internal/authn"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/oauth"
	"github.com/mcpambassador/server/internal/pipeline"
	"github.com/mcpambassador/server/internal/pool"
	"github.com/mcpambassador/server/internal/router"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/pkg/logging"
)

// APIVersion is reported on catalog responses.
const APIVersion = "v1"

// Server is the HTTP front of the ambassador.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	pipeline *pipeline.Pipeline
	router   *router.Router
	users    *pool.UserPool
	oauth    *oauth.Manager

	callbackLimiter *ipLimiter
	httpServer      *http.Server
}

// New creates the HTTP server.
func New(cfg *config.Config, st *store.Store, p *pipeline.Pipeline, rt *router.Router, users *pool.UserPool, om *oauth.Manager) *Server {
	s := &Server{
		cfg:             cfg,
		store:           st,
		pipeline:        p,
		router:          rt,
		users:           users,
		oauth:           om,
		callbackLimiter: newIPLimiter(cfg.OAuth.CallbackRateLimit, 5),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions/register", s.handleRegister)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools/invoke", s.handleInvoke)
	mux.HandleFunc("POST /v1/sessions/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("DELETE /v1/sessions/connections/{id}", s.handleDisconnectConnection)
	mux.HandleFunc("POST /v1/users/me/oauth/authorize", s.handleOAuthAuthorize)
	mux.HandleFunc("GET /v1/oauth/callback", s.handleOAuthCallback)
	mux.HandleFunc("GET /v1/users/me/oauth/status/{name}", s.handleOAuthStatus)
	mux.HandleFunc("DELETE /v1/users/me/oauth/disconnect/{name}", s.handleOAuthDisconnect)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the composed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called. TLS
// materials are loaded from <dataDir>/certs; when absent the server falls
// back to plain HTTP with a loud warning (certificate provisioning is
// deployment tooling's job).
func (s *Server) Start() error {
	certFile := filepath.Join(s.cfg.DataDir, "certs", "server.pem")
	keyFile := filepath.Join(s.cfg.DataDir, "certs", "server-key.pem")

	if fileExists(certFile) && fileExists(keyFile) {
		s.httpServer.TLSConfig = strictTLSConfig()
		logging.Info("HTTP", "Serving HTTPS on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}

	logging.Warn("HTTP", "No TLS materials in %s/certs; serving plain HTTP", s.cfg.DataDir)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// strictTLSConfig pins TLS >= 1.2 with a modern cipher list. TLS 1.3
// suites are not configurable and always on.
func strictTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// authenticate resolves the session token on a request.
func (s *Server) authenticate(r *http.Request) (*authn.SessionContext, error) {
	return s.pipeline.Authenticate(r.Context(), bearerToken(r), sourceIP(r))
}
