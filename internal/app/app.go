// Package app wires the ambassador together: store, vault, providers,
// pools, session lifecycle, OAuth manager and the HTTP server, plus signal
// handling and ordered shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/mcpambassador/server/internal/adminkey"
	"github.com/mcpambassador/server/internal/audit"
	"github.com/mcpambassador/server/internal/authn"
	"github.com/mcpambassador/server/internal/authz"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/killswitch"
	"github.com/mcpambassador/server/internal/mcpclient"
	"github.com/mcpambassador/server/internal/oauth"
	"github.com/mcpambassador/server/internal/pipeline"
	"github.com/mcpambassador/server/internal/pool"
	"github.com/mcpambassador/server/internal/provider"
	"github.com/mcpambassador/server/internal/ratelimit"
	"github.com/mcpambassador/server/internal/router"
	"github.com/mcpambassador/server/internal/server"
	"github.com/mcpambassador/server/internal/session"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/internal/validate"
	"github.com/mcpambassador/server/internal/vault"
	"github.com/mcpambassador/server/pkg/logging"
)

// Application is the assembled ambassador server.
type Application struct {
	cfg *config.Config

	store    *store.Store
	vault    *vault.Vault
	registry *provider.Registry
	auditor  *audit.Service
	shared   *pool.SharedManager
	users    *pool.UserPool
	sessions *session.Manager
	oauth    *oauth.Manager
	server   *server.Server
	switches *killswitch.Map
}

// New builds the application from configuration. Any error here is fatal:
// the process must exit non-zero rather than run partially initialized.
func New(cfg *config.Config) (*Application, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "ambassador.db"))
	if err != nil {
		return nil, err
	}

	masterKey, err := vault.LoadMasterKey(cfg.DataDir)
	if err != nil {
		st.Close()
		return nil, err
	}
	v, err := vault.New(masterKey)
	if err != nil {
		st.Close()
		return nil, err
	}

	ctx := context.Background()

	// Admin key bootstrap. Printed once; there is no way to recover it
	// other than rotation with the recovery token.
	keys := adminkey.NewManager(st, cfg.DataDir)
	if adminKey, created, err := keys.Bootstrap(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("admin key initialization failed: %w", err)
	} else if created {
		fmt.Fprintf(os.Stdout, "Initial admin key (save it now, it will not be shown again): %s\n", adminKey)
	}

	fileSink := audit.NewFileSink(audit.FileSinkOptions{
		Dir:        filepath.Join(cfg.DataDir, "audit"),
		MaxSizeMB:  cfg.Audit.MaxFileSizeMB,
		MaxAgeDays: cfg.Audit.MaxAgeDays,
	})
	auditor := audit.NewService(fileSink, cfg.Audit.OnFailure, cfg.Audit.BufferSize)

	authnProvider := authn.NewPresharedKeyProvider(st)
	authzProvider := authz.NewLocalRBACProvider(st)

	// All providers pass through the registry so the allow-list and
	// interface validation gate anything that serves requests.
	registry := provider.NewRegistry()
	if err := registry.Register(ctx, provider.KindAuthN, authnProvider); err != nil {
		st.Close()
		return nil, err
	}
	if err := registry.Register(ctx, provider.KindAuthZ, authzProvider); err != nil {
		st.Close()
		return nil, err
	}
	if err := registry.Register(ctx, provider.KindAudit, fileSink); err != nil {
		st.Close()
		return nil, err
	}

	factory := mcpclient.DefaultFactory{}
	shared := pool.NewSharedManager(st, factory, cfg.Pool)
	users := pool.NewUserPool(st, v, factory, cfg.Pool)
	rt := router.New(shared, users)

	sessions := session.NewManager(st, users, auditor, cfg.Sessions)
	om := oauth.NewManager(st, v, cfg.OAuth.StateTTL)
	switches := killswitch.New()

	limits := func(ctx context.Context, profileID string) (ratelimit.Limits, error) {
		perMin, perHour, maxConc, err := authzProvider.Limits(ctx, profileID)
		if err != nil {
			return ratelimit.Limits{}, err
		}
		return ratelimit.Limits{PerMinute: perMin, PerHour: perHour, MaxConcurrent: maxConc}, nil
	}

	p := pipeline.New(authnProvider, authzProvider, auditor, validate.New(), rt,
		switches, ratelimit.New(), limits, st)

	srv := server.New(cfg, st, p, rt, users, om)

	return &Application{
		cfg:      cfg,
		store:    st,
		vault:    v,
		registry: registry,
		auditor:  auditor,
		shared:   shared,
		users:    users,
		sessions: sessions,
		oauth:    om,
		server:   srv,
		switches: switches,
	}, nil
}

// Run starts every component and blocks until SIGINT/SIGTERM or a fatal
// serving error. Shutdown order: lifecycle timers, audit flush, downstream
// connections, store.
func (a *Application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.shared.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start shared tool servers: %w", err)
	}
	a.shared.StartHealthLoop(runCtx)
	a.users.StartHealthLoop(runCtx)
	a.sessions.Start(runCtx)
	a.oauth.StartCleanupLoop(runCtx, a.cfg.OAuth.CleanupInterval)

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.server.Start() }()

	// Tell systemd we are ready; harmless outside systemd.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Debug("Bootstrap", "sd_notify unavailable: %v", err)
	}
	logging.Info("Bootstrap", "%s listening on %s:%d", a.cfg.ServerName, a.cfg.Host, a.cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logging.Info("Bootstrap", "Received %s, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			a.shutdown()
			return err
		}
	case <-ctx.Done():
	}

	a.shutdown()
	return nil
}

func (a *Application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1. Stop timers so no new transitions or cleanups race shutdown.
	a.sessions.Stop()
	a.oauth.StopCleanupLoop()
	a.users.StopHealthLoop()

	// 2. Stop accepting requests and flush audit.
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Bootstrap", "HTTP shutdown: %v", err)
	}
	if err := a.auditor.Flush(shutdownCtx); err != nil {
		logging.Error("Bootstrap", err, "Audit flush failed during shutdown")
	}

	// 3. Tear down downstream connections.
	a.users.TerminateAll(shutdownCtx)
	a.shared.Stop(shutdownCtx)
	if err := a.registry.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Bootstrap", "Provider shutdown: %v", err)
	}

	// 4. Close the store last.
	if err := a.store.Close(); err != nil {
		logging.Warn("Bootstrap", "Store close: %v", err)
	}
	logging.Info("Bootstrap", "Shutdown complete")
}

// Status returns a snapshot for the status command.
func (a *Application) Status() ([]pool.UserStatus, pool.UserStatus, []string) {
	return a.users.Status(), a.shared.Status(), a.switches.Snapshot()
}
