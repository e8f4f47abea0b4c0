// Package app wires configuration, the key-value store, the caches, the
// durable backend, the provisioning pipeline, the reconciler, and the ops
// HTTP server into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/quantumsenses/go-deploy-cache/internal/backend"
	"github.com/quantumsenses/go-deploy-cache/internal/cache"
	"github.com/quantumsenses/go-deploy-cache/internal/config"
	"github.com/quantumsenses/go-deploy-cache/internal/httpapi"
	"github.com/quantumsenses/go-deploy-cache/internal/observability"
	"github.com/quantumsenses/go-deploy-cache/internal/provision"
	"github.com/quantumsenses/go-deploy-cache/internal/store"
	"github.com/quantumsenses/go-deploy-cache/internal/syncer"
	"github.com/quantumsenses/go-deploy-cache/internal/sysutil"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App holds every wired component. Build one with New, run it with Run, or
// drive individual pieces (Reconciler, Pipeline, caches) directly in tests
// and one-shot commands.
type App struct {
	Cfg config.Config

	Store      store.Store
	Messages   *cache.MessageCache
	Containers *cache.ContainerCache
	Registry   *cache.NameRegistry
	Staging    *cache.StagingCache

	Creds      backend.CredentialProvider
	Backend    backend.DurableBackend
	Pipeline   *provision.Pipeline
	Reconciler *syncer.Reconciler
	Server     *http.Server

	shutdownOTel func(context.Context) error
	closeStore   func() error

	// syncOnce makes the background reconciler a one-shot: however many
	// times StartSync is called, exactly one loop runs.
	syncOnce sync.Once
}

// New wires an App from configuration. The store connection is established
// here; everything else is lazy.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)

	shutdownOTel, err := observability.Setup(ctx, cfg.OTEL, Version)
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}

	rs := store.NewRedis(cfg.Store.Addr, cfg.Store.Password, cfg.Store.DB)
	a := &App{
		Cfg:          cfg,
		Store:        rs,
		shutdownOTel: shutdownOTel,
		closeStore:   rs.Close,
	}

	a.Messages = cache.NewMessageCache(a.Store, cfg.Cache.TTL, cfg.Cache.Serialize)
	a.Containers = cache.NewContainerCache(a.Store, cfg.Cache.TTL)
	a.Registry = cache.NewNameRegistry(a.Store)
	a.Staging = cache.NewStagingCache(a.Store, a.Registry, cfg.Cache.TTL, cfg.Cache.FlagTTL)

	var containerWriter backend.ContainerWriter
	var specsWriter backend.SpecsWriter
	switch cfg.Backend.Mode {
	case config.BackendSQLite:
		db, err := backend.OpenSQLite(cfg.Backend.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		if err := backend.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate sqlite backend: %w", err)
		}
		sb := backend.NewSQLiteBackend(db)
		a.Backend = sb
		a.Creds = backend.StaticCredentialProvider{}
		containerWriter = sb
		specsWriter = sb
	default:
		hb := backend.NewHTTPBackend(cfg.Backend.APIURL)
		a.Backend = hb
		a.Creds = backend.NewHTTPCredentialProvider(cfg.Backend.APIURL, cfg.Backend.Username, cfg.Backend.Password)
		containerWriter = hb
		specsWriter = hb
	}

	a.Pipeline = provision.NewPipeline(
		provision.NewHTTPRepoCloner(cfg.Provision.GitAPIURL),
		provision.NewHTTPProvisioner(cfg.Provision.ProvisionAPIURL),
		a.Messages,
		a.Containers,
		a.Creds,
		containerWriter,
		specsWriter,
	)

	a.Reconciler = syncer.NewReconciler(a.Store, a.Messages, a.Creds, a.Backend, cfg.Sync.Interval, cfg.Sync.ScanCount)
	if cfg.Sync.RPS > 0 {
		a.Reconciler.Limiter = rate.NewLimiter(rate.Limit(cfg.Sync.RPS), cfg.Sync.Burst)
	}

	a.Server = httpapi.NewServer(a.Store, cfg)
	return a, nil
}

// StartSync launches the background reconciler loop. Repeat calls are no-ops.
func (a *App) StartSync(ctx context.Context) {
	a.syncOnce.Do(func() {
		go a.Reconciler.Run(ctx)
	})
}

// Run starts the reconciler and the ops server and blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.StartSync(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.Server.Addr).Str("version", Version).Msg("ops server listening")
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ops server shutdown failed")
	}
	return a.Close(shutdownCtx)
}

// Close releases the store connection and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			firstErr = err
		}
	}
	if a.shutdownOTel != nil {
		if err := a.shutdownOTel(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
