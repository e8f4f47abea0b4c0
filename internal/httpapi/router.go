// Package httpapi exposes the operational HTTP surface: liveness, readiness
// against the key-value store, and Prometheus metrics. The cache itself is a
// library consumed in-process; it has no public HTTP API here.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantumsenses/go-deploy-cache/internal/config"
	"github.com/quantumsenses/go-deploy-cache/internal/httpapi/middleware"
	"github.com/quantumsenses/go-deploy-cache/internal/store"
)

// readyTimeout bounds the store ping performed by /readyz.
const readyTimeout = 2 * time.Second

// RegisterRoutes attaches middleware and the ops endpoints to the engine.
//
// Middleware order matters: RequestID first so logging and recovery carry
// the correlation ID, then Logger, then Recovery, then Metrics.
func RegisterRoutes(r *gin.Engine, st store.Store, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			middleware.LoggerFrom(c).Error().Err(err).Msg("readiness ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": "method_not_allowed", "message": "method not allowed"})
	})
}

// NewServer builds the http.Server wrapping a fresh Gin engine with all
// routes registered.
func NewServer(st store.Store, cfg config.Config) *http.Server {
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	RegisterRoutes(engine, st, cfg)

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
