// Package api exposes the ingestion and query surfaces over gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tiny-errors/internal/auth"
	"tiny-errors/internal/httpx"
)

// Authorizer resolves API keys and checks project ownership.
type Authorizer interface {
	Resolve(ctx context.Context, apiKey string) (auth.Credentials, error)
	VerifyProjectAccess(ctx context.Context, apiKey, projectID string) (bool, error)
}

// EngineConfig holds what every service engine shares.
type EngineConfig struct {
	Logger           zerolog.Logger
	Metrics          *httpx.HTTPMetrics
	Gatherer         prometheus.Gatherer
	CORSAllowOrigins []string
	// Health reports dependency reachability for /healthz. Optional.
	Health func(ctx context.Context) error
}

// NewEngine builds a gin engine with recovery, metrics, CORS, /healthz and
// /metrics installed.
func NewEngine(cfg EngineConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpx.RequestLogger(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Handler())
	}
	router.Use(httpx.CORSMiddleware(cfg.CORSAllowOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		if cfg.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Health(ctx); err != nil {
				cfg.Logger.Warn().Err(err).Msg("health check failed")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return router
}
