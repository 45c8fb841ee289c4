package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"tiny-errors/internal/analytics"
	"tiny-errors/internal/api"
	"tiny-errors/internal/auth"
	"tiny-errors/internal/cache"
	"tiny-errors/internal/ch"
	"tiny-errors/internal/config"
	"tiny-errors/internal/httpx"
	"tiny-errors/internal/logging"
	"tiny-errors/internal/store"
)

// analyticsSource is what both analytics components read from.
type analyticsSource interface {
	analytics.TimestampSource
	analytics.BreadcrumbSource
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("production", "query-api")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Env, "query-api")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, staleKeys, err := store.Bootstrap(ctx, cfg.DBDriver, cfg.DBDSN, cfg.ProjectModels())
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer store.Close(st.DB)

	var source analyticsSource = st.Occurrences
	if cfg.AnalyticsSource == config.AnalyticsSourceClickHouse {
		client, err := ch.New(ctx, cfg.ClickHouseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("clickhouse")
		}
		defer client.Close()
		source = client
	}
	log.Info().Str("source", cfg.AnalyticsSource).Msg("analytics source")

	keyCache := cache.ForAuth(ctx, cfg, log)
	defer keyCache.Close()
	authz := auth.NewAuthorizer(st.Projects, keyCache, cfg.AuthCacheTTL)
	if err := authz.Forget(ctx, staleKeys...); err != nil {
		log.Warn().Err(err).Msg("evict seeded api keys")
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewEngine(api.EngineConfig{
		Logger:           log,
		Metrics:          httpx.NewHTTPMetrics(prometheus.DefaultRegisterer, "query_api"),
		Gatherer:         prometheus.DefaultGatherer,
		CORSAllowOrigins: cfg.CORSAllowOrigins,
		Health:           func(ctx context.Context) error { return store.Ping(ctx, st.DB) },
	})
	api.NewQueryHandler(st, authz,
		analytics.NewTrendAnalyzer(st.Groups, source, time.Now, log),
		analytics.NewRageClickAggregator(source, log),
		log,
	).Register(router)

	server := &http.Server{Addr: cfg.QueryAddr, Handler: router}
	go func() {
		log.Info().Str("addr", cfg.QueryAddr).Msg("starting query API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("query api failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
