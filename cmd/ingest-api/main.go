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

	"tiny-errors/internal/api"
	"tiny-errors/internal/auth"
	"tiny-errors/internal/cache"
	"tiny-errors/internal/config"
	"tiny-errors/internal/httpx"
	"tiny-errors/internal/ingest"
	ikafka "tiny-errors/internal/kafka"
	"tiny-errors/internal/logging"
	"tiny-errors/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("production", "ingest-api")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Env, "ingest-api")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, staleKeys, err := store.Bootstrap(ctx, cfg.DBDriver, cfg.DBDSN, cfg.ProjectModels())
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer store.Close(st.DB)

	keyCache := cache.ForAuth(ctx, cfg, log)
	defer keyCache.Close()
	authz := auth.NewAuthorizer(st.Projects, keyCache, cfg.AuthCacheTTL)
	if err := authz.Forget(ctx, staleKeys...); err != nil {
		log.Warn().Err(err).Msg("evict seeded api keys")
	}

	opts := []ingest.Option{
		ingest.WithBotFilter(cfg.BotUserAgents),
		ingest.WithMetrics(ingest.NewMetrics(prometheus.DefaultRegisterer)),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := ikafka.NewOccurrencePublisher(ikafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicOccurs), 5*time.Second)
		defer publisher.Close()
		opts = append(opts, ingest.WithPublisher(publisher))
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopicOccurs).Msg("publishing occurrences")
	}
	svc := ingest.NewService(st, authz, log, opts...)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewEngine(api.EngineConfig{
		Logger:           log,
		Metrics:          httpx.NewHTTPMetrics(prometheus.DefaultRegisterer, "ingest_api"),
		Gatherer:         prometheus.DefaultGatherer,
		CORSAllowOrigins: cfg.CORSAllowOrigins,
		Health:           func(ctx context.Context) error { return store.Ping(ctx, st.DB) },
	})
	api.NewIngestHandler(svc, authz, log).Register(router)

	server := &http.Server{Addr: cfg.IngestAddr, Handler: router}
	go func() {
		log.Info().Str("addr", cfg.IngestAddr).Msg("starting ingest API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ingest server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down ingest API")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
