package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"tiny-errors/internal/config"
	ikafka "tiny-errors/internal/kafka"
	"tiny-errors/internal/logging"
	"tiny-errors/internal/model"
	"tiny-errors/internal/pipeline"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enricher_msgs_consumed_total",
		Help: "Total messages consumed from the occurrence topic",
	})
	msgsProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enricher_msgs_produced_total",
		Help: "Total messages produced to the enriched topic",
	})
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_errors_total",
		Help: "Enrichment failures by stage",
	}, []string{"stage"})
	consumerLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enricher_consumer_lag",
		Help: "Current consumer lag reported by kafka-go",
	})
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("production", "consumer-enricher")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Env, "consumer-enricher")
	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reader := ikafka.NewReader(cfg.KafkaBrokers, cfg.KafkaTopicOccurs, "enricher-group")
	writer := ikafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicEnriched)
	defer reader.Close()
	defer writer.Close()

	go serveMetrics(cfg.EnricherMetricsAddr, log)

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			errorsTotal.WithLabelValues("read").Inc()
			log.Error().Err(err).Msg("read kafka")
			time.Sleep(time.Second)
			continue
		}
		msgsConsumed.Inc()
		consumerLag.Set(float64(reader.Stats().Lag))

		var occ model.OccurrenceMessage
		if err := json.Unmarshal(m.Value, &occ); err != nil {
			errorsTotal.WithLabelValues("decode").Inc()
			log.Warn().Err(err).Int64("offset", m.Offset).Msg("decode occurrence")
			continue
		}
		payload, err := json.Marshal(pipeline.Enrich(occ, time.Now()))
		if err != nil {
			errorsTotal.WithLabelValues("encode").Inc()
			log.Warn().Err(err).Str("error_id", occ.ID).Msg("encode enriched occurrence")
			continue
		}
		writeCtx, cancelWrite := context.WithTimeout(ctx, 10*time.Second)
		err = writer.WriteMessages(writeCtx, kafkago.Message{Key: m.Key, Value: payload})
		cancelWrite()
		if err != nil {
			errorsTotal.WithLabelValues("produce").Inc()
			log.Error().Err(err).Str("error_id", occ.ID).Msg("produce enriched occurrence")
			continue
		}
		msgsProduced.Inc()
	}
	log.Info().Msg("enricher shutdown complete")
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("metrics server failed")
	}
}
