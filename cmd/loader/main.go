package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tiny-errors/internal/ch"
	"tiny-errors/internal/config"
	ikafka "tiny-errors/internal/kafka"
	"tiny-errors/internal/logging"
	"tiny-errors/internal/model"
	"tiny-errors/pkg/batcher"
)

var (
	batchSizeHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loader_batch_size",
		Help:    "Histogram of ClickHouse batch sizes",
		Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000},
	})
	insertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loader_insert_duration_seconds",
		Help:    "Duration of ClickHouse insert operations",
		Buckets: prometheus.DefBuckets,
	})
	insertErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loader_insert_errors_total",
		Help: "Total ClickHouse insert failures",
	})
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("production", "loader")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Env, "loader")
	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := ch.New(ctx, cfg.ClickHouseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("clickhouse")
	}
	defer client.Close()
	if err := client.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	reader := ikafka.NewReader(cfg.KafkaBrokers, cfg.KafkaTopicEnriched, "loader-group")
	defer reader.Close()

	f := &flusher{ctx: ctx, inserter: client, log: log}
	b := batcher.New[model.EnrichedOccurrence](cfg.BatchSize, cfg.BatchInterval)
	b.Start(f.flush)

	go serveMetrics(cfg.LoaderMetricsAddr, log)

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Msg("read enriched message")
			time.Sleep(time.Second)
			continue
		}
		var row model.EnrichedOccurrence
		if err := json.Unmarshal(m.Value, &row); err != nil {
			log.Warn().Err(err).Int64("offset", m.Offset).Msg("decode enriched occurrence")
			continue
		}
		if err := b.Add(row); err != nil {
			log.Error().Err(err).Msg("batch flush failed")
		}
	}
	f.drain()
	if err := b.Stop(); err != nil {
		log.Error().Err(err).Msg("final flush failed")
	}
	log.Info().Msg("loader shutdown complete")
}

type batchInserter interface {
	InsertBatch(ctx context.Context, rows []model.EnrichedOccurrence) error
}

// flusher inserts batches under ctx, so shutdown interrupts retries. After
// drain, inserts run on a context detached from ctx so the final flush in
// Stop still reaches ClickHouse.
type flusher struct {
	ctx      context.Context
	inserter batchInserter
	log      zerolog.Logger
	draining atomic.Bool
}

func (f *flusher) drain() { f.draining.Store(true) }

func (f *flusher) flush(rows []model.EnrichedOccurrence) error {
	ctx := f.ctx
	if f.draining.Load() {
		ctx = context.WithoutCancel(ctx)
	}
	return insertWithRetry(ctx, f.inserter, rows, f.log)
}

func insertWithRetry(ctx context.Context, inserter batchInserter, rows []model.EnrichedOccurrence, log zerolog.Logger) error {
	const maxAttempts = 5
	backoff := 200 * time.Millisecond
	start := time.Now()
	for attempt := 1; ; attempt++ {
		insertCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := inserter.InsertBatch(insertCtx, rows)
		cancel()
		if err == nil {
			insertDuration.Observe(time.Since(start).Seconds())
			batchSizeHistogram.Observe(float64(len(rows)))
			return nil
		}
		insertErrors.Inc()
		log.Warn().Err(err).Int("attempt", attempt).Int("rows", len(rows)).Msg("clickhouse insert")
		if attempt == maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("insert abandoned after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
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
		log.Fatal().Err(err).Msg("loader metrics server failed")
	}
}
