package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wuminzhe/matching/internal/broadcast"
	"github.com/wuminzhe/matching/internal/config"
	"github.com/wuminzhe/matching/internal/handler"
	"github.com/wuminzhe/matching/internal/ingest"
	"github.com/wuminzhe/matching/internal/logging"
	"github.com/wuminzhe/matching/internal/marketdata"
	"github.com/wuminzhe/matching/internal/matching"
	"github.com/wuminzhe/matching/internal/middleware"
	"github.com/wuminzhe/matching/internal/ordermanager"
	"github.com/wuminzhe/matching/internal/sequencer"
	"github.com/wuminzhe/matching/internal/store"
)

const bookGaugeInterval = 5 * time.Second

func main() {
	envPath := flag.String("env", "", "path to .env file")
	flag.Parse()

	cfg := config.LoadFromEnv(*envPath)

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	if cfg.File != "" {
		return logging.NewLoggerWithFile(cfg.Level, cfg.File)
	}
	return logging.NewLogger(cfg.Level)
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("starting matching service",
		zap.String("market", cfg.Market.Name),
		zap.Int32("price_decimals", cfg.Market.PriceDecimals),
		zap.Int32("volume_decimals", cfg.Market.VolumeDecimals))

	// --- Core components ---

	st, err := store.Open(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	// Sequencer (owns the matching engine, stamps sequence IDs)
	seq := sequencer.NewSequencer(cfg.Server.ChannelBufferSize, logger,
		matching.WithMarket(cfg.Market.Name),
		matching.WithVolumeDecimals(cfg.Market.VolumeDecimals))

	// Order manager (normalization, persistence, order state)
	manager := ordermanager.NewManager(st, ordermanager.Config{
		PriceDecimals:  cfg.Market.PriceDecimals,
		VolumeDecimals: cfg.Market.VolumeDecimals,
		BufferSize:     cfg.Server.ChannelBufferSize,
	}, logger)

	// Market data publisher (candlesticks, execution log)
	publisher := marketdata.NewPublisher(cfg.Market.Name, cfg.Server.ChannelBufferSize, logger)
	manager.AddSink(publisher)

	if cfg.NATS.URL != "" {
		bc, err := broadcast.Connect(cfg.NATS.URL, cfg.Market.Name, logger)
		if err != nil {
			return err
		}
		defer bc.Close()
		manager.AddSink(bc)
	}

	// --- Wire channels ---
	//
	// API / Kafka → Order Manager → [OrderOut] → Sequencer [OrderIn]
	//                                              ↓
	// Sinks ← Order Manager [ExecutionIn] ← [ExecutionOut] Sequencer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			select {
			case event := <-manager.OrderOut:
				if err := seq.Submit(ctx, event); err != nil {
					logger.Warn("order not sequenced", zap.Uint64("order_id", event.Order.ID), zap.Error(err))
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case event := <-seq.ExecutionOut:
				select {
				case manager.ExecutionIn <- event:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go reportBookLevels(ctx, seq)

	seq.Start()
	manager.Start()
	publisher.Start()

	var consumer *ingest.Consumer
	if len(cfg.Kafka.Brokers) > 0 {
		consumer = ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, manager, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("kafka consumer stopped", zap.Error(err))
			}
		}()
	}

	// --- HTTP Server ---
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger.Named("http")), middleware.PrometheusMiddleware())

	h := handler.NewHandler(manager, seq, publisher, logger)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.HTTPPort,
		Handler: r,
	}

	// --- Metrics Server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.Server.MetricsPort,
		Handler: metricsMux,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("metrics server listening", zap.String("port", cfg.Server.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.Server.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-errCh:
	}

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	cancel()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Error("kafka consumer close error", zap.Error(err))
		}
	}
	seq.Stop()
	manager.Stop()
	publisher.Stop()

	logger.Info("matching service stopped")
	return runErr
}

// reportBookLevels refreshes the book level gauges.
func reportBookLevels(ctx context.Context, seq *sequencer.Sequencer) {
	ticker := time.NewTicker(bookGaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			bids, asks, err := seq.BookLevels(ctx)
			if err != nil {
				continue
			}
			middleware.BookLevels.WithLabelValues("bid").Set(float64(bids))
			middleware.BookLevels.WithLabelValues("ask").Set(float64(asks))
		case <-ctx.Done():
			return
		}
	}
}
