package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/ariefcatur/quickbuy/internal/checkout"
	"github.com/ariefcatur/quickbuy/internal/config"
	kafkax "github.com/ariefcatur/quickbuy/internal/kafka"
	"github.com/ariefcatur/quickbuy/internal/logger"
	"github.com/ariefcatur/quickbuy/internal/metrics"
	"github.com/ariefcatur/quickbuy/internal/postgres"
	"github.com/ariefcatur/quickbuy/internal/redisx"
	"github.com/ariefcatur/quickbuy/internal/stockwatch"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	log := logger.New(logger.Options{Service: "quickbuy-stockwatch", Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Error(context.Background(), "config.invalid", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "stockwatch.exit", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.Pool("quickbuy-stockwatch"))
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := redisx.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rdb.Close()) }()

	reg := prometheus.NewRegistry()
	svc := &stockwatch.Service{
		Stock:     &stockwatch.Repo{DB: db},
		Redis:     rdb,
		Threshold: cfg.LowStockThreshold,
		Metrics:   metrics.NewStockwatchMetrics(reg),
		Log:       log,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	msrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "metrics.listen", err)
		}
	}()

	dlq := kafkax.NewProducer(cfg.Brokers(), stockwatch.TopicDeadLetter, 64, log)
	dlq.Start(context.Background())
	defer dlq.Close()

	cons := kafkax.NewConsumer(cfg.Brokers(), cfg.StockwatchGroup, checkout.TopicOrderPlaced, cfg.StockwatchWorkers, log).
		WithDeadLetter(dlq, cfg.StockwatchMaxAttempts)
	done := make(chan error, 1)
	go func() {
		log.Info(log.WithFields(ctx, map[string]any{
			"group":   cfg.StockwatchGroup,
			"topic":   checkout.TopicOrderPlaced,
			"workers": cfg.StockwatchWorkers,
		}), "stockwatch.consumer.started")
		done <- cons.Start(ctx, svc.HandleOrderPlaced)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info(log.WithField(ctx, "signal", s.String()), "shutting down consumer")
		cancel()
		err = <-done
	case err = <-done:
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	return multierr.Append(err, msrv.Shutdown(sctx))
}
