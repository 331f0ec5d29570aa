package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/ariefcatur/quickbuy/internal/checkout"
	"github.com/ariefcatur/quickbuy/internal/config"
	"github.com/ariefcatur/quickbuy/internal/httpx"
	kafkax "github.com/ariefcatur/quickbuy/internal/kafka"
	"github.com/ariefcatur/quickbuy/internal/logger"
	"github.com/ariefcatur/quickbuy/internal/metrics"
	"github.com/ariefcatur/quickbuy/internal/postgres"
	"github.com/ariefcatur/quickbuy/internal/redisx"
	"github.com/ariefcatur/quickbuy/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireSession()
	}
	log := logger.New(logger.Options{Service: "quickbuy-api", Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Error(context.Background(), "config.invalid", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "api.exit", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.Pool("quickbuy-api"))
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, db, "up"); err != nil {
			return err
		}
	}

	// Redis
	rdb, err := redisx.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rdb.Close()) }()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.Brokers(), checkout.TopicOrderPlaced, 1024, log)
	prod.Start(ctx)
	defer prod.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rate, err := cfg.CourierRate()
	if err != nil {
		return err
	}
	svc, err := checkout.NewService(checkout.Deps{
		Store:   &checkout.Repo{DB: db},
		Courier: checkout.NewCourier(rate),
		Locker:  redisx.NewCheckoutLock(rdb, cfg.CheckoutLockTTL),
		Publisher: &checkout.EventPublisher{
			Producer: prod,
			Service:  cfg.ServiceName,
			TraceID:  middleware.GetReqID,
		},
		Metrics: metrics.NewCheckoutMetrics(reg),
		Log:     log,
	})
	if err != nil {
		return err
	}

	sessions := session.NewManager([]byte(cfg.SessionSecret), cfg.SessionSecure)
	router := httpx.NewRouter(log, cfg.RequestTimeout, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	(&httpx.CheckoutHandler{Service: svc, Sessions: sessions, Log: log}).Register(router)
	(&httpx.OrdersHandler{Orders: svc, Cache: redisx.NewOrderCache(rdb), Sessions: sessions, Log: log}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info(log.WithField(ctx, "addr", cfg.HTTPAddr), "http.listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info(log.WithField(ctx, "signal", s.String()), "shutting down")
	case err = <-errc:
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	return multierr.Append(err, srv.Shutdown(sctx))
}
