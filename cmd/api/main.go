package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/weirdTDD/orderflow/internal/bus"
	"github.com/weirdTDD/orderflow/internal/config"
	"github.com/weirdTDD/orderflow/internal/httpx"
	"github.com/weirdTDD/orderflow/internal/inventory"
	"github.com/weirdTDD/orderflow/internal/logging"
	"github.com/weirdTDD/orderflow/internal/orders"
	"github.com/weirdTDD/orderflow/internal/payments"
	"github.com/weirdTDD/orderflow/internal/postgres"
	"github.com/weirdTDD/orderflow/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("api")
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	dedup := redisx.NewDeduper(rdb)

	kb := bus.NewKafka(bus.KafkaConfig{
		Brokers:         cfg.KafkaBrokers,
		DeadLetterTopic: cfg.DeadLetterTopic,
	}, log)
	defer kb.Close()

	ordersSvc := orders.NewService(
		orders.NewPostgresStore(db), redisx.NewOrderCache(rdb), kb, dedup, log, cfg.ServiceName)
	invSvc := inventory.NewService(
		inventory.NewPostgresLedger(db), kb, dedup, log, cfg.ServiceName, cfg.ReservationTTL)

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Orders: ordersSvc, Inventory: invSvc, Log: log}).Register(router)
	(&httpx.ProductsHandler{Inventory: invSvc, Log: log}).Register(router)
	(&httpx.PaymentsHandler{Payments: payments.NewPostgresStore(db), Log: log}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("api exited")
		return
	}
	log.Info("api stopped")
}
