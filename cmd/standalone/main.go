// Command standalone runs the whole fulfillment flow in one process on the
// in-memory bus and stores. No Kafka, Postgres or Redis required; useful for
// demos and for poking the API by hand.
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
	"github.com/weirdTDD/orderflow/internal/redisx"
	"github.com/weirdTDD/orderflow/internal/saga"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("standalone")
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mb := bus.NewMemory(log, time.Second)
	defer mb.Close()
	dedup := redisx.NewMemoryDeduper()

	invSvc := inventory.NewService(
		inventory.NewMemoryLedger(), mb, dedup, log, cfg.ServiceName, cfg.ReservationTTL)
	ordersSvc := orders.NewService(
		orders.NewMemoryStore(), orders.NopCache{}, mb, dedup, log, cfg.ServiceName)
	payStore := payments.NewMemoryStore()
	proc := payments.NewProcessor(
		payStore, payments.NewSimulatedGateway(cfg.PaymentFailureRate, cfg.PaymentLatency),
		mb, dedup, log, cfg.ServiceName, cfg.PaymentTimeout)

	if err := saga.Wire(mb, saga.Components{Orders: ordersSvc, Inventory: invSvc, Payments: proc}); err != nil {
		log.WithError(err).Fatal("subscribe")
	}
	seed(ctx, log, invSvc)

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Orders: ordersSvc, Inventory: invSvc, Log: log}).Register(router)
	(&httpx.ProductsHandler{Inventory: invSvc, Log: log}).Register(router)
	(&httpx.PaymentsHandler{Payments: payStore, Log: log}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return inventory.NewSweeper(invSvc, cfg.SweepInterval, log).Run(ctx)
	})
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("standalone listening")
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
		log.WithError(err).Error("standalone exited")
		return
	}
	log.Info("standalone stopped")
}

func seed(ctx context.Context, log *logrus.Entry, svc *inventory.Service) {
	for _, it := range []inventory.Item{
		{ProductID: "sku-keyboard", Name: "65% keyboard", PriceCents: 9900, Quantity: 25},
		{ProductID: "sku-mouse", Name: "wireless mouse", PriceCents: 4500, Quantity: 40},
		{ProductID: "sku-deskmat", Name: "desk mat", PriceCents: 1900, Quantity: 3},
	} {
		if err := svc.AddProduct(ctx, it); err != nil {
			log.WithError(err).WithField("product_id", it.ProductID).Warn("seed product")
		}
	}
}
