package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/weirdTDD/orderflow/internal/bus"
	"github.com/weirdTDD/orderflow/internal/config"
	"github.com/weirdTDD/orderflow/internal/events"
	"github.com/weirdTDD/orderflow/internal/inventory"
	"github.com/weirdTDD/orderflow/internal/logging"
	"github.com/weirdTDD/orderflow/internal/postgres"
	"github.com/weirdTDD/orderflow/internal/redisx"
	"github.com/weirdTDD/orderflow/internal/saga"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("inventory")
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

	kb := bus.NewKafka(bus.KafkaConfig{
		Brokers:         cfg.KafkaBrokers,
		DeadLetterTopic: cfg.DeadLetterTopic,
	}, log)
	defer kb.Close()

	svc := inventory.NewService(
		inventory.NewPostgresLedger(db), kb, redisx.NewDeduper(rdb), log, cfg.ServiceName, cfg.ReservationTTL)

	if err := saga.Wire(kb, saga.Components{Inventory: svc}); err != nil {
		log.WithError(err).Fatal("subscribe")
	}
	log.WithFields(logrus.Fields{
		"group":  events.GroupInventory,
		"topics": []string{events.TopicPaymentProcessed},
		"sweep":  cfg.SweepInterval.String(),
	}).Info("inventory reactor consuming")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return inventory.NewSweeper(svc, cfg.SweepInterval, log).Run(ctx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("inventory exited")
		return
	}
	log.Info("shutting down")
}
