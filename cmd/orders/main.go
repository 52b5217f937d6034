package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/weirdTDD/orderflow/internal/bus"
	"github.com/weirdTDD/orderflow/internal/config"
	"github.com/weirdTDD/orderflow/internal/events"
	"github.com/weirdTDD/orderflow/internal/logging"
	"github.com/weirdTDD/orderflow/internal/orders"
	"github.com/weirdTDD/orderflow/internal/postgres"
	"github.com/weirdTDD/orderflow/internal/redisx"
	"github.com/weirdTDD/orderflow/internal/saga"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("orders")
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

	svc := orders.NewService(
		orders.NewPostgresStore(db), redisx.NewOrderCache(rdb), kb, redisx.NewDeduper(rdb), log, cfg.ServiceName)

	if err := saga.Wire(kb, saga.Components{Orders: svc}); err != nil {
		log.WithError(err).Fatal("subscribe")
	}
	log.WithFields(logrus.Fields{
		"group":  events.GroupOrders,
		"topics": []string{events.TopicPaymentProcessed, events.TopicInventoryUpdated},
	}).Info("orders reactor consuming")

	<-ctx.Done()
	log.Info("shutting down")
}
