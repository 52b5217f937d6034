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
	"github.com/weirdTDD/orderflow/internal/payments"
	"github.com/weirdTDD/orderflow/internal/postgres"
	"github.com/weirdTDD/orderflow/internal/redisx"
	"github.com/weirdTDD/orderflow/internal/saga"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("payments")
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

	gateway := payments.NewSimulatedGateway(cfg.PaymentFailureRate, cfg.PaymentLatency)
	proc := payments.NewProcessor(
		payments.NewPostgresStore(db), gateway, kb, redisx.NewDeduper(rdb), log, cfg.ServiceName, cfg.PaymentTimeout)

	if err := saga.Wire(kb, saga.Components{Payments: proc}); err != nil {
		log.WithError(err).Fatal("subscribe")
	}
	log.WithFields(logrus.Fields{
		"group":        events.GroupPayments,
		"topics":       []string{events.TopicOrderCreated},
		"failure_rate": cfg.PaymentFailureRate,
	}).Info("payments reactor consuming")

	<-ctx.Done()
	log.Info("shutting down")
}
