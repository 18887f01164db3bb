package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/config"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/logging"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store/postgres"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/worker"
)

func main() {
	cfg := config.LoadWorker()
	logger := logging.Must("notification-worker", cfg.LogDevelopment)
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DB_DSN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	var brokers worker.Brokers
	if cfg.AMQPURL != "" {
		publisher, err := worker.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal("amqp connect", zap.Error(err))
		}
		defer publisher.Close()
		brokers.AMQP = publisher
	}
	if cfg.MQTTBrokerURL != "" {
		publisher, err := worker.NewMQTTPublisher(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			logger.Fatal("mqtt connect", zap.Error(err))
		}
		defer publisher.Close()
		brokers.MQTT = publisher
	}

	st := postgres.NewWorkerStore(pool, "")
	providers := worker.NewProviders(cfg.Providers, brokers, logger)
	w := worker.New(st, providers, logger, worker.Config{
		BatchSize:   cfg.BatchSize,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  200 * time.Millisecond,
	})

	logger.Info("notification worker started", zap.Duration("interval", cfg.Interval))
	go worker.Start(ctx, cfg.Interval, w)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()
	logger.Info("notification worker stopped")
}
