package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"campaign/internal/backoff"
	"campaign/internal/generator"
	"campaign/internal/infra"
	"campaign/internal/infra/rabbitmq"
	"campaign/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadWorkerConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("worker: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker: stopped")
}

func run(cfg *infra.Config, logger infra.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connect := backoff.DefaultPolicy("rabbitmq connect")
	connect.MaxRetries = cfg.ConnectMaxRetries
	broker := rabbitmq.NewClient(rabbitmq.Options{
		URL: cfg.RabbitMQURL,
		Topology: rabbitmq.Topology{
			GenerateQueue:        cfg.GenerateQueue,
			ResultQueue:          cfg.ResultQueue,
			DeadLetterExchange:   cfg.DeadLetterExchange,
			DeadLetterRoutingKey: cfg.DeadLetterRoutingKey,
			DeadLetterQueue:      cfg.DeadLetterQueue,
		},
		ConnectPolicy: connect,
		Logger:        logger,
	})
	if err := broker.Connect(ctx); err != nil {
		return fmt.Errorf("broker connection failed: %w", err)
	}
	defer broker.Close()

	gen := generator.NewClient(generator.Options{
		BaseURL: cfg.GeneratorURL,
		Timeout: cfg.GeneratorTimeout,
		Logger:  &logger,
	})
	logger.Info().Str("generator_url", cfg.GeneratorURL).Msg("worker: generator configured")

	publish := backoff.DefaultPolicy("publish result")
	publish.MaxRetries = cfg.PublishMaxRetries
	publish.MaxDelay = worker.ResultMaxDelay
	w := worker.New(broker, gen, broker, worker.Options{
		GenerateQueue:   cfg.GenerateQueue,
		ResultQueue:     cfg.ResultQueue,
		Prefetch:        cfg.ConsumerPrefetch,
		PublishPolicy:   publish,
		ReconnectPolicy: connect,
		Logger:          logger,
	})

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
