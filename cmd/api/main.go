package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"campaign/internal/backoff"
	"campaign/internal/http/handlers"
	"campaign/internal/http/httpapi"
	"campaign/internal/infra"
	"campaign/internal/infra/rabbitmq"
	"campaign/internal/jobs"
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("api: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api: stopped")
}

func run(cfg *infra.Config, logger infra.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	defer store.Close()

	broker := rabbitmq.NewClient(rabbitmq.Options{
		URL:           cfg.RabbitMQURL,
		Topology:      topology(cfg),
		ConnectPolicy: connectPolicy(cfg),
		Logger:        logger,
	})
	if err := broker.Connect(ctx); err != nil {
		return fmt.Errorf("broker connection failed: %w", err)
	}
	defer broker.Close()

	publishPolicy := backoff.DefaultPolicy("publish generate")
	publishPolicy.MaxRetries = cfg.PublishMaxRetries
	publisher := jobs.NewPublisher(broker, jobs.PublisherOptions{
		Queue:   cfg.GenerateQueue,
		Policy:  publishPolicy,
		Timeout: cfg.PublishTimeout,
		Logger:  logger,
	})
	svc := jobs.NewService(store.Repo, publisher, logger)
	consumer := jobs.NewConsumer(broker, store.Repo, jobs.ConsumerOptions{
		Queue:               cfg.ResultQueue,
		Tag:                 "api-results",
		Prefetch:            cfg.ConsumerPrefetch,
		MaxDeliveryAttempts: cfg.MaxDeliveryAttempts,
		ReconnectPolicy:     connectPolicy(cfg),
		Logger:              logger,
	})

	app := handlers.NewApp(svc, logger)
	app.Checks["store"] = store.Ping
	app.Checks["broker"] = broker.Ping
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, cfg, logger), logger)

	// Either component failing stops the other.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func topology(cfg *infra.Config) rabbitmq.Topology {
	return rabbitmq.Topology{
		GenerateQueue:        cfg.GenerateQueue,
		ResultQueue:          cfg.ResultQueue,
		DeadLetterExchange:   cfg.DeadLetterExchange,
		DeadLetterRoutingKey: cfg.DeadLetterRoutingKey,
		DeadLetterQueue:      cfg.DeadLetterQueue,
	}
}

func connectPolicy(cfg *infra.Config) backoff.Policy {
	p := backoff.DefaultPolicy("rabbitmq connect")
	p.MaxRetries = cfg.ConnectMaxRetries
	return p
}
