package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"campaign/internal/backoff"
	"campaign/internal/infra/rabbitmq"
)

// Subscription names the queue a Serve loop reads and how.
type Subscription struct {
	Queue    string
	Tag      string
	Prefetch int
	// Reconnect paces resubscribe attempts after the broker drops the channel.
	Reconnect backoff.Policy
}

// HandlerFunc settles one delivery.
type HandlerFunc func(ctx context.Context, d rabbitmq.Delivery)

// Serve consumes sub until ctx is cancelled, resubscribing whenever the
// delivery channel closes. At most Prefetch handlers run at once. It returns
// ctx.Err(), or the broker error when the broker refuses access or the
// queue's declaration, which no amount of resubscribing fixes.
func Serve(ctx context.Context, source DeliverySource, sub Subscription, logger zerolog.Logger, handle HandlerFunc) error {
	if sub.Prefetch < 1 {
		sub.Prefetch = 1
	}
	retry := sub.Reconnect.ShouldRetry
	sub.Reconnect.ShouldRetry = func(err error, attempt int) bool {
		if rabbitmq.IsMisconfiguration(err) {
			return false
		}
		return retry == nil || retry(err, attempt)
	}
	log := logger.With().Str("queue", sub.Queue).Logger()
	log.Info().Int("prefetch", sub.Prefetch).Msg("consumer: started")
	for {
		deliveries, err := backoff.Do(ctx, sub.Reconnect, func(ctx context.Context) (<-chan rabbitmq.Delivery, error) {
			return source.Consume(ctx, sub.Queue, sub.Tag, sub.Prefetch)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if rabbitmq.IsMisconfiguration(err) {
				log.Error().Err(err).Msg("consumer: broker refused subscription, giving up")
				return fmt.Errorf("subscribe %s: %w", sub.Queue, err)
			}
			log.Error().Err(err).Msg("consumer: subscribe failed")
			if waitErr := pause(ctx, sub.Reconnect.Delay(sub.Reconnect.MaxRetries)); waitErr != nil {
				return waitErr
			}
			continue
		}
		drain(ctx, deliveries, sub.Prefetch, handle)
		if ctx.Err() != nil {
			log.Info().Msg("consumer: stopped")
			return ctx.Err()
		}
		log.Warn().Msg("consumer: delivery channel closed, resubscribing")
	}
}

// drain waits for every started handler before returning.
func drain(ctx context.Context, deliveries <-chan rabbitmq.Delivery, prefetch int, handle HandlerFunc) {
	var wg sync.WaitGroup
	slots := make(chan struct{}, prefetch)
	defer wg.Wait()
	for d := range deliveries {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			// Unsettled: the broker redelivers once the channel closes.
			return
		}
		wg.Add(1)
		go func(d rabbitmq.Delivery) {
			defer wg.Done()
			defer func() { <-slots }()
			handle(ctx, d)
		}(d)
	}
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// reconnectPolicy fills in a usable resubscribe policy.
func reconnectPolicy(p backoff.Policy, queue string, logger zerolog.Logger) backoff.Policy {
	if p.InitialDelay <= 0 {
		p = backoff.DefaultPolicy("")
	}
	if p.Name == "" {
		p.Name = "consume " + queue
	}
	if p.Logger == nil {
		p.Logger = &logger
	}
	return p
}
