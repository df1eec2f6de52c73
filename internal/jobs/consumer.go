package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"campaign/internal/backoff"
	"campaign/internal/domain"
	"campaign/internal/infra/rabbitmq"
)

const (
	defaultApplyTimeout = 15 * time.Second
	maxLoggedBody       = 512
)

// DeliverySource yields deliveries from a queue until the channel closes.
type DeliverySource interface {
	Consume(ctx context.Context, queue, tag string, prefetch int) (<-chan rabbitmq.Delivery, error)
}

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Queue               string
	Tag                 string
	Prefetch            int
	MaxDeliveryAttempts int
	ApplyTimeout        time.Duration
	ReconnectPolicy     backoff.Policy
	Logger              zerolog.Logger
}

// Consumer reconciles worker results into the job store. Every delivery ends
// acknowledged, requeued or dead-lettered; apply errors never leave Run.
type Consumer struct {
	source DeliverySource
	repo   domain.JobRepository
	opts   ConsumerOptions
	logger zerolog.Logger
}

// NewConsumer builds a consumer reading from source and writing to repo.
func NewConsumer(source DeliverySource, repo domain.JobRepository, opts ConsumerOptions) *Consumer {
	if opts.Queue == "" {
		opts.Queue = "result"
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = 1
	}
	if opts.MaxDeliveryAttempts < 1 {
		opts.MaxDeliveryAttempts = DefaultMaxDeliveryAttempts
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = defaultApplyTimeout
	}
	opts.ReconnectPolicy = reconnectPolicy(opts.ReconnectPolicy, opts.Queue, opts.Logger)
	return &Consumer{source: source, repo: repo, opts: opts, logger: opts.Logger}
}

// Run consumes until ctx is cancelled or the broker refuses the
// subscription for good. See Serve.
func (c *Consumer) Run(ctx context.Context) error {
	sub := Subscription{
		Queue:     c.opts.Queue,
		Tag:       c.opts.Tag,
		Prefetch:  c.opts.Prefetch,
		Reconnect: c.opts.ReconnectPolicy,
	}
	return Serve(ctx, c.source, sub, c.logger, func(ctx context.Context, d rabbitmq.Delivery) {
		c.Handle(ctx, d)
	})
}

// Handle runs the per-message pipeline: normalize, classify, apply, settle.
// The settle decision is made only after the apply step resolved.
func (c *Consumer) Handle(ctx context.Context, d rabbitmq.Delivery) Decision {
	meta := DeliveryMeta{RedeliveryCount: d.DeliveryCount}
	log := c.logger.With().Str("message_id", d.MessageID).Int("delivery_count", meta.RedeliveryCount).Logger()

	result, shape, err := NormalizeResult(d.Body)
	if err != nil {
		var formatErr *FormatError
		if errors.As(err, &formatErr) && formatErr.JobID != "" {
			log = log.With().Str("job_id", formatErr.JobID).Logger()
			c.markFailed(ctx, log, formatErr.JobID, fmt.Sprintf("invalid result message: %s", formatErr.Reason))
		}
		log.Error().Err(err).Str("body", truncate(d.Body)).Msg("consumer: rejecting malformed result")
		return Settle(log, d, DecisionDeadLetter)
	}
	log = log.With().Str("job_id", result.JobID).Str("shape", string(shape)).Logger()

	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ApplyTimeout)
	job, applied, err := c.repo.Transition(applyCtx, result.JobID, result.Update())
	cancel()
	if err == nil {
		switch {
		case applied:
			log.Info().Str("status", string(job.Status)).Bool("worker_failed", result.Failed()).Msg("consumer: result applied")
		default:
			log.Info().Str("status", string(job.Status)).Msg("consumer: result already applied")
		}
		return Settle(log, d, DecisionAck)
	}

	decision := Decide(err, meta, c.opts.MaxDeliveryAttempts)
	log.Error().Err(err).
		Str("kind", string(ClassifyApplyError(err))).
		Int("attempt", meta.Attempt()).
		Int("max_attempts", c.opts.MaxDeliveryAttempts).
		Str("decision", string(decision)).
		Msg("consumer: apply failed")
	if decision == DecisionDeadLetter {
		c.markFailed(ctx, log, result.JobID, fmt.Sprintf("result could not be applied: %v", err))
	}
	return Settle(log, d, decision)
}

// markFailed is best effort: the message is already headed for dead-letter
// and the job should not stay open for polling clients.
func (c *Consumer) markFailed(ctx context.Context, log zerolog.Logger, jobID, reason string) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ApplyTimeout)
	defer cancel()
	if _, _, err := c.repo.Transition(markCtx, jobID, domain.Failed(reason)); err != nil {
		log.Warn().Err(err).Msg("consumer: could not mark job failed")
	}
}

// Settle acks or nacks d as decision says. Settle errors are logged only.
func Settle(log zerolog.Logger, d rabbitmq.Delivery, decision Decision) Decision {
	var err error
	switch decision {
	case DecisionAck:
		err = d.Ack()
	case DecisionRequeue:
		err = d.Nack(true)
	default:
		err = d.Nack(false)
	}
	if err != nil {
		// The broker redelivers unsettled messages; apply is idempotent.
		log.Error().Err(err).Str("decision", string(decision)).Msg("consumer: settle failed")
	}
	return decision
}

func truncate(body []byte) string {
	if len(body) <= maxLoggedBody {
		return string(body)
	}
	return string(body[:maxLoggedBody]) + "..."
}
