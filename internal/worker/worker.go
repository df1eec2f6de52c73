// Package worker turns generate requests into result messages by calling the
// generator service.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"campaign/internal/backoff"
	"campaign/internal/domain"
	"campaign/internal/generator"
	"campaign/internal/infra/rabbitmq"
	"campaign/internal/jobs"
)

const (
	resultPattern = "result"
	defaultTag    = "worker"
)

// ResultMaxDelay caps the wait between result publish attempts.
const ResultMaxDelay = 10 * time.Second

// Generator produces content for one request.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (generator.Output, error)
}

// Options configures a Worker.
type Options struct {
	GenerateQueue   string
	ResultQueue     string
	Tag             string
	Prefetch        int
	PublishPolicy   backoff.Policy
	ReconnectPolicy backoff.Policy
	Logger          zerolog.Logger
}

// Worker consumes the generate queue and answers on the result queue.
type Worker struct {
	source jobs.DeliverySource
	gen    Generator
	broker jobs.MessagePublisher
	opts   Options
	policy backoff.Policy
	logger zerolog.Logger
}

// New wires a worker.
func New(source jobs.DeliverySource, gen Generator, broker jobs.MessagePublisher, opts Options) *Worker {
	if opts.GenerateQueue == "" {
		opts.GenerateQueue = "generate"
	}
	if opts.ResultQueue == "" {
		opts.ResultQueue = "result"
	}
	if opts.Tag == "" {
		opts.Tag = defaultTag
	}
	if opts.ReconnectPolicy.InitialDelay <= 0 {
		opts.ReconnectPolicy = backoff.DefaultPolicy("consume " + opts.GenerateQueue)
	}
	if opts.ReconnectPolicy.Logger == nil {
		logger := opts.Logger
		opts.ReconnectPolicy.Logger = &logger
	}
	policy := opts.PublishPolicy
	if policy.InitialDelay <= 0 {
		policy = backoff.DefaultPolicy("")
		policy.MaxDelay = ResultMaxDelay
	}
	if policy.Name == "" {
		policy.Name = "publish result"
	}
	policy.ShouldRetry = retryResultPublish
	if policy.Logger == nil {
		logger := opts.Logger
		policy.Logger = &logger
	}
	return &Worker{source: source, gen: gen, broker: broker, opts: opts, policy: policy, logger: opts.Logger}
}

// Run serves the generate queue until ctx is cancelled or the broker refuses
// the subscription for good.
func (w *Worker) Run(ctx context.Context) error {
	sub := jobs.Subscription{
		Queue:     w.opts.GenerateQueue,
		Tag:       w.opts.Tag,
		Prefetch:  w.opts.Prefetch,
		Reconnect: w.opts.ReconnectPolicy,
	}
	return jobs.Serve(ctx, w.source, sub, w.logger, func(ctx context.Context, d rabbitmq.Delivery) {
		w.Handle(ctx, d)
	})
}

// Handle processes one generate request. Generator failures become error
// results; only a result that could not be published leaves the request
// unacknowledged.
func (w *Worker) Handle(ctx context.Context, d rabbitmq.Delivery) jobs.Decision {
	log := w.logger.With().Str("message_id", d.MessageID).Int("delivery_count", d.DeliveryCount).Logger()

	req, shape, err := jobs.NormalizeRequest(d.Body)
	if err != nil {
		var formatErr *jobs.FormatError
		if errors.As(err, &formatErr) && formatErr.JobID != "" {
			log = log.With().Str("job_id", formatErr.JobID).Logger()
			reason := fmt.Sprintf("invalid generate message: %s", formatErr.Reason)
			if pubErr := w.publish(ctx, domain.GenerationResult{JobID: formatErr.JobID, Error: &reason}); pubErr != nil {
				log.Error().Err(pubErr).Msg("worker: could not report malformed request")
			}
		}
		log.Error().Err(err).Msg("worker: rejecting malformed request")
		return jobs.Settle(log, d, jobs.DecisionDeadLetter)
	}
	log = log.With().Str("job_id", req.JobID).Str("shape", string(shape)).Logger()
	log.Info().Int("prompt_chars", len([]rune(req.Prompt))).Msg("worker: generating")

	result := domain.GenerationResult{JobID: req.JobID}
	out, genErr := w.gen.Generate(ctx, req)
	if genErr != nil {
		log.Error().Err(genErr).Msg("worker: generation failed")
		reason := fmt.Sprintf("generation service error: %v", genErr)
		result.Error = &reason
	} else {
		result.ResultText = &out.Text
		result.ResultArtifactPath = &out.ArtifactPath
	}

	if err := w.publish(ctx, result); err != nil {
		decision := jobs.DecisionDeadLetter
		if d.DeliveryCount == 0 && ctx.Err() == nil {
			decision = jobs.DecisionRequeue
		}
		log.Error().Err(err).Str("decision", string(decision)).Msg("worker: result publish failed")
		return jobs.Settle(log, d, decision)
	}
	log.Info().Bool("failed", result.Failed()).Msg("worker: result sent")
	return jobs.Settle(log, d, jobs.DecisionAck)
}

type envelope struct {
	Pattern string                  `json:"pattern"`
	Data    domain.GenerationResult `json:"data"`
}

func (w *Worker) publish(ctx context.Context, res domain.GenerationResult) error {
	body, err := json.Marshal(envelope{Pattern: resultPattern, Data: res})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return backoff.Run(ctx, w.policy, func(ctx context.Context) error {
		return w.broker.Publish(ctx, w.opts.ResultQueue, rabbitmq.Message{
			MessageID: res.JobID,
			Body:      body,
			Headers:   map[string]any{"pattern": resultPattern},
		})
	})
}

// retryResultPublish retries connection, timeout, temporary and unavailable
// failures only.
func retryResultPublish(err error, _ int) bool {
	if errors.Is(err, context.Canceled) || rabbitmq.IsMisconfiguration(err) {
		return false
	}
	if rabbitmq.IsTransient(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{"connection", "timeout", "temporary", "unavailable"} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
