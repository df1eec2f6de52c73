package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"campaign/internal/backoff"
	"campaign/internal/domain"
	"campaign/internal/infra/rabbitmq"
)

var (
	// ErrPublishFailed marks every error returned by Publisher.Publish.
	ErrPublishFailed = errors.New("publish failed")
	// ErrInvalidRequest is a payload the broker must never see. It is not retried.
	ErrInvalidRequest = errors.New("invalid generation request")
)

// PublishFailedError carries the last cause of a failed publish.
type PublishFailedError struct {
	JobID string
	Err   error
}

func (e *PublishFailedError) Error() string {
	return fmt.Sprintf("publish generation request for job %s: %v", e.JobID, e.Err)
}

func (e *PublishFailedError) Unwrap() []error {
	return []error{ErrPublishFailed, e.Err}
}

// MessagePublisher is the broker boundary the publisher needs. The
// implementation must be safe for concurrent use.
type MessagePublisher interface {
	Publish(ctx context.Context, queue string, msg rabbitmq.Message) error
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	Queue   string
	Policy  backoff.Policy
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Publisher hands generation requests to the durable generate queue, retrying
// transient broker failures.
type Publisher struct {
	broker  MessagePublisher
	queue   string
	policy  backoff.Policy
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPublisher wires a publisher on top of broker.
func NewPublisher(broker MessagePublisher, opts PublisherOptions) *Publisher {
	policy := opts.Policy
	if policy.Name == "" {
		policy.Name = "publish generate"
	}
	policy.ShouldRetry = retryPublish
	if policy.Logger == nil {
		logger := opts.Logger
		policy.Logger = &logger
	}
	queue := opts.Queue
	if queue == "" {
		queue = "generate"
	}
	return &Publisher{
		broker:  broker,
		queue:   queue,
		policy:  policy,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

func retryPublish(err error, _ int) bool {
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, context.Canceled) {
		return false
	}
	return !rabbitmq.IsMisconfiguration(err)
}

// Publish sends req and returns only once the broker confirmed it. Every
// failure, including an exhausted retry budget, is a *PublishFailedError.
func (p *Publisher) Publish(ctx context.Context, req domain.GenerationRequest) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	err := backoff.Run(ctx, p.policy, func(ctx context.Context) error {
		body, err := encodeRequest(req)
		if err != nil {
			return err
		}
		return p.broker.Publish(ctx, p.queue, rabbitmq.Message{
			MessageID: req.JobID,
			Body:      body,
			Headers:   map[string]any{"pattern": p.queue},
		})
	})
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", req.JobID).Msg("publisher: giving up")
		return &PublishFailedError{JobID: req.JobID, Err: err}
	}
	p.logger.Info().Str("job_id", req.JobID).Str("queue", p.queue).Msg("publisher: request queued")
	return nil
}

func encodeRequest(req domain.GenerationRequest) ([]byte, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return nil, fmt.Errorf("%w: job id is empty", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is empty", ErrInvalidRequest)
	}
	if !utf8.ValidString(req.Prompt) {
		return nil, fmt.Errorf("%w: prompt is not valid UTF-8", ErrInvalidRequest)
	}
	if n := utf8.RuneCountInString(req.Prompt); n > domain.MaxPromptLength {
		return nil, fmt.Errorf("%w: prompt has %d characters, limit is %d", ErrInvalidRequest, n, domain.MaxPromptLength)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return body, nil
}
