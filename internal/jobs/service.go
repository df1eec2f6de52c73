package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"campaign/internal/domain"
)

const statusWriteTimeout = 10 * time.Second

// RequestPublisher hands a generation request to the broker.
type RequestPublisher interface {
	Publish(ctx context.Context, req domain.GenerationRequest) error
}

type createJobInput struct {
	RequesterID string `validate:"required,max=255"`
	Prompt      string `validate:"required,max=2000"`
}

// Service owns the job lifecycle on the request path: create, publish, and
// record the publish outcome.
type Service struct {
	repo      domain.JobRepository
	publisher RequestPublisher
	logger    zerolog.Logger
	validate  *validator.Validate
	now       func() time.Time
	newID     func() string
}

// NewService wires the lifecycle service.
func NewService(repo domain.JobRepository, publisher RequestPublisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// CreateJob persists a PENDING job and publishes its generation request. The
// returned job is PROCESSING when the broker confirmed the request and FAILED
// (with the publish error as reason) otherwise. An error is returned only for
// invalid input or when the job could not be stored at all.
func (s *Service) CreateJob(ctx context.Context, requesterID, prompt string) (*domain.Job, error) {
	in := createJobInput{
		RequesterID: strings.TrimSpace(requesterID),
		Prompt:      norm.NFC.String(strings.TrimSpace(prompt)),
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	job := &domain.Job{
		ID:          s.newID(),
		RequesterID: in.RequesterID,
		Prompt:      in.Prompt,
		Status:      domain.JobStatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	log := s.logger.With().Str("job_id", job.ID).Logger()
	log.Info().Str("requester_id", job.RequesterID).Msg("jobs: created")

	pubErr := s.publisher.Publish(ctx, domain.GenerationRequest{JobID: job.ID, Prompt: job.Prompt})

	// The publish outcome must be recorded even if the caller went away.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	update := domain.Processing()
	if pubErr != nil {
		update = domain.Failed(pubErr.Error())
	}
	stored, _, err := s.repo.Transition(writeCtx, job.ID, update)
	if err != nil {
		if pubErr != nil {
			// Nothing is in flight and the row still says PENDING.
			log.Error().Err(err).AnErr("publish_error", pubErr).Msg("jobs: could not record publish failure")
			return nil, fmt.Errorf("record publish failure: %w", err)
		}
		// The request is on the queue; its result moves the job forward.
		log.Warn().Err(err).Msg("jobs: could not record PROCESSING")
		return job, nil
	}
	if pubErr != nil {
		log.Warn().Err(pubErr).Msg("jobs: publish failed, job marked FAILED")
	}
	return stored, nil
}

// GetJob returns the job with the given id or domain.ErrNotFound.
func (s *Service) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPrompt, err)
	}
	fe := verrs[0]
	target := domain.ErrInvalidPrompt
	if fe.Field() == "RequesterID" {
		target = domain.ErrInvalidRequester
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", target, strings.ToLower(fe.Field()))
	case "max":
		return fmt.Errorf("%w: %s exceeds %s characters", target, strings.ToLower(fe.Field()), fe.Param())
	}
	return fmt.Errorf("%w: %s", target, fe.Error())
}
