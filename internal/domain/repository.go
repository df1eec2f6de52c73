package domain

import "context"

// JobRepository defines persistence for job entities. Implementations own the
// rows exclusively and serialize transitions per job id.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// Transition applies u only when the stored status can move to u.Status.
	// It returns the row as stored after the call and whether this call
	// changed it. A job already in a terminal state, or already in u.Status,
	// is left untouched and reported with applied == false and a nil error.
	Transition(ctx context.Context, jobID string, u JobUpdate) (job *Job, applied bool, err error)
}
