package repo

import (
	"context"
	"fmt"
	"time"

	"campaign/internal/domain"
	"campaign/internal/infra"
	"campaign/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// EnsureSchema creates the jobs table when it does not exist yet.
func (r *JobRepositoryPG) EnsureSchema(ctx context.Context) error {
	_, err := r.sql.Exec(ctx, sqlinline.QCreateJobsTable)
	return pgError(err)
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	_, err := r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.RequesterID,
		job.Prompt,
		string(job.Status),
		job.CreatedAt,
	)
	return pgError(err)
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if !validJobID(jobID) {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, pgError(err)
	}
	return job, nil
}

// Transition applies u when the lattice allows it, in a single conditional
// update keyed on the job id.
func (r *JobRepositoryPG) Transition(ctx context.Context, jobID string, u domain.JobUpdate) (*domain.Job, bool, error) {
	sources, err := transitionSources(u)
	if err != nil {
		return nil, false, err
	}
	if !validJobID(jobID) {
		return nil, false, domain.ErrNotFound
	}
	text, path, reason := updateColumns(u)
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QTransitionJob,
		jobID,
		string(u.Status),
		text,
		path,
		reason,
		sources,
	))
	if err == nil {
		return job, true, nil
	}
	if !infra.IsNoRows(err) {
		return nil, false, fmt.Errorf("transition job: %w", pgError(err))
	}
	current, err := r.GetByID(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
