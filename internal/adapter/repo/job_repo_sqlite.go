package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"campaign/internal/domain"
	"campaign/internal/infra"
	"campaign/internal/sqlinline"
)

// JobRepositorySQLite implements domain.JobRepository on an embedded SQLite
// database. It backs single-node deployments and the store tests.
type JobRepositorySQLite struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewJobRepositorySQLite wraps an open database handle.
func NewJobRepositorySQLite(db *sql.DB, logger zerolog.Logger) *JobRepositorySQLite {
	return &JobRepositorySQLite{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (r *JobRepositorySQLite) query(query string) string {
	marker, body, err := infra.SplitMarker(query)
	if err != nil {
		// Unmarked constants are caught by sqllint; run them as-is.
		return query
	}
	r.logger.Debug().Str("sql", marker).Msg("sqlite: exec")
	return body
}

// EnsureSchema creates the jobs table when it does not exist yet.
func (r *JobRepositorySQLite) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, r.query(sqlinline.QCreateJobsTableSQLite))
	return sqliteError(err)
}

// Create inserts a new job record.
func (r *JobRepositorySQLite) Create(ctx context.Context, job *domain.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.now()
	}
	job.UpdatedAt = job.CreatedAt
	_, err := r.db.ExecContext(ctx, r.query(sqlinline.QInsertJobSQLite),
		job.ID,
		job.RequesterID,
		job.Prompt,
		string(job.Status),
		job.CreatedAt,
		job.UpdatedAt,
	)
	return sqliteError(err)
}

// GetByID fetches a job by its identifier.
func (r *JobRepositorySQLite) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if !validJobID(jobID) {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.db.QueryRowContext(ctx, r.query(sqlinline.QSelectJobSQLite), jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, sqliteError(err)
	}
	return job, nil
}

// Transition applies u when the lattice allows it. SQLite serializes writers,
// so the conditional update is atomic per job.
func (r *JobRepositorySQLite) Transition(ctx context.Context, jobID string, u domain.JobUpdate) (*domain.Job, bool, error) {
	sources, err := transitionSources(u)
	if err != nil {
		return nil, false, err
	}
	if !validJobID(jobID) {
		return nil, false, domain.ErrNotFound
	}
	text, path, reason := updateColumns(u)
	job, err := scanJob(r.db.QueryRowContext(ctx, r.query(sqlinline.QTransitionJobSQLite),
		string(u.Status),
		text,
		path,
		reason,
		r.now(),
		jobID,
		sources[0],
		sources[len(sources)-1],
	))
	if err == nil {
		return job, true, nil
	}
	if !infra.IsNoRows(err) {
		return nil, false, fmt.Errorf("transition job: %w", sqliteError(err))
	}
	current, err := r.GetByID(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

var _ domain.JobRepository = (*JobRepositorySQLite)(nil)
