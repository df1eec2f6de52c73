package repo

import (
	"fmt"

	"github.com/google/uuid"

	"campaign/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	if err := row.Scan(
		&job.ID,
		&job.RequesterID,
		&job.Prompt,
		&status,
		&job.ResultText,
		&job.ResultArtifactPath,
		&job.ErrorReason,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func validJobID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func transitionSources(u domain.JobUpdate) ([]string, error) {
	sources := domain.SourcesFor(u.Status)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: cannot move a job to %q", domain.ErrInvalidTransition, u.Status)
	}
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out, nil
}

// updateColumns keeps result fields and error reason mutually exclusive.
func updateColumns(u domain.JobUpdate) (text, path, reason *string) {
	switch u.Status {
	case domain.JobStatusCompleted:
		t, p := u.ResultText, u.ResultArtifactPath
		return &t, &p, nil
	case domain.JobStatusFailed:
		r := u.ErrorReason
		return nil, nil, &r
	}
	return nil, nil, nil
}
