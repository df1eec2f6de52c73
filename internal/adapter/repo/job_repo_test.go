package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"campaign/internal/domain"
	"campaign/internal/sqlinline"
)

type stubCall struct {
	query string
	args  []any
}

// stubExecutor answers QueryRow calls from a queue of scan functions.
type stubExecutor struct {
	calls []stubCall
	rows  []func(dest ...any) error
	err   error
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, stubCall{query: query, args: args})
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.calls = append(s.calls, stubCall{query: query, args: args})
	if len(s.rows) == 0 {
		return stubRow{}
	}
	next := s.rows[0]
	s.rows = s.rows[1:]
	return stubRow{scan: next}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

func jobRow(id string, status domain.JobStatus) func(dest ...any) error {
	return func(dest ...any) error {
		if len(dest) != 9 {
			return errors.New("unexpected column count")
		}
		*dest[0].(*string) = id
		*dest[1].(*string) = "user-1"
		*dest[2].(*string) = "beach scene"
		*dest[3].(*string) = string(status)
		*dest[7].(*time.Time) = time.Unix(0, 0)
		*dest[8].(*time.Time) = time.Unix(0, 0)
		return nil
	}
}

func noRows(...any) error { return pgx.ErrNoRows }

func TestPGTransitionApplied(t *testing.T) {
	id := uuid.NewString()
	exec := &stubExecutor{rows: []func(dest ...any) error{jobRow(id, domain.JobStatusCompleted)}}
	r := NewJobRepository(exec)

	job, applied, err := r.Transition(context.Background(), id, domain.Completed("text", "/out/1.png"))
	if err != nil {
		t.Fatalf("Transition error: %v", err)
	}
	if !applied || job.Status != domain.JobStatusCompleted {
		t.Fatalf("unexpected result applied=%v job=%+v", applied, job)
	}
	if len(exec.calls) != 1 || exec.calls[0].query != sqlinline.QTransitionJob {
		t.Fatalf("expected one transition query, got %+v", exec.calls)
	}
	args := exec.calls[0].args
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if text, ok := args[2].(*string); !ok || text == nil || *text != "text" {
		t.Fatalf("expected result text argument, got %T %v", args[2], args[2])
	}
	if reason, ok := args[4].(*string); !ok || reason != nil {
		t.Fatalf("expected nil error reason, got %v", args[4])
	}
	sources, ok := args[5].([]string)
	if !ok || len(sources) != 2 || sources[0] != "PENDING" || sources[1] != "PROCESSING" {
		t.Fatalf("unexpected source states %v", args[5])
	}
}

func TestPGTransitionNoopReturnsCurrentRow(t *testing.T) {
	id := uuid.NewString()
	exec := &stubExecutor{rows: []func(dest ...any) error{noRows, jobRow(id, domain.JobStatusFailed)}}
	r := NewJobRepository(exec)

	job, applied, err := r.Transition(context.Background(), id, domain.Completed("text", "/out/1.png"))
	if err != nil {
		t.Fatalf("Transition error: %v", err)
	}
	if applied {
		t.Fatal("expected no-op on terminal job")
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected stored FAILED status, got %s", job.Status)
	}
	if len(exec.calls) != 2 || exec.calls[1].query != sqlinline.QSelectJob {
		t.Fatalf("expected fallback select, got %+v", exec.calls)
	}
}

func TestPGTransitionUnknownJob(t *testing.T) {
	exec := &stubExecutor{rows: []func(dest ...any) error{noRows, noRows}}
	r := NewJobRepository(exec)
	if _, _, err := r.Transition(context.Background(), uuid.NewString(), domain.Processing()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGTransitionMapsConnectionFailure(t *testing.T) {
	exec := &stubExecutor{rows: []func(dest ...any) error{func(...any) error {
		return &pgconn.PgError{Code: "08006", Message: "connection failure"}
	}}}
	r := NewJobRepository(exec)
	_, _, err := r.Transition(context.Background(), uuid.NewString(), domain.Failed("x"))
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestPGCreateMapsConstraintViolation(t *testing.T) {
	exec := &stubExecutor{err: &pgconn.PgError{Code: "23514", Message: "check violation"}}
	r := NewJobRepository(exec)
	err := r.Create(context.Background(), &domain.Job{ID: uuid.NewString(), Status: domain.JobStatusPending})
	if !errors.Is(err, domain.ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
	if len(exec.calls) != 1 || exec.calls[0].query != sqlinline.QInsertJob {
		t.Fatalf("expected insert query, got %+v", exec.calls)
	}
}

func TestPGGetByIDRejectsMalformedID(t *testing.T) {
	exec := &stubExecutor{}
	r := NewJobRepository(exec)
	if _, err := r.GetByID(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("expected no query for malformed id, got %d", len(exec.calls))
	}
}

func TestPGErrorPassesThroughUnknown(t *testing.T) {
	boom := errors.New("boom")
	if err := pgError(boom); err != boom {
		t.Fatalf("expected passthrough, got %v", err)
	}
	if err := pgError(&pgconn.PgError{Code: "42P01"}); errors.Is(err, domain.ErrInvalidData) || errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("undefined_table should stay unclassified, got %v", err)
	}
}
