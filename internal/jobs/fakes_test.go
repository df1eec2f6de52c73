package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"campaign/internal/domain"
	"campaign/internal/infra/rabbitmq"
)

// memRepo is an in-memory domain.JobRepository following the same lattice
// rules as the SQL implementations.
type memRepo struct {
	mu        sync.Mutex
	jobs      map[string]domain.Job
	updates   []domain.JobUpdate
	createErr error
	// fail, when set, is consulted before every transition.
	fail  func(u domain.JobUpdate) error
	clock int64
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[string]domain.Job)}
}

func (r *memRepo) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	job.UpdatedAt = job.CreatedAt
	r.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (r *memRepo) Transition(ctx context.Context, jobID string, u domain.JobUpdate) (*domain.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	if r.fail != nil {
		if err := r.fail(u); err != nil {
			return nil, false, err
		}
	}
	if len(domain.SourcesFor(u.Status)) == 0 {
		return nil, false, domain.ErrInvalidTransition
	}
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if !j.Status.CanTransitionTo(u.Status) {
		return &j, false, nil
	}
	r.clock++
	j = j.Apply(u, time.Unix(r.clock, 0))
	r.jobs[jobID] = j
	return &j, true, nil
}

func (r *memRepo) seed(status domain.JobStatus) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.jobs[id] = domain.Job{ID: id, RequesterID: "user-1", Prompt: "beach scene", Status: status}
	return id
}

func (r *memRepo) job(id string) domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func (r *memRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

// fakeAck records how a delivery was settled.
type fakeAck struct {
	mu     sync.Mutex
	acks   int
	nacks  []bool
	ackErr error
}

func (a *fakeAck) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return a.ackErr
}

func (a *fakeAck) Nack(requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, requeue)
	return nil
}

func (a *fakeAck) settled() (acks int, nacks []bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, append([]bool(nil), a.nacks...)
}

func newDelivery(body string, count int) (rabbitmq.Delivery, *fakeAck) {
	ack := &fakeAck{}
	return rabbitmq.Delivery{Body: []byte(body), MessageID: "msg-1", DeliveryCount: count, Acknowledger: ack}, ack
}

// fakeBroker records publishes and returns queued errors.
type fakeBroker struct {
	mu       sync.Mutex
	errs     []error
	always   error
	calls    int
	messages []rabbitmq.Message
	queues   []string
}

func (b *fakeBroker) Publish(ctx context.Context, queue string, msg rabbitmq.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.always != nil {
		return b.always
	}
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return err
		}
	}
	b.messages = append(b.messages, msg)
	b.queues = append(b.queues, queue)
	return nil
}
