package jobs

import (
	"context"
	"errors"
	"net"
	"syscall"

	"campaign/internal/domain"
)

// DefaultMaxDeliveryAttempts caps how many times a result message is handed
// to the consumer before it is dead-lettered.
const DefaultMaxDeliveryAttempts = 3

// ErrorKind groups apply errors by whether another delivery could succeed.
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
	ErrorKindUnknown   ErrorKind = "unknown"
)

// Decision is how a delivery is settled with the broker.
type Decision string

const (
	DecisionAck        Decision = "ack"
	DecisionRequeue    Decision = "requeue"
	DecisionDeadLetter Decision = "dead_letter"
)

// DeliveryMeta is the broker metadata the routing decision depends on.
type DeliveryMeta struct {
	// RedeliveryCount is how many times the message was delivered before.
	RedeliveryCount int
}

// Attempt is the 1-based delivery attempt this message is on.
func (m DeliveryMeta) Attempt() int {
	if m.RedeliveryCount < 0 {
		return 1
	}
	return m.RedeliveryCount + 1
}

// ClassifyApplyError sorts an error raised while writing a result to the store.
// It is never applied to the error a worker reports inside the result.
func ClassifyApplyError(err error) ErrorKind {
	var formatErr *FormatError
	switch {
	case err == nil:
		return ErrorKindUnknown
	case errors.As(err, &formatErr),
		errors.Is(err, domain.ErrInvalidData),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotFound):
		return ErrorKindPermanent
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return ErrorKindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindTransient
	}
	return ErrorKindUnknown
}

// Decide routes a delivery whose apply step failed. The redelivery count is
// passed in explicitly with the message rather than read from ambient state.
func Decide(err error, meta DeliveryMeta, maxAttempts int) Decision {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxDeliveryAttempts
	}
	if meta.Attempt() >= maxAttempts {
		return DecisionDeadLetter
	}
	switch ClassifyApplyError(err) {
	case ErrorKindTransient:
		return DecisionRequeue
	case ErrorKindPermanent:
		return DecisionDeadLetter
	default:
		// Unknown errors get one more delivery, never more.
		if meta.RedeliveryCount <= 0 {
			return DecisionRequeue
		}
		return DecisionDeadLetter
	}
}
