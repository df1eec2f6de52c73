package rabbitmq

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNacked is returned when the broker negatively confirms a publish.
var ErrNacked = errors.New("rabbitmq: publish nacked by broker")

// IsAuthFailure reports whether err means the broker refused our credentials
// or access. These never heal on their own.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp.ErrSASL) || errors.Is(err, amqp.ErrCredentials) {
		return true
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp.AccessRefused
	}
	return false
}

// IsMisconfiguration reports broker answers that retrying cannot fix: refused
// access, or a queue declared with conflicting arguments.
func IsMisconfiguration(err error) bool {
	if IsAuthFailure(err) {
		return true
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.PreconditionFailed, amqp.NotAllowed, amqp.CommandInvalid:
			return true
		}
	}
	return false
}

// IsTransient reports network-level failures worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsMisconfiguration(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, amqp.ErrClosed) || errors.Is(err, ErrNacked) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Recover || amqpErr.Code == amqp.ConnectionForced || amqpErr.Code == amqp.ResourceError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
