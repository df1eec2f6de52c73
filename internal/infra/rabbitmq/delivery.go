package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Acknowledger settles a delivery with the broker.
type Acknowledger interface {
	Ack() error
	// Nack rejects the delivery. requeue=false routes it to the queue's
	// dead-letter exchange.
	Nack(requeue bool) error
}

// Delivery is an inbound message with its broker metadata made explicit.
type Delivery struct {
	Body      []byte
	MessageID string
	// DeliveryCount is the number of earlier deliveries of this message.
	DeliveryCount int
	Acknowledger
}

type amqpAcknowledger struct {
	d amqp.Delivery
}

func (a amqpAcknowledger) Ack() error {
	return a.d.Ack(false)
}

func (a amqpAcknowledger) Nack(requeue bool) error {
	return a.d.Nack(false, requeue)
}

func newDelivery(d amqp.Delivery) Delivery {
	return Delivery{
		Body:          d.Body,
		MessageID:     d.MessageId,
		DeliveryCount: DeliveryCount(d.Headers, d.Redelivered),
		Acknowledger:  amqpAcknowledger{d: d},
	}
}

// DeliveryCount reads the redelivery count the broker attached to a message.
// Quorum queues set x-delivery-count. On classic queues the count is an
// x-retry-count header set by republishing producers, plus one when the
// redelivered flag is up.
func DeliveryCount(headers amqp.Table, redelivered bool) int {
	if n, ok := headerInt(headers, "x-delivery-count"); ok {
		return n
	}
	n, _ := headerInt(headers, "x-retry-count")
	if redelivered {
		n++
	}
	return n
}

func headerInt(headers amqp.Table, key string) (int, bool) {
	if headers == nil {
		return 0, false
	}
	switch v := headers[key].(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	}
	return 0, false
}
