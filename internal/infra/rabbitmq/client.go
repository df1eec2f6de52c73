// Package rabbitmq owns the broker connection: topology, confirmed publishes
// and consumer channels.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"campaign/internal/backoff"
)

const (
	dialTimeout = 10 * time.Second
	heartbeat   = 10 * time.Second
)

// Topology names the queues and dead-letter routing this service relies on.
type Topology struct {
	GenerateQueue        string
	ResultQueue          string
	DeadLetterExchange   string
	DeadLetterRoutingKey string
	DeadLetterQueue      string
}

// GenerateDeadLetterKey is the routing key used for rejected generate messages.
func (t Topology) GenerateDeadLetterKey() string {
	return t.GenerateQueue + ".dead"
}

// Options configures a Client.
type Options struct {
	URL           string
	Topology      Topology
	ConnectPolicy backoff.Policy
	Logger        zerolog.Logger
}

// Client is the single long-lived broker connection shared by publishers and
// consumers. Publishes go through one confirm-mode channel; each consumer gets
// its own channel. The connection state is guarded by a one-slot semaphore so
// every caller can give up waiting when its context ends.
type Client struct {
	url      string
	topology Topology
	policy   backoff.Policy
	logger   zerolog.Logger

	sem  *semaphore.Weighted
	conn *amqp.Connection
	pub  *amqp.Channel
}

// NewClient builds a client. It does not connect; call Connect.
func NewClient(opts Options) *Client {
	policy := opts.ConnectPolicy
	if policy.Name == "" {
		policy.Name = "rabbitmq connect"
	}
	prev := policy.ShouldRetry
	policy.ShouldRetry = func(err error, attempt int) bool {
		if IsMisconfiguration(err) {
			return false
		}
		return prev == nil || prev(err, attempt)
	}
	if policy.Logger == nil {
		logger := opts.Logger
		policy.Logger = &logger
	}
	return &Client{
		url:      opts.URL,
		topology: opts.Topology,
		policy:   policy,
		logger:   opts.Logger,
		sem:      semaphore.NewWeighted(1),
	}
}

func (c *Client) lock(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("rabbitmq: wait for connection: %w", err)
	}
	return nil
}

func (c *Client) unlock() {
	c.sem.Release(1)
}

// Topology returns the configured queue names.
func (c *Client) Topology() Topology {
	return c.topology
}

// Ping reports whether the connection and publish channel are open. It does
// not reconnect.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	if !c.healthyLocked() {
		return fmt.Errorf("rabbitmq: %w", amqp.ErrClosed)
	}
	return ctx.Err()
}

// Connect establishes the connection, declares the topology and opens the
// publish channel, retrying with the connect policy. Authentication failures
// are returned at once. The client is only locked during each attempt, not
// while waiting between them.
func (c *Client) Connect(ctx context.Context) error {
	return backoff.Run(ctx, c.policy, func(ctx context.Context) error {
		if err := c.lock(ctx); err != nil {
			return err
		}
		defer c.unlock()
		return c.connectLocked(ctx)
	})
}

// connectLocked makes a single connection attempt when the current one is
// gone. Publish and Consume rely on it so their callers' policies pace retries.
func (c *Client) connectLocked(ctx context.Context) error {
	if c.healthyLocked() {
		return nil
	}
	c.closeLocked()
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch, c.topology); err != nil {
		conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	c.conn, c.pub = conn, ch
	c.logger.Info().Str("generate_queue", c.topology.GenerateQueue).Str("result_queue", c.topology.ResultQueue).Msg("rabbitmq: connected")
	return nil
}

// dial opens the AMQP connection with the TCP dial and the handshake both
// bounded by ctx.
func (c *Client) dial(ctx context.Context) (*amqp.Connection, error) {
	var stop func() bool
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: dialTimeout}
			nc, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// The library clears this deadline once the handshake completes.
			deadline := time.Now().Add(dialTimeout)
			if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
				deadline = ctxDeadline
			}
			if err := nc.SetDeadline(deadline); err != nil {
				nc.Close()
				return nil, err
			}
			stop = context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
			return nc, nil
		},
	})
	if stop != nil && !stop() && err == nil {
		// ctx ended during the handshake and may have poisoned the deadline.
		conn.Close()
		return nil, ctx.Err()
	}
	return conn, err
}

func (c *Client) healthyLocked() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.pub != nil && !c.pub.IsClosed()
}

func (c *Client) closeLocked() {
	if c.pub != nil {
		_ = c.pub.Close()
		c.pub = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func declareTopology(ch *amqp.Channel, t Topology) error {
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.DeadLetterExchange, err)
	}
	deadQueues := map[string]string{
		t.DeadLetterQueue:         t.DeadLetterRoutingKey,
		t.GenerateDeadLetterKey(): t.GenerateDeadLetterKey(),
	}
	for queue, key := range deadQueues {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, key, t.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	generateArgs := amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": t.GenerateDeadLetterKey(),
	}
	if _, err := ch.QueueDeclare(t.GenerateQueue, true, false, false, false, generateArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.GenerateQueue, err)
	}
	if _, err := ch.QueueDeclare(t.ResultQueue, true, false, false, false, resultQueueArgs(t)); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.ResultQueue, err)
	}
	return nil
}

func resultQueueArgs(t Topology) amqp.Table {
	// Quorum queues count redeliveries in x-delivery-count.
	return amqp.Table{
		amqp.QueueTypeArg:           amqp.QueueTypeQuorum,
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": t.DeadLetterRoutingKey,
	}
}

// Message is an outbound message.
type Message struct {
	MessageID string
	Body      []byte
	Headers   map[string]any
}

// Publish sends msg to queue through the default exchange as a persistent
// message and waits for the broker confirm. A dropped connection gets one
// reconnect attempt first. Publish makes a single attempt; callers wrap it in
// a backoff policy. Waiting for the client, dialing and awaiting the confirm
// all end with ctx.
func (c *Client) Publish(ctx context.Context, queue string, msg Message) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	if err := c.connectLocked(ctx); err != nil {
		c.unlock()
		return err
	}
	confirm, err := c.pub.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table(msg.Headers),
		Body:         msg.Body,
	})
	c.unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	if confirm == nil {
		return nil
	}
	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm from %s: %w", queue, err)
	}
	if !ok {
		return ErrNacked
	}
	return nil
}

// Consume opens a dedicated channel with the given prefetch and starts a
// manual-ack consumer on queue. A dropped connection gets one reconnect
// attempt. The returned channel closes when the broker connection or channel
// goes away; call Consume again to resume.
func (c *Client) Consume(ctx context.Context, queue, tag string, prefetch int) (<-chan Delivery, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	if err := c.connectLocked(ctx); err != nil {
		c.unlock()
		return nil, err
	}
	conn := c.conn
	c.unlock()

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	raw, err := ch.ConsumeWithContext(ctx, queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for d := range raw {
			select {
			case out <- newDelivery(d):
			case <-ctx.Done():
				// Unsettled deliveries go back to the queue when the channel closes.
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	if err := c.lock(context.Background()); err != nil {
		return err
	}
	defer c.unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.pub = nil, nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
