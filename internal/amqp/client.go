package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"presupuesto/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

// ExchangeKind fans every refresh out to all bound queues, one per server
// instance.
const ExchangeKind = amqp091.ExchangeFanout

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// Publisher is the part of the client the refresh worker depends on.
type Publisher interface {
	PublishRefresh(ctx context.Context, msg *RefreshMessage) error
}

// Client publishes and consumes refresh notifications on a fanout exchange.
// Each consumer owns an exclusive, auto-deleted queue so every instance sees
// every refresh. The connection is re-established lazily after broker
// failures, and publishing is refused while the circuit breaker is open.
type Client struct {
	url          string
	exchangeName string
	// queueName is this instance's queue. It is only declared by consumers.
	queueName    string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	failMu       sync.Mutex
	lastFailure  time.Time
}

// NewClient dials the broker and declares the exchange. queuePrefix names the
// instance queue declared when consuming.
func NewClient(url, exchangeName, queuePrefix string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    InstanceQueueName(queuePrefix),
		logger:       logger.WithComponent(log.ComponentAMQP),
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if err := client.connectLocked(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) logs() *log.Logger {
	if c.logger == nil {
		return log.Discard()
	}
	return c.logger
}

func (c *Client) connectLocked() error {
	c.closeLocked()

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.channel = channel
	if err := c.setup(); err != nil {
		c.closeLocked()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	return nil
}

// InstanceQueueName returns a queue name unique to one process.
func InstanceQueueName(prefix string) string {
	return prefix + "." + uuid.NewString()[:8]
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		ExchangeKind,   // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}

// declareInstanceQueue creates this instance's queue and binds it to the
// exchange. The queue lives as long as the connection.
func (c *Client) declareInstanceQueue(ch *amqp091.Channel) error {
	_, err := ch.QueueDeclare(
		c.queueName, // name
		false,       // durable
		true,        // delete when unused
		true,        // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Fanout exchanges ignore the routing key.
	if err := ch.QueueBind(c.queueName, "", c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// ensureChannel returns an open channel, reconnecting when the previous one
// was closed by the broker.
func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c.channel, nil
}

func (c *Client) resetChannel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// PublishRefresh publishes a refresh notification.
func (c *Client) PublishRefresh(ctx context.Context, msg *RefreshMessage) error {
	if c.isCircuitOpen() {
		return errors.New("circuit breaker is open: broker unavailable")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch, err := c.ensureChannel()
	if err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		"",             // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Transient,
			MessageId:    msg.RunID,
			Type:         msg.Type,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.resetChannel()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.logs().InfoContext(ctx, "Published refresh message",
		log.FieldOperation, log.OpPublish,
		log.FieldRunID, msg.RunID,
		log.FieldFallback, msg.Fallback,
		"exchange", c.exchangeName)
	return nil
}

// ConsumeRefresh delivers refresh messages to handler until ctx is done.
// Lost connections are re-established with exponential backoff. Messages
// that do not decode are dropped; handler failures are requeued.
func (c *Client) ConsumeRefresh(ctx context.Context, handler func(context.Context, *RefreshMessage) error) error {
	attempt := 0
	for {
		started, err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			c.logs().InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		}
		if !isConnectionError(err) {
			return err
		}
		if started {
			attempt = 0
		}

		wait := exponentialBackoff(attempt)
		attempt++
		c.logs().WarnContext(ctx, "Broker connection lost, reconnecting",
			log.FieldError, err,
			"attempt", attempt,
			"backoff", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		c.resetChannel()
	}
}

func (c *Client) consumeOnce(ctx context.Context, handler func(context.Context, *RefreshMessage) error) (bool, error) {
	ch, err := c.ensureChannel()
	if err != nil {
		return false, err
	}
	if err := c.declareInstanceQueue(ch); err != nil {
		return false, err
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		true,        // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return false, fmt.Errorf("start consuming: %w", err)
	}

	c.logs().InfoContext(ctx, "Started consuming refresh messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return true, errDeliveriesClosed
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler func(context.Context, *RefreshMessage) error) {
	msg, err := RefreshMessageFromJSON(delivery.Body)
	if err != nil {
		c.logs().ErrorContext(ctx, "Failed to decode message", log.FieldError, err)
		delivery.Nack(false, false)
		return
	}

	if err := handler(ctx, msg); err != nil {
		c.logs().ErrorContext(ctx, "Failed to handle message",
			log.FieldError, err,
			log.FieldRunID, msg.RunID)
		delivery.Nack(false, true)
		return
	}

	delivery.Ack(false)
	c.logs().InfoContext(ctx, "Processed refresh message",
		log.FieldOperation, log.OpConsume,
		log.FieldRunID, msg.RunID)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	if errors.Is(err, amqp091.ErrClosed) {
		err = nil
	}
	return err
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.failMu.Lock()
	last := c.lastFailure
	c.failMu.Unlock()

	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()

	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) || errors.Is(err, errDeliveriesClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "closed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
