package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"feedbackd/internal/core"
	"feedbackd/internal/feedback"
	"feedbackd/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// Config names the broker objects the client declares.
type Config struct {
	URL                string
	Exchange           string
	RequestQueue       string
	ResolvedRoutingKey string
}

// Client consumes feedback requests and publishes resolved events.
type Client struct {
	url                string
	exchangeName       string
	queueName          string
	resolvedRoutingKey string
	logger             *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time

	// fullBackoff spaces out redeliveries while the queue is at capacity.
	// Only the consume loop touches it.
	fullBackoff backoff.BackOff
}

// Handler processes one decoded intake message.
type Handler func(ctx context.Context, msg *FeedbackRequestMessage) error

// Enqueuer is the part of the queue the intake consumer needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, merchant string, charge decimal.Decimal) (string, error)
}

func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	c := &Client{
		url:                cfg.URL,
		exchangeName:       cfg.Exchange,
		queueName:          cfg.RequestQueue,
		resolvedRoutingKey: cfg.ResolvedRoutingKey,
		logger:             logger.WithComponent(log.ComponentAMQP),
		fullBackoff:        newQueueFullBackOff(),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()
	return nil
}

func (c *Client) setup(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key equals the queue name for the direct exchange.
	err = ch.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishFeedbackResolved publishes a persistent feedback.resolved event.
func (c *Client) PublishFeedbackResolved(ctx context.Context, result core.FeedbackResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish feedback %s: circuit breaker is open", result.Request.ID)
	}

	body, err := NewFeedbackResolvedMessage(result).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil || ch.IsClosed() {
		c.recordFailure()
		return fmt.Errorf("publish feedback %s: channel not open", result.Request.ID)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		pubCtx,
		c.exchangeName,       // exchange
		c.resolvedRoutingKey, // routing key
		false,                // mandatory
		false,                // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			MessageId:    result.Request.ID,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.logger.DebugContext(ctx, "Published feedback resolved event",
		log.FieldFeedbackID, result.Request.ID,
		"exchange", c.exchangeName,
		"routing_key", c.resolvedRoutingKey)
	return nil
}

// FeedbackResolved implements feedback.ResolveListener
func (c *Client) FeedbackResolved(ctx context.Context, result core.FeedbackResult) error {
	return c.PublishFeedbackResolved(ctx, result)
}

// ConsumeFeedbackRequests delivers intake messages to handler until ctx is
// done, reconnecting with exponential backoff when the broker goes away.
func (c *Client) ConsumeFeedbackRequests(ctx context.Context, handler Handler) error {
	for {
		err := c.consume(ctx, handler)
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		}
		if !isConnectionError(err) {
			return err
		}

		c.logger.WarnContext(ctx, "Consumer lost connection, reconnecting", log.FieldError, err)
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) consume(ctx context.Context, handler Handler) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return errors.New("connection closed")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming feedback requests", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

// handleDelivery acks on success. Malformed messages are dropped; other
// handler errors are requeued. A full queue holds the delivery back with
// growing delays so the broker does not redeliver it in a tight loop.
func (c *Client) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler Handler) {
	msg, err := FeedbackRequestMessageFromJSON(delivery.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to decode feedback request", log.FieldError, err)
		_ = delivery.Nack(false, false)
		return
	}

	err = handler(ctx, msg)
	switch {
	case err == nil:
		c.fullBackoff.Reset()
		_ = delivery.Ack(false)
	case errors.Is(err, core.ErrQueueFull):
		wait := c.fullBackoff.NextBackOff()
		c.logger.WarnContext(ctx, "Feedback queue full, delaying redelivery",
			log.FieldMerchant, *msg.Merchant,
			"retry_in", wait)
		sleepCtx(ctx, wait)
		_ = delivery.Nack(false, true)
	default:
		requeue := !errors.Is(err, core.ErrInvalidInput)
		c.logger.ErrorContext(ctx, "Failed to handle feedback request",
			log.FieldError, err,
			log.FieldMerchant, *msg.Merchant,
			"requeue", requeue)
		_ = delivery.Nack(false, requeue)
	}
}

func newQueueFullBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = openTimeout
	b.MaxElapsedTime = 0
	return b
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	c.closeConn()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = openTimeout
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(c.connect, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "AMQP reconnect failed", log.FieldError, err, "retry_in", wait)
	})
}

// EnqueueHandler feeds intake messages into the queue.
func EnqueueHandler(q Enqueuer) Handler {
	return func(ctx context.Context, msg *FeedbackRequestMessage) error {
		_, err := q.Enqueue(ctx, *msg.Merchant, *msg.Charge)
		return err
	}
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.mu.Lock()
		last := c.lastFailure
		c.mu.Unlock()
		if time.Since(last) > openTimeout {
			atomic.StoreInt32(&c.state, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel closed", "channel not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.closeConn()
	return nil
}

var _ feedback.ResolveListener = (*Client)(nil)
